// Package ir provides the canonical record types shared by every stage of a
// kmeval run.
//
// This package contains type definitions and content identity only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Durations are float64 seconds, timestamps are timezone-aware time.Time
//   - Identifiers are strings on the Go side even when the collector wrote
//     JSON integers
//   - All JSON tags use snake_case and match the collector's field names
//   - Content identity is computed from canonical JSON (see canonical.go),
//     never from Go's default encoding
package ir
