package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainOutcome  = "kmeval/outcome/v1"
	DomainEventLog = "kmeval/event_log/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// OutcomeHash computes the content identity of an outcome record.
// Source is excluded: the same record read from two files is one record.
func OutcomeHash(r OutcomeRecord) (string, error) {
	canonical, err := MarshalCanonical(r)
	if err != nil {
		return "", fmt.Errorf("OutcomeHash: %w", err)
	}
	return hashWithDomain(DomainOutcome, canonical), nil
}

// EventLogHash computes the content identity of an ordered event sequence.
func EventLogHash(events []TransitionEvent) (string, error) {
	canonical, err := MarshalCanonical(events)
	if err != nil {
		return "", fmt.Errorf("EventLogHash: %w", err)
	}
	return hashWithDomain(DomainEventLog, canonical), nil
}

// MustOutcomeHash is like OutcomeHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustOutcomeHash(r OutcomeRecord) string {
	h, err := OutcomeHash(r)
	if err != nil {
		panic(err)
	}
	return h
}
