package merge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/kmeval/internal/ir"
)

// Kind names the dataset a duplicate was found in.
type Kind string

const (
	KindOutcome  Kind = "outcome"
	KindEventLog Kind = "event_log"
)

// DuplicateKeyError reports two or more inputs that share a key but differ
// in content. The key is excluded from the consolidated dataset.
type DuplicateKeyError struct {
	Kind Kind
	Key  ir.Key

	// Sources lists every input file that supplied the key, sorted.
	Sources []string
}

// Error implements the error interface.
func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("conflicting %s entries for %s in %s", e.Kind, e.Key, strings.Join(e.Sources, ", "))
}

// IsDuplicateKey returns true if err is or wraps a DuplicateKeyError.
func IsDuplicateKey(err error) bool {
	var de *DuplicateKeyError
	return errors.As(err, &de)
}
