// Package schema validates raw collector records against the embedded CUE
// schema before they are decoded into ir types.
//
// Validation collects every problem in a record rather than stopping at the
// first, so a single run of `kmeval validate` reports everything wrong with
// a file.
package schema

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"

	"github.com/roach88/kmeval/internal/ir"
)

//go:embed schema.cue
var schemaSource string

// Validation error codes (E200-E299)
const (
	ErrMalformedJSON   = "E201" // line is not a JSON object
	ErrMissingField    = "E202" // required field absent
	ErrFieldConstraint = "E203" // field present but violates the schema
	ErrUnknownKind     = "E204" // line matches neither record kind
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Kind is the record type a JSON line holds.
type Kind string

const (
	KindOutcome Kind = "outcome"
	KindEvent   Kind = "event"
)

// Schema holds the compiled definitions. A cue.Context is not safe for
// concurrent use, so every method takes the schema lock.
type Schema struct {
	mu       sync.Mutex
	ctx      *cue.Context
	outcome  cue.Value
	event    cue.Value
	metadata cue.Value
}

// New compiles the embedded schema.
func New() (*Schema, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	s := &Schema{ctx: ctx}
	for path, dst := range map[string]*cue.Value{
		"#Outcome":      &s.outcome,
		"#Event":        &s.event,
		"#TaskMetadata": &s.metadata,
	} {
		v := root.LookupPath(cue.ParsePath(path))
		if !v.Exists() {
			return nil, fmt.Errorf("schema definition %s not found", path)
		}
		*dst = v
	}
	return s, nil
}

// MustNew is like New but panics on error. The schema is embedded, so an
// error here is a build defect.
func MustNew() *Schema {
	s, err := New()
	if err != nil {
		panic(err)
	}
	return s
}

// ValidateOutcome checks one outcome record. line is reported in errors
// and may be zero.
func (s *Schema) ValidateOutcome(data []byte, line int) []ValidationError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validate(s.outcome, data, line)
}

// ValidateEvent checks one transition event.
func (s *Schema) ValidateEvent(data []byte, line int) []ValidationError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validate(s.event, data, line)
}

// ValidateMetadata checks one decoded task metadata row.
func (s *Schema) ValidateMetadata(m ir.TaskMetadata, line int) []ValidationError {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.ctx.Encode(m)
	if err := v.Err(); err != nil {
		return []ValidationError{{Field: "row", Message: err.Error(), Code: ErrFieldConstraint, Line: line}}
	}
	return s.unify(s.metadata, v, line)
}

// Detect identifies the kind of a JSONL line by which definition's
// required fields it carries, outcome first.
func (s *Schema) Detect(data []byte, line int) (Kind, []ValidationError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, errs := s.parse(data, line)
	if errs != nil {
		return "", errs
	}
	outcomeMissing := missingFields(s.outcome, v, line)
	if len(outcomeMissing) == 0 {
		return KindOutcome, nil
	}
	eventMissing := missingFields(s.event, v, line)
	if len(eventMissing) == 0 {
		return KindEvent, nil
	}
	return "", []ValidationError{{
		Field: "record",
		Message: fmt.Sprintf("not an outcome record (missing %s) nor a transition event (missing %s)",
			fieldList(outcomeMissing), fieldList(eventMissing)),
		Code: ErrUnknownKind,
		Line: line,
	}}
}

func (s *Schema) validate(def cue.Value, data []byte, line int) []ValidationError {
	v, errs := s.parse(data, line)
	if errs != nil {
		return errs
	}
	if missing := missingFields(def, v, line); len(missing) > 0 {
		return missing
	}
	return s.unify(def, v, line)
}

func (s *Schema) parse(data []byte, line int) (cue.Value, []ValidationError) {
	expr, err := cuejson.Extract("record.json", data)
	if err != nil {
		return cue.Value{}, []ValidationError{{Field: "record", Message: err.Error(), Code: ErrMalformedJSON, Line: line}}
	}
	v := s.ctx.BuildExpr(expr)
	if err := v.Err(); err != nil {
		return cue.Value{}, []ValidationError{{Field: "record", Message: err.Error(), Code: ErrMalformedJSON, Line: line}}
	}
	if v.Kind() != cue.StructKind {
		return cue.Value{}, []ValidationError{{Field: "record", Message: "expected a JSON object", Code: ErrMalformedJSON, Line: line}}
	}
	return v, nil
}

func (s *Schema) unify(def, v cue.Value, line int) []ValidationError {
	err := def.Unify(v).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		out = append(out, ValidationError{
			Field:   fieldPath(e.Path()),
			Message: fmt.Sprintf(format, args...),
			Code:    ErrFieldConstraint,
			Line:    line,
		})
	}
	return out
}

// missingFields reports every required field of def absent from v.
func missingFields(def, v cue.Value, line int) []ValidationError {
	iter, err := def.Fields()
	if err != nil {
		return []ValidationError{{Field: "schema", Message: err.Error(), Code: ErrFieldConstraint, Line: line}}
	}
	var out []ValidationError
	for iter.Next() {
		name := iter.Selector().String()
		if !v.LookupPath(cue.MakePath(iter.Selector())).Exists() {
			out = append(out, ValidationError{Field: name, Message: "required field missing", Code: ErrMissingField, Line: line})
		}
	}
	return out
}

// fieldPath renders a CUE error path as the JSON field name, dropping the
// leading definition selector (#Event, #Outcome, ...).
func fieldPath(path []string) string {
	for len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	return strings.Join(path, ".")
}

func fieldList(errs []ValidationError) string {
	names := make([]string, len(errs))
	for i, e := range errs {
		names[i] = e.Field
	}
	return strings.Join(names, ", ")
}
