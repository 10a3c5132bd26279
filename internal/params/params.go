// Package params holds the editable run configuration. Raw text is stored
// exactly as typed; coercion to numbers happens only when a run snapshot is
// taken.
package params

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// Field names one editable run parameter. The value doubles as the JSON key
// sent to the engine.
type Field string

const (
	FieldRunLength      Field = "runLength"
	FieldNumSystems     Field = "numSystems"
	FieldMaxQueueLength Field = "maxQueueLength"
	FieldArrivalRate    Field = "arrivalRate"
)

// Fields lists every parameter in display order.
var Fields = [...]Field{
	FieldRunLength,
	FieldNumSystems,
	FieldMaxQueueLength,
	FieldArrivalRate,
}

// ParseField maps a field name to its Field.
func ParseField(name string) (Field, error) {
	clean := strings.TrimSpace(name)
	for _, f := range Fields {
		if string(f) == clean {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown parameter %q", name)
}

// Label is the human-readable name of the field.
func (f Field) Label() string {
	switch f {
	case FieldRunLength:
		return "Run length"
	case FieldNumSystems:
		return "Wash bays"
	case FieldMaxQueueLength:
		return "Max queue length"
	case FieldArrivalRate:
		return "Arrival rate"
	default:
		return string(f)
	}
}

func (f Field) valid() bool {
	for _, known := range Fields {
		if f == known {
			return true
		}
	}
	return false
}

func (f Field) isInteger() bool {
	return f != FieldArrivalRate
}

// RunParameters is a coerced snapshot of the store, ready to send.
type RunParameters struct {
	RunLength      int     `json:"runLength"`
	NumSystems     int     `json:"numSystems"`
	MaxQueueLength int     `json:"maxQueueLength"`
	ArrivalRate    float64 `json:"arrivalRate"`
}

// Defaults returns the configuration a fresh store starts with.
func Defaults() RunParameters {
	return RunParameters{
		RunLength:      500,
		NumSystems:     2,
		MaxQueueLength: 5,
		ArrivalRate:    0.6,
	}
}

// Raw renders the parameters as the text a user would type for them.
func (p RunParameters) Raw() map[Field]string {
	return map[Field]string{
		FieldRunLength:      strconv.Itoa(p.RunLength),
		FieldNumSystems:     strconv.Itoa(p.NumSystems),
		FieldMaxQueueLength: strconv.Itoa(p.MaxQueueLength),
		FieldArrivalRate:    strconv.FormatFloat(p.ArrivalRate, 'f', -1, 64),
	}
}

func (p RunParameters) String() string {
	return fmt.Sprintf("runLength=%d numSystems=%d maxQueueLength=%d arrivalRate=%s",
		p.RunLength, p.NumSystems, p.MaxQueueLength, strconv.FormatFloat(p.ArrivalRate, 'f', -1, 64))
}

// ValidationError reports a field whose raw text cannot be coerced.
type ValidationError struct {
	Field Field
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	kind := "number"
	if e.Field.isInteger() {
		kind = "whole number"
	}
	if strings.TrimSpace(e.Value) == "" {
		return fmt.Sprintf("%s is required", e.Field.Label())
	}
	return fmt.Sprintf("%s: %q is not a valid %s", e.Field.Label(), e.Value, kind)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Store keeps the raw text of every field. It is safe for concurrent use.
type Store struct {
	mu  sync.RWMutex
	raw map[Field]string
}

// NewStore returns a store seeded with Defaults.
func NewStore() *Store {
	return &Store{raw: Defaults().Raw()}
}

// Set stores raw text for one field without validating it.
func (s *Store) Set(field Field, raw string) error {
	if !field.valid() {
		return fmt.Errorf("unknown parameter %q", string(field))
	}
	s.mu.Lock()
	s.raw[field] = raw
	s.mu.Unlock()
	return nil
}

// Raw returns the text currently stored for field.
func (s *Store) Raw(field Field) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.raw[field]
}

// Values returns a copy of every raw value.
func (s *Store) Values() map[Field]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Field]string, len(s.raw))
	for k, v := range s.raw {
		out[k] = v
	}
	return out
}

// Load replaces every raw value with the text form of p.
func (s *Store) Load(p RunParameters) {
	raw := p.Raw()
	s.mu.Lock()
	s.raw = raw
	s.mu.Unlock()
}

// Snapshot coerces the stored text into RunParameters. The first field that
// fails coercion is reported as a *ValidationError. No range checks are made.
func (s *Store) Snapshot() (RunParameters, error) {
	values := s.Values()

	var out RunParameters
	for _, f := range Fields {
		raw := values[f]
		if f.isInteger() {
			n, err := parseInt(raw)
			if err != nil {
				return RunParameters{}, &ValidationError{Field: f, Value: raw, Err: err}
			}
			switch f {
			case FieldRunLength:
				out.RunLength = n
			case FieldNumSystems:
				out.NumSystems = n
			case FieldMaxQueueLength:
				out.MaxQueueLength = n
			}
			continue
		}
		v, err := parseFloat(raw)
		if err != nil {
			return RunParameters{}, &ValidationError{Field: f, Value: raw, Err: err}
		}
		out.ArrivalRate = v
	}
	return out, nil
}

func parseInt(raw string) (int, error) {
	clean := strings.TrimSpace(raw)
	if n, err := strconv.Atoi(clean); err == nil {
		return n, nil
	}
	v, err := parseFloat(clean)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) || v > math.MaxInt32 || v < math.MinInt32 {
		return 0, fmt.Errorf("%q is not a whole number", clean)
	}
	return int(v), nil
}

func parseFloat(raw string) (float64, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return 0, fmt.Errorf("empty value")
	}
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not finite", clean)
	}
	return v, nil
}
