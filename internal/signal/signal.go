// Package signal defines the evidence record every probe emits for one
// criterion of one entity.
//
// Status/value contract:
//
//	NotApplicable  value absent, excluded from every sum
//	Unknown        value absent, counts toward the applicable denominator
//	Known          0 <= value <= max
package signal

import (
	"fmt"
	"math"

	"github.com/ergon73/portfolio-fit/internal/criteria"
)

// Status is the evidence status of a record.
type Status string

const (
	Known         Status = "known"
	Unknown       Status = "unknown"
	NotApplicable Status = "not_applicable"
)

// Record is one criterion's evidence for one entity.
type Record struct {
	Criterion  criteria.ID     `json:"criterion" yaml:"criterion"`
	Value      *float64        `json:"score" yaml:"score"`
	Max        float64         `json:"max_score" yaml:"max_score"`
	Status     Status          `json:"status" yaml:"status"`
	Method     criteria.Method `json:"method" yaml:"method"`
	Confidence float64         `json:"confidence" yaml:"confidence"`
	Note       string          `json:"note" yaml:"note"`
}

// ContractError reports a record whose status disagrees with its value.
// It indicates a bug in the producing probe.
type ContractError struct {
	Criterion criteria.ID
	Reason    string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("signal contract violation for %s: %s", e.Criterion, e.Reason)
}

// Validate checks the status/value contract.
func (r Record) Validate() error {
	fail := func(format string, args ...any) error {
		return &ContractError{Criterion: r.Criterion, Reason: fmt.Sprintf(format, args...)}
	}
	if !criteria.Valid(r.Criterion) {
		return fail("unknown criterion")
	}
	if r.Max < 0 || math.IsNaN(r.Max) || math.IsInf(r.Max, 0) {
		return fail("max weight %v is not a finite non-negative number", r.Max)
	}
	if r.Confidence < 0 || r.Confidence > 1 || math.IsNaN(r.Confidence) {
		return fail("confidence %v outside [0,1]", r.Confidence)
	}
	switch r.Status {
	case NotApplicable:
		if r.Value != nil {
			return fail("not_applicable record carries value %v", *r.Value)
		}
	case Unknown:
		if r.Value != nil {
			return fail("unknown record carries value %v", *r.Value)
		}
	case Known:
		if r.Value == nil {
			return fail("known record has no value")
		}
		v := *r.Value
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > r.Max {
			return fail("value %v outside [0, %v]", v, r.Max)
		}
	default:
		return fail("invalid status %q", r.Status)
	}
	return nil
}

// Score returns the value, or 0 when absent.
func (r Record) Score() float64 {
	if r.Value == nil {
		return 0
	}
	return *r.Value
}

// IsKnown reports whether the record carries a usable value.
func (r Record) IsKnown() bool {
	return r.Status == Known && r.Value != nil
}

// NewKnown builds a known record, clamping value into [0, max]. A negative
// confidence selects the method's default.
func NewKnown(id criteria.ID, value, max float64, method criteria.Method, confidence float64, note string) Record {
	if max < 0 {
		max = 0
	}
	v := math.Min(math.Max(value, 0), max)
	if confidence < 0 {
		confidence = criteria.DefaultConfidence(method)
	}
	return Record{
		Criterion:  id,
		Value:      &v,
		Max:        max,
		Status:     Known,
		Method:     method,
		Confidence: math.Min(confidence, 1),
		Note:       note,
	}
}

// NewUnknown builds a record for evidence that could not be produced.
func NewUnknown(id criteria.ID, max float64, method criteria.Method, note string) Record {
	return Record{
		Criterion:  id,
		Max:        max,
		Status:     Unknown,
		Method:     method,
		Confidence: 0,
		Note:       note,
	}
}

// NewNotApplicable builds a record for a criterion that does not apply.
func NewNotApplicable(id criteria.ID, max float64, method criteria.Method, note string) Record {
	if note == "" {
		note = "criterion not applicable for detected stack profile"
	}
	return Record{
		Criterion:  id,
		Max:        max,
		Status:     NotApplicable,
		Method:     method,
		Confidence: 1,
		Note:       note,
	}
}

// Float returns a pointer to v, for building records by hand.
func Float(v float64) *float64 {
	return &v
}
