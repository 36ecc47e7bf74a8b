package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Rule is a user-owned threshold condition on a single key.
type Rule struct {
	// Opaque identifier, assigned on every upsert
	ID string `json:"id"`

	// Sample key the rule watches (e.g. "bitcoin", "usgs:all_hour")
	Key string `json:"key"`

	// Owner of the rule; (Key, Owner) is unique
	Owner string `json:"owner"`

	// Triggers when value >= Above
	Above *float64 `json:"above,omitempty"`

	// Triggers when value <= Below
	Below *float64 `json:"below,omitempty"`

	// When the rule was last set
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultOwner is used when a rule is submitted without an owner.
const DefaultOwner = "default"

// Validation errors
var (
	ErrEmptyKey     = errors.New("rule key cannot be empty")
	ErrEmptyOwner   = errors.New("rule owner cannot be empty")
	ErrNoBound      = errors.New("at least one of 'above' or 'below' must be provided")
	ErrKeyTooLong   = errors.New("rule key exceeds maximum length")
	ErrInvalidBound = errors.New("rule bound must be a finite number")
)

const (
	MaxKeyLength   = 256
	MaxOwnerLength = 128
)

// Validate checks the rule has a key, an owner and at least one bound.
func (r *Rule) Validate() error {
	if r.Key == "" {
		return ErrEmptyKey
	}

	if len(r.Key) > MaxKeyLength {
		return ErrKeyTooLong
	}

	if r.Owner == "" {
		return ErrEmptyOwner
	}

	if len(r.Owner) > MaxOwnerLength {
		return fmt.Errorf("rule owner exceeds %d characters", MaxOwnerLength)
	}

	if r.Above == nil && r.Below == nil {
		return ErrNoBound
	}

	if !finite(r.Above) || !finite(r.Below) {
		return ErrInvalidBound
	}

	return nil
}

// Triggered reports whether value crosses either bound. Bounds are
// independent: one crossing is enough.
func (r *Rule) Triggered(value float64) bool {
	if r.Above != nil && value >= *r.Above {
		return true
	}
	if r.Below != nil && value <= *r.Below {
		return true
	}
	return false
}

// Condition renders the bound that value crossed, e.g. "above 50,000.00".
func (r *Rule) Condition(value float64) string {
	if r.Above != nil && value >= *r.Above {
		return "above " + FormatPrice(*r.Above)
	}
	if r.Below != nil && value <= *r.Below {
		return "below " + FormatPrice(*r.Below)
	}
	return ""
}

// Float returns a pointer to v, for building rules in code.
func Float(v float64) *float64 {
	return &v
}

func finite(v *float64) bool {
	if v == nil {
		return true
	}
	return !math.IsNaN(*v) && !math.IsInf(*v, 0)
}
