package cartrush

import "errors"

// targetConfig holds mutable state during target construction.
type targetConfig struct {
	contractCode string
	quantity     int
}

// TargetOption is a function that configures a [Target] during construction.
//
// Options return an error if validation fails.
type TargetOption func(*targetConfig) error

// WithContractCode sets the two-letter contract (state) code.
//
// Returns an error unless code is two upper-case letters.
func WithContractCode(code string) TargetOption {
	return func(cfg *targetConfig) error {
		if !contractCode.MatchString(code) {
			return errors.New("contract code must be two upper-case letters")
		}
		cfg.contractCode = code
		return nil
	}
}

// WithQuantity sets the quantity field of the add-item request. Defaults to 1.
//
// Returns an error if n is zero or negative.
func WithQuantity(n int) TargetOption {
	return func(cfg *targetConfig) error {
		if n < 1 {
			return errors.New("quantity must be positive")
		}
		cfg.quantity = n
		return nil
	}
}
