package licensing

import "context"

// Validator reports whether the installation's license currently
// permits licensed operations. Callers must not cache the result.
type Validator interface {
	Valid(ctx context.Context) bool
}

// StaticValidator is a Validator with a fixed answer. Self-hosted
// deployments run with an always-valid instance.
type StaticValidator struct {
	valid bool
}

// NewStaticValidator returns a Validator that always reports v.
func NewStaticValidator(v bool) *StaticValidator {
	return &StaticValidator{valid: v}
}

// Valid implements Validator.
func (s *StaticValidator) Valid(context.Context) bool {
	return s.valid
}
