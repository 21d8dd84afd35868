package mongoneo

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrConnectionAlreadyRegistered = errors.New("db: connection already registered")

	ErrConnectionNotFound = errors.New("db: connection not registered")

	ErrConnectionCheckFailed = errors.New("db: status check failed")

	ErrTransactionsUnsupported = errors.New("db: connection does not support transactions")
)

var (
	ErrNotRegistered = errors.New("registry: model not registered")

	ErrDocumentNotFound = errors.New("odm: document not found")

	ErrMissingIDField = errors.New("odm: model has no ID field")
)

// ConfigurationError reports an invalid model declaration, e.g. registering a
// subtype under a parent that does not allow inheritance.
type ConfigurationError struct {
	Model  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("registry: invalid configuration for model %s: %s", e.Model, e.Reason)
}

// SchemaMismatchError reports a stored document whose discriminator has no
// registered model definition. It is returned to the caller rather than
// skipped, so that data-model drift surfaces instead of being masked.
type SchemaMismatchError struct {
	Collection    string
	Discriminator string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("odm: no registered model for discriminator %q in collection %q", e.Discriminator, e.Collection)
}

// ValidationError wraps the error returned by a model's Validate hook.
type ValidationError struct {
	Model string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("odm: validation failed for model %s: %v", e.Model, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
