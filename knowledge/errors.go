package knowledge

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the ingestion and retrieval paths. Callers are
// expected to branch with errors.Is.
var (
	// ErrValidation indicates bad caller input; never retried.
	ErrValidation = errors.New("knowledge: validation failed")

	// ErrProvider indicates an embedding provider failure after retries.
	ErrProvider = errors.New("knowledge: embedding provider failed")

	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("knowledge: not found")
)

func validationErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func providerErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrProvider, err)
}
