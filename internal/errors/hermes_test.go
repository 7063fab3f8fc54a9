package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoIndexLoadedError(t *testing.T) {
	err := NoIndexLoadedError()
	assert.Equal(t, ErrCodeNoIndexLoaded, err.Code)
	assert.Equal(t, CategoryPipeline, err.Category)
	assert.Contains(t, err.Error(), "No index loaded")
	assert.NotEmpty(t, err.Suggestion)
}

func TestIntegrityError_IsFatal(t *testing.T) {
	err := IntegrityError("metadata store returned 2 rows for 3 requested ids", nil)
	assert.True(t, IsFatal(err))
	assert.Equal(t, CategoryPipeline, GetCategory(err))
}

func TestModelFailureError_IsRetryable(t *testing.T) {
	cause := errors.New("connection reset")
	err := ModelFailureError("embedding call failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeModelFailure, err.Code)
	assert.True(t, IsRetryable(err))
}

func TestIndexingError(t *testing.T) {
	err := IndexingError("scan phase failed: permission denied", nil)
	assert.Equal(t, ErrCodeIndexingError, err.Code)
	assert.Equal(t, CategoryPipeline, err.Category)
}

func TestAlreadyRunningError(t *testing.T) {
	err := AlreadyRunningError()
	assert.Equal(t, ErrCodeAlreadyRunning, err.Code)
}
