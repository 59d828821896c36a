package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSoftOnlyMatchesCapacityExceeded(t *testing.T) {
	assert.True(t, IsSoft(NewCapacityExceeded("count cell overflow")))
	assert.False(t, IsSoft(NewInvalidArgument("bad flag")))
	assert.False(t, IsSoft(NewIoError("x.bin", errors.New("disk full"))))
	assert.False(t, IsSoft(nil))
}

func TestIsSoftSeesThroughWrapping(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), NewCapacityExceeded("boom"))
	assert.True(t, IsSoft(wrapped))
}

func TestTooManyEntriesIsACorruptInput(t *testing.T) {
	var ci *CorruptInput
	err := NewTooManyEntries(1<<32-1, 1<<33)
	assert.True(t, errors.As(err, &ci))
}

func TestIoErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("permission denied")
	err := NewIoError("codebook.bin", cause)
	assert.ErrorIs(t, err, cause)
}
