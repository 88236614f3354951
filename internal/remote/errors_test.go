package remote

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		given    error
		expected Kind
	}{
		{ValidationError("no route selected"), KindValidation},
		{PermissionDenied("location permission not granted"), KindPermissionDenied},
		{AuthError("actor not identified"), KindAuth},
		{TransientError("timeout", errors.New("dial tcp")), KindTransient},
		{errors.New("something else"), KindTransient},
		{fmt.Errorf("wrapped: %w", AuthError("nope")), KindAuth},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, KindOf(test.given))
	}
}

func TestIsStructural(t *testing.T) {
	assert.True(t, IsStructural(ValidationError("bad")))
	assert.True(t, IsStructural(PermissionDenied("no gps")))
	assert.True(t, IsStructural(AuthError("who are you")))
	assert.False(t, IsStructural(TransientError("blip", nil)))
	assert.False(t, IsStructural(errors.New("unclassified")))
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := TransientError("publish", inner)
	assert.True(t, errors.Is(err, inner))
}
