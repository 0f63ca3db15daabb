package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"validation", Validation("create", "name is required"), KindValidation},
		{"wrapped precondition", fmt.Errorf("outer: %w", Precondition("update", "bad status")), KindPrecondition},
		{"bare not found", fmt.Errorf("get app: %w", ErrNotFound), KindNotFound},
		{"dependency", Dependency("create", "failed to create application", errors.New("db down")), KindDependency},
		{"no active version", ErrNoActiveVersion, KindPrecondition},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := Dependency("backup", "failed to create backup policy", errors.New("quota exceeded"))
	assert.Equal(t, "backup: failed to create backup policy: quota exceeded", err.Error())

	assert.Equal(t, "scale: invalid replica count", Validation("scale", "invalid replica count").Error())
}

func TestNotFoundUnwrapsToSentinel(t *testing.T) {
	err := NotFound("get", "application %s not found", "a1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(Validation("x", "y")))
}

func TestDependencyNil(t *testing.T) {
	assert.NoError(t, Dependency("op", "msg", nil))
}
