package errdefs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/signalnine/arbiter/internal/errdefs"
	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		validation bool
		transient  bool
		fatal      bool
		notFound   bool
	}{
		{"validation", errdefs.Validationf("agent_id", "unknown agent %q", "x"), true, false, false, false},
		{"wrapped validation", fmt.Errorf("submitting: %w", errdefs.Validationf("", "closed")), true, false, false, false},
		{"transient", &errdefs.TransientJudgeError{StatusCode: 429, Err: errors.New("slow down")}, false, true, false, false},
		{"fatal", errdefs.Fatal("agent-a", errors.New("negative weight")), false, false, true, false},
		{"not found", fmt.Errorf("evaluation eval-1: %w", errdefs.ErrNotFound), false, false, false, true},
		{"plain", errors.New("boom"), false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.validation, errdefs.IsValidation(tt.err))
			assert.Equal(t, tt.transient, errdefs.IsTransient(tt.err))
			assert.Equal(t, tt.fatal, errdefs.IsFatal(tt.err))
			assert.Equal(t, tt.notFound, errdefs.IsNotFound(tt.err))
		})
	}
}

func TestFatalAgent(t *testing.T) {
	err := fmt.Errorf("scoring: %w", errdefs.Fatal("claude", errors.New("panic")))
	assert.Equal(t, "claude", errdefs.FatalAgent(err))
	assert.Equal(t, "", errdefs.FatalAgent(errors.New("other")))
	assert.Contains(t, err.Error(), `agent "claude"`)
}
