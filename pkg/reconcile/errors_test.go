package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "unclassified", err: errors.New("connection refused"), want: true},
		{name: "deadline", err: fmt.Errorf("apply: %w", context.DeadlineExceeded), want: true},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "revision mismatch", err: fmt.Errorf("P1: %w", ErrRevisionMismatch), want: false},
		{name: "fatal", err: Classify(models.CategoryFatalConfiguration, errors.New("no mapping")), want: false},
		{name: "explicitly transient", err: Classify(models.CategoryTransient, errors.New("throttled")), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify(models.CategoryConflict, nil))

	base := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", Classify(models.CategoryConflict, base))
	assert.Equal(t, models.CategoryConflict, CategoryOf(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "conflict: boom", errors.Unwrap(err).Error())
}
