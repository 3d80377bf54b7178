package supplier

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unavailable", ErrSupplierUnavailable, true},
		{"timeout", ErrRequestTimeout, true},
		{"rate limited", ErrRateLimited, true},
		{"wrapped timeout", fmt.Errorf("purchase sp-1: %w", ErrRequestTimeout), true},
		{"invalid product", ErrInvalidProduct, false},
		{"insufficient balance", ErrInsufficientBalance, false},
		{"discontinued", ErrProductDiscontinued, false},
		{"auth failure", ErrAuthenticationFailed, false},
		{"unclassified error", errors.New("something odd"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
