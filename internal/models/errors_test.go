package models_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pagesmith/pagesync/internal/models"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network error", &models.NetworkError{Op: "GET", URL: "/sync/deltas", Err: errors.New("timeout")}, true},
		{"server error", &models.APIError{StatusCode: 503, Message: "unavailable"}, true},
		{"rate limited", &models.APIError{StatusCode: 429, Message: "slow down"}, true},
		{"rate limit sentinel", models.ErrRateLimited, true},
		{"bad request", &models.APIError{StatusCode: 400, Message: "bad"}, false},
		{"unauthorized", &models.APIError{StatusCode: 401, Message: "denied"}, false},
		{"validation error", &models.ValidationError{Reason: "checksum mismatch"}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
		{"wrapped network error", &models.ApplyError{Err: &models.NetworkError{Err: errors.New("reset")}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, models.IsRetryable(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	assert.True(t, models.IsFatal(&models.APIError{StatusCode: 401, Message: "denied"}))
	assert.True(t, models.IsFatal(&models.APIError{StatusCode: 403, Message: "forbidden"}))
	assert.True(t, models.IsFatal(models.ErrNotAuthenticated))
	assert.False(t, models.IsFatal(&models.APIError{StatusCode: 500, Message: "oops"}))
	assert.False(t, models.IsFatal(errors.New("boom")))
}
