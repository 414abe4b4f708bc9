package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Policy{MaxRetries: 3, Initial: time.Millisecond}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"503", &StatusError{Service: "gemini", StatusCode: 503}, true},
		{"429", &StatusError{Service: "gemini", StatusCode: 429}, true},
		{"400", &StatusError{Service: "gemini", StatusCode: 400}, false},
		{"wrapped 502", errors.Join(errors.New("upload"), &StatusError{StatusCode: 502}), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"unexpected EOF", errors.New("unexpected EOF"), true},
		{"canceled", context.Canceled, false},
		{"other", errors.New("invalid api key"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fast, "test", func() (string, error) {
		calls++
		if calls < 3 {
			return "", &StatusError{Service: "test", StatusCode: 503, Body: "busy"}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fast, "test", func() (int, error) {
		calls++
		return 0, &StatusError{Service: "test", StatusCode: 401, Body: "bad key"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 401, se.StatusCode)
}

func TestDoGivesUp(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fast, "test", func() (int, error) {
		calls++
		return 0, &StatusError{Service: "test", StatusCode: 502}
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls, "one attempt plus three retries")
}
