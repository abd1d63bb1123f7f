package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsSentinel(t *testing.T) {
	err := InvalidArgument("videoId is required.")

	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.False(t, errors.Is(err, ErrNotInitialized))

	wrapped := fmt.Errorf("handler: %w", err)
	assert.True(t, errors.Is(wrapped, ErrInvalidArgument))
	assert.Equal(t, CodeInvalidArgument, CodeOf(wrapped))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeNetwork, cause, "Failed to fetch video: %v", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.Contains(t, err.Error(), "NETWORK_ERROR")
}

func TestCodeOfUncoded(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeInvalidArgument, http.StatusBadRequest},
		{CodeNotInitialized, http.StatusUnauthorized},
		{CodeNetwork, http.StatusBadGateway},
		{CodeAPI, http.StatusBadGateway},
		{CodeParse, http.StatusBadGateway},
		{CodeUnimplemented, http.StatusNotImplemented},
		{CodeNotFound, http.StatusNotFound},
		{CodeInternal, http.StatusInternalServerError},
		{CodeRateLimited, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.code))
		})
	}
}

func TestToBody(t *testing.T) {
	status, body := ToBody(Unimplemented("not yet"))
	assert.Equal(t, http.StatusNotImplemented, status)
	assert.Equal(t, CodeUnimplemented, body.Code)
	assert.Equal(t, "not yet", body.Message)

	status, body = ToBody(errors.New("secret detail"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, CodeInternal, body.Code)
	assert.NotContains(t, body.Message, "secret")
}

func TestNotInitializedFor(t *testing.T) {
	err := NotInitializedFor("play data")
	assert.Equal(t, CodeNotInitialized, err.Code)
	assert.Equal(t, "Call initialize() before requesting play data.", err.Message)

	assert.Equal(t, "Call initialize() before using the SDK.", NotInitializedFor("").Message)
}
