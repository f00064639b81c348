package csrf

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"synckit/internal/faults"
	"synckit/internal/transport"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExecutor struct {
	resp *transport.Response
	err  error
}

func (s *stubExecutor) Do(ctx context.Context, req transport.Request) (*transport.Response, error) {
	return s.resp, s.err
}

func newTestSource(executor transport.Executor) *Source {
	logger := zerolog.Nop()
	return NewSource(executor, "/auth/csrf", &logger)
}

func TestGetTokenSuccess(t *testing.T) {
	s := newTestSource(&stubExecutor{resp: &transport.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"csrf_token":"tok-123"}`),
	}})

	token, err := s.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
}

func TestGetTokenFailsClosedOnServerError(t *testing.T) {
	s := newTestSource(&stubExecutor{resp: &transport.Response{StatusCode: http.StatusServiceUnavailable}})

	_, err := s.GetToken(context.Background())
	var serverErr *faults.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, http.StatusServiceUnavailable, serverErr.Status)
}

func TestGetTokenFailsClosedOnNetworkError(t *testing.T) {
	s := newTestSource(&stubExecutor{err: &faults.NetworkError{Err: errors.New("dns failure")}})

	_, err := s.GetToken(context.Background())
	require.Error(t, err)
	assert.True(t, faults.IsNetwork(err))
}

func TestGetTokenRejectsEmptyToken(t *testing.T) {
	s := newTestSource(&stubExecutor{resp: &transport.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"csrf_token":""}`),
	}})

	_, err := s.GetToken(context.Background())
	require.Error(t, err)
}

func TestGetTokenOrNullSwallowsFailures(t *testing.T) {
	s := newTestSource(&stubExecutor{err: &faults.NetworkError{Err: errors.New("offline")}})
	assert.Empty(t, s.GetTokenOrNull(context.Background()))

	s = newTestSource(&stubExecutor{resp: &transport.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"csrf_token":"tok-9"}`),
	}})
	assert.Equal(t, "tok-9", s.GetTokenOrNull(context.Background()))
}
