package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyTransport struct {
	failures int
	attempts int
}

func (f *flakyTransport) Send(ctx context.Context, payload []byte) error {
	f.attempts++
	if f.attempts <= f.failures {
		return errors.New("transient failure")
	}
	return nil
}

func TestRetryingTransportSucceedsAfterRetries(t *testing.T) {
	inner := &flakyTransport{failures: 2}
	rt := NewRetryingTransport(inner, 3, time.Millisecond, nil)

	err := rt.Send(context.Background(), []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, 3, inner.attempts)
}

func TestRetryingTransportGivesUpAfterRetries(t *testing.T) {
	inner := &flakyTransport{failures: 100}
	rt := NewRetryingTransport(inner, 2, time.Millisecond, nil)

	err := rt.Send(context.Background(), []byte("payload"))
	assert.Error(t, err)
	assert.Equal(t, 3, inner.attempts)
}

func TestLogTransportNeverFails(t *testing.T) {
	lt := NewLogTransport(nil)
	assert.NoError(t, lt.Send(context.Background(), []byte(`{"id":1}`)))
}
