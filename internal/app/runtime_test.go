package app

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestRuntimeCloseRunsInReverseAndCombinesErrors(t *testing.T) {
	var order []string
	rt := &Runtime{}
	rt.OnClose("database", func() error { order = append(order, "database"); return nil })
	rt.OnClose("redis", func() error { order = append(order, "redis"); return errors.New("conn reset") })
	rt.OnClose("pubsub", func() error { order = append(order, "pubsub"); return errors.New("grpc closed") })

	err := rt.Close()
	require.Error(t, err)
	assert.Equal(t, []string{"pubsub", "redis", "database"}, order)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Contains(t, err.Error(), "close redis")

	assert.NoError(t, rt.Close(), "closers run once")
}
