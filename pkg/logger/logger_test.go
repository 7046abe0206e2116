package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitRejectsUnknownLevel(t *testing.T) {
	err := Init(Config{Level: "chatty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNamedPrefersSuppliedLogger(t *testing.T) {
	nop := zap.NewNop()
	assert.Same(t, nop, Named(nop, "writer"))
	assert.NotNil(t, Named(nil, "writer"))
}

func TestWithContextAcceptsStorageKeys(t *testing.T) {
	require.NoError(t, Init(Config{Level: "debug", Encoding: "console"}))
	ctx := context.WithValue(context.Background(), TableKey, "trades")
	ctx = context.WithValue(ctx, OperationKey, "commit")
	assert.NotNil(t, WithContext(ctx))
	_ = Sync()
}
