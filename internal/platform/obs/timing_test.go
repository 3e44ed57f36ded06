package obs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestTimeLogsOperation(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")

	var err error
	Time(ctx, "store.WithinTx")(&err)

	err = errors.New("boom")
	Time(ctx, "store.WithinTx")(&err)

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "req-1", entries[0].ContextMap()["req_id"])
	assert.Equal(t, "store.WithinTx", entries[0].ContextMap()["op"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}

func TestRequestID(t *testing.T) {
	assert.Equal(t, "", RequestID(context.Background()))
	ctx := context.WithValue(context.Background(), RequestIDKey, "abc")
	assert.Equal(t, "abc", RequestID(ctx))
}
