package send

import (
	"context"
	"testing"

	"github.com/opd-ai/courier/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategyString(t *testing.T) {
	assert.Equal(t, "keep-failed", StrategyKeepFailed.String())
	assert.Equal(t, "delete-failed", StrategyDeleteFailed.String())
	assert.Equal(t, "add-on-success", StrategyAddOnSuccess.String())
	assert.Equal(t, "unknown", Strategy(99).String())
}

func TestAddedToStoreFlag(t *testing.T) {
	tests := []struct {
		name          string
		strategy      Strategy
		wantAtBefore  bool
		wantAtSuccess bool
	}{
		{"keep-failed tracks from start", StrategyKeepFailed, true, true},
		{"delete-failed tracks from start", StrategyDeleteFailed, true, true},
		{"add-on-success tracks only after success", StrategyAddOnSuccess, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := message.NewStore()
			probe := &recordPlugin{}
			sender := New(store, WithGateway(&mockGateway{result: "ok"})).
				Use(NewStorePlugin(store, tt.strategy)).
				Use(probe)

			_, err := sender.Send(context.Background(), nil, nil)
			require.NoError(t, err)

			assert.Equal(t, tt.wantAtBefore, probe.addedAtBefore)
			assert.Equal(t, tt.wantAtSuccess, probe.addedAtSuccess)
		})
	}
}

func TestChunkUpdatesResultOnly(t *testing.T) {
	store := message.NewStore()
	gw := &mockGateway{result: "final", chunks: []any{"partial one", "partial two"}}
	sender := newKeepFailedSender(store, gw)

	var resultsSeen []any
	_, err := sender.Send(context.Background(),
		message.New(message.WithID("m-1"), message.WithContent("authored")),
		&Options{OnChunk: func(any) {
			stored, _ := store.GetMessageByID("m-1")
			resultsSeen = append(resultsSeen, stored.State().Result)
		}},
	)
	require.NoError(t, err)

	assert.Equal(t, []any{"partial one", "partial two"}, resultsSeen)

	stored, _ := store.GetMessageByID("m-1")
	assert.Equal(t, "authored", stored.State().Content, "chunks must never touch the authored content")
	assert.Equal(t, "final", stored.State().Result)
}

func TestForeignChunkBecomesSecondEntry(t *testing.T) {
	store := message.NewStore()
	reply := message.New(message.WithID("reply-1"), message.WithContent("echo"))
	gw := &mockGateway{result: "done", chunks: []any{reply}}
	sender := newKeepFailedSender(store, gw)

	_, err := sender.Send(context.Background(),
		message.New(message.WithID("m-1"), message.WithContent("hi")),
		nil,
	)
	require.NoError(t, err)

	require.Equal(t, 2, store.Len(), "a foreign-id chunk is its own entry")

	mine, ok := store.GetMessageByID("m-1")
	require.True(t, ok)
	assert.Equal(t, "hi", mine.State().Content)
	assert.Equal(t, "done", mine.State().Result, "the foreign chunk must not land in my result")

	theirs, ok := store.GetMessageByID("reply-1")
	require.True(t, ok)
	assert.Equal(t, "echo", theirs.State().Content)
}

func TestForeignChunkUpdatesExistingEntry(t *testing.T) {
	store := message.NewStore()
	first := message.New(message.WithID("reply-1"), message.WithContent("ec"))
	second := message.New(message.WithID("reply-1"), message.WithContent("echo"))
	gw := &mockGateway{result: "done", chunks: []any{first, second}}
	sender := newKeepFailedSender(store, gw)

	_, err := sender.Send(context.Background(), message.New(message.WithID("m-1")), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, store.Len(), "repeated foreign chunks merge into one entry")
	theirs, _ := store.GetMessageByID("reply-1")
	assert.Equal(t, "echo", theirs.State().Content)
}

func TestOnConnectedClearsLoading(t *testing.T) {
	store := message.NewStore()

	var loadingAtConnect bool
	gw := &mockGateway{result: "ok", signalConnected: true}
	sender := newKeepFailedSender(store, gw)

	_, err := sender.Send(context.Background(),
		message.New(message.WithID("m-1")),
		&Options{OnConnected: func() {
			stored, _ := store.GetMessageByID("m-1")
			loadingAtConnect = stored.State().Loading
		}},
	)
	require.NoError(t, err)
	assert.False(t, loadingAtConnect)
}

func TestResendReusesEntry(t *testing.T) {
	store := message.NewStore()
	gw := &mockGateway{err: assertableError("first failure")}
	sender := newKeepFailedSender(store, gw)

	msg, _ := sender.Send(context.Background(), message.New(message.WithID("m-1")), nil)
	require.Equal(t, message.StatusFailed, msg.State().Status)
	require.Equal(t, 1, store.Len())
	firstIndex := store.GetMessageIndex("m-1")

	// Retry with the same id succeeds and updates the same entry in place.
	gw.err = nil
	gw.result = "ok"
	msg, _ = sender.Send(context.Background(), message.New(message.WithID("m-1")), nil)

	assert.Equal(t, message.StatusSent, msg.State().Status)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, firstIndex, store.GetMessageIndex("m-1"))

	stored, _ := store.GetMessageByID("m-1")
	assert.Equal(t, message.StatusSent, stored.State().Status)
	assert.Nil(t, stored.State().Err)
}

// assertableError is a trivial error type for table reuse.
type assertableError string

func (e assertableError) Error() string { return string(e) }
