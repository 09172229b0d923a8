package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushAndPopCommand(t *testing.T) {
	b := New(4, 4)
	ctx := context.Background()

	require.NoError(t, b.PushCommand(ctx, Command{Type: CmdInit}))

	select {
	case cmd := <-b.Commands():
		assert.Equal(t, CmdInit, cmd.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for command")
	}
}

func TestPushCommandRespectsCancellation(t *testing.T) {
	b := New(0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.PushCommand(ctx, Command{Type: CmdInit})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmitAndPopEvent(t *testing.T) {
	b := New(4, 4)
	b.Emit(Event{Type: EvtLog, Data: LogData{Level: "info", Message: "hi"}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, err := b.PopEvent(ctx)
	require.NoError(t, err)
	assert.Equal(t, EvtLog, e.Type)
}

func TestEmitDedupesIdenticalPayloadForDedupedKinds(t *testing.T) {
	b := New(4, 4)
	b.Emit(Event{Type: EvtBalanceUpdate, Data: BalanceUpdateData{Wallet: "0x1", Balance: "100"}})
	b.Emit(Event{Type: EvtBalanceUpdate, Data: BalanceUpdateData{Wallet: "0x1", Balance: "100"}})
	b.Emit(Event{Type: EvtBalanceUpdate, Data: BalanceUpdateData{Wallet: "0x1", Balance: "200"}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := b.PopEvent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100", first.Data.(BalanceUpdateData).Balance)

	second, err := b.PopEvent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "200", second.Data.(BalanceUpdateData).Balance)

	// nothing else queued: the identical repeat was dropped.
	emptyCtx, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	_, err = b.PopEvent(emptyCtx)
	assert.Error(t, err)
}

func TestEmitDoesNotDedupeNonDedupedKinds(t *testing.T) {
	b := New(4, 4)
	b.Emit(Event{Type: EvtLog, Data: LogData{Level: "info", Message: "same"}})
	b.Emit(Event{Type: EvtLog, Data: LogData{Level: "info", Message: "same"}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := b.PopEvent(ctx)
	require.NoError(t, err)
	_, err = b.PopEvent(ctx)
	require.NoError(t, err, "EvtLog is not a deduped kind, both emits should be delivered")
}

func TestEmitDropsOldestWhenOutboxFull(t *testing.T) {
	b := New(4, 1)
	b.Emit(Event{Type: EvtLog, Data: LogData{Message: "first"}})
	b.Emit(Event{Type: EvtLog, Data: LogData{Message: "second"}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, err := b.PopEvent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", e.Data.(LogData).Message)
}

func TestSetWakeWriterCalledOnEmit(t *testing.T) {
	b := New(4, 4)
	var called bool
	b.SetWakeWriter(func(p []byte) (int, error) {
		called = true
		return len(p), nil
	})
	b.Emit(Event{Type: EvtLog, Data: LogData{Message: "x"}})
	assert.True(t, called)
}
