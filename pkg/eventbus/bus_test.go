package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatstream/pkg/chat"
)

func TestBus_MirrorsStoreEvents(t *testing.T) {
	b, err := New(DefaultSettings())
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	require.Equal(t, DefaultTopic, b.Topic())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := b.Subscribe(ctx)
	require.NoError(t, err)
	go func() { _ = b.Run(ctx) }()

	store := chat.NewStore()
	detach := b.Attach(store)
	defer detach()

	turn := chat.NewAssistantPlaceholder()
	require.NoError(t, store.AppendTurn(turn))
	require.NoError(t, store.AppendDelta(turn.ID, "hi"))

	got := map[chat.EventKind]chat.Event{}
	for len(got) < 2 {
		select {
		case ev := <-events:
			got[ev.Kind] = ev
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for mirrored events")
		}
	}
	require.Equal(t, turn.ID, got[chat.EventTurnAppended].Turn.ID)
	require.Equal(t, "hi", got[chat.EventDeltaAppended].Delta)
	require.Equal(t, uint64(2), got[chat.EventDeltaAppended].Seq)
}

func TestBus_EnsureGroupWithoutRedis(t *testing.T) {
	b, err := New(Settings{})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	require.NoError(t, b.EnsureGroupAtTail(context.Background(), "g"))
}
