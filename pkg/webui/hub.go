package webui

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/conversation"
	"github.com/go-go-golems/chatstream/pkg/health"
)

const (
	frameQueueSize      = 1024
	DefaultWriteTimeout = 5 * time.Second
)

type HubOption func(*Hub)

func WithPoller(p *health.Poller) HubOption {
	return func(h *Hub) {
		h.poller = p
	}
}

func WithWriteTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		h.pool = NewConnectionPool(d)
	}
}

// Hub fans store events and health changes out to browser websockets and
// applies the commands browsers send back.
type Hub struct {
	conv     *conversation.Conversation
	poller   *health.Poller
	pool     *ConnectionPool
	upgrader websocket.Upgrader

	queue  chan ServerFrame
	resync chan struct{}
	lost   atomic.Bool

	ctxMu   sync.Mutex
	baseCtx context.Context
}

func NewHub(conv *conversation.Conversation, opts ...HubOption) *Hub {
	h := &Hub{
		conv:     conv,
		pool:     NewConnectionPool(DefaultWriteTimeout),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		queue:    make(chan ServerFrame, frameQueueSize),
		resync:   make(chan struct{}, 1),
		baseCtx:  context.Background(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Hub) Pool() *ConnectionPool {
	return h.pool
}

// Run broadcasts queued frames until ctx is done. Streams started from the
// browser live in ctx.
func (h *Hub) Run(ctx context.Context) error {
	h.ctxMu.Lock()
	h.baseCtx = ctx
	h.ctxMu.Unlock()

	unsubStore := h.conv.Store().Subscribe(func(ev chat.Event) {
		h.enqueue(eventFrame(ev))
	})
	defer unsubStore()
	if h.poller != nil {
		unsubHealth := h.poller.Subscribe(func(ind health.Indicator) {
			h.enqueue(ServerFrame{Type: FrameHealth, Health: &ind})
		})
		defer unsubHealth()
	}
	defer h.pool.CloseAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-h.queue:
			h.broadcast(f)
		case <-h.resync:
			h.lost.Store(false)
			log.Warn().Str("component", "webui").Msg("frame queue overflowed, resending snapshot")
			h.pool.Broadcast(h.snapshot())
		}
	}
}

// enqueue never blocks the store. On overflow browsers get a fresh snapshot.
func (h *Hub) enqueue(f ServerFrame) {
	select {
	case h.queue <- f:
	default:
		if !h.lost.Swap(true) {
			select {
			case h.resync <- struct{}{}:
			default:
			}
		}
	}
}

func (h *Hub) broadcast(f ServerFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Str("component", "webui").Str("type", f.Type).Msg("marshal frame")
		return
	}
	h.pool.Broadcast(b)
}

func (h *Hub) snapshot() []byte {
	turns, seq := h.conv.Store().Snapshot()
	f := ServerFrame{
		Type:     FrameSnapshot,
		Seq:      seq,
		Turns:    turns,
		Settings: newSettingsView(h.conv.Settings()),
	}
	if h.poller != nil {
		ind := h.poller.Current()
		f.Health = &ind
	}
	b, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Str("component", "webui").Msg("marshal snapshot")
		return nil
	}
	return b
}

// ServeHTTP upgrades to a websocket, sends the snapshot and then reads
// commands until the browser goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "webui").Msg("websocket upgrade failed")
		return
	}
	if !h.pool.Attach(conn, h.snapshot) {
		return
	}
	log.Debug().Str("component", "webui").Str("remote", r.RemoteAddr).Int("connections", h.pool.Count()).Msg("browser attached")
	defer h.pool.Remove(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("component", "webui").Msg("websocket read failed")
			}
			return
		}
		var f ClientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			h.replyError(conn, errors.Wrap(err, "invalid frame"))
			continue
		}
		if err := h.Handle(f); err != nil {
			h.replyError(conn, err)
		}
	}
}

// Handle applies one browser command.
func (h *Hub) Handle(f ClientFrame) error {
	switch f.Type {
	case ClientSend:
		h.ctxMu.Lock()
		ctx := h.baseCtx
		h.ctxMu.Unlock()
		_, err := h.conv.SendMessage(ctx, f.Message)
		return err
	case ClientSettings:
		next := f.apply(h.conv.Settings())
		if !chat.IsKnownModel(next.Model) {
			return &chat.ValidationError{Field: "model", Message: "Unknown model: " + next.Model}
		}
		h.conv.SetSettings(next)
		h.enqueue(ServerFrame{Type: FrameSettings, Settings: newSettingsView(next)})
		return nil
	case ClientCancel:
		h.conv.Cancel()
		return nil
	case ClientClear:
		h.conv.Clear()
		return nil
	case ClientHealthRefresh:
		if h.poller != nil {
			h.poller.Refresh()
		}
		return nil
	default:
		return errors.Errorf("unknown frame type %q", f.Type)
	}
}

func (h *Hub) replyError(conn *websocket.Conn, err error) {
	b, merr := json.Marshal(ServerFrame{Type: FrameError, Error: chat.ErrorText(err)})
	if merr != nil {
		return
	}
	h.pool.SendToOne(conn, b)
}
