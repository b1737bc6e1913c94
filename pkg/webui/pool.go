package webui

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// wsConn is the part of *websocket.Conn the pool writes through.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnectionPool tracks the browser connections observing the conversation.
// Every write goes through the pool lock, so each connection has a single
// writer.
type ConnectionPool struct {
	mu           sync.Mutex
	conns        map[wsConn]struct{}
	writeTimeout time.Duration
}

func NewConnectionPool(writeTimeout time.Duration) *ConnectionPool {
	return &ConnectionPool{
		conns:        map[wsConn]struct{}{},
		writeTimeout: writeTimeout,
	}
}

// Attach adds conn and sends it the frame built by initial while holding the
// pool lock, so no broadcast can slip in between.
func (cp *ConnectionPool) Attach(conn wsConn, initial func() []byte) bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if initial != nil {
		if err := cp.writeLocked(conn, initial()); err != nil {
			log.Warn().Err(err).Str("component", "webui").Msg("ws initial send failed")
			_ = conn.Close()
			return false
		}
	}
	cp.conns[conn] = struct{}{}
	return true
}

func (cp *ConnectionPool) Remove(conn wsConn) {
	cp.mu.Lock()
	delete(cp.conns, conn)
	cp.mu.Unlock()
	_ = conn.Close()
}

// Broadcast writes data to every connection and drops those that fail.
func (cp *ConnectionPool) Broadcast(data []byte) {
	if len(data) == 0 {
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for conn := range cp.conns {
		if err := cp.writeLocked(conn, data); err != nil {
			log.Warn().Err(err).Str("component", "webui").Msg("ws broadcast failed, dropping connection")
			delete(cp.conns, conn)
			_ = conn.Close()
		}
	}
}

func (cp *ConnectionPool) SendToOne(conn wsConn, data []byte) {
	if len(data) == 0 {
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if _, ok := cp.conns[conn]; !ok {
		return
	}
	if err := cp.writeLocked(conn, data); err != nil {
		log.Warn().Err(err).Str("component", "webui").Msg("ws send failed, dropping connection")
		delete(cp.conns, conn)
		_ = conn.Close()
	}
}

func (cp *ConnectionPool) Count() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.conns)
}

func (cp *ConnectionPool) CloseAll() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for conn := range cp.conns {
		_ = conn.Close()
		delete(cp.conns, conn)
	}
}

func (cp *ConnectionPool) writeLocked(conn wsConn, data []byte) error {
	if cp.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(cp.writeTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
