// Package signal is the websocket client adapter behind core.SignalChannel.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

const defaultWriteDeadline = 5 * time.Second

type Config struct {
	URL        string
	SendBuffer int
	PingPeriod time.Duration
}

// Channel is a duplex signaling connection. Outbound messages go through a
// buffered send channel (fire-and-forget, dropped on backpressure);
// inbound messages are dispatched by envelope type to registered handlers.
type Channel struct {
	conn *websocket.Conn

	sendMu sync.RWMutex
	send   chan []byte
	closed bool

	handlerMu sync.RWMutex
	handlers  map[string]core.Handler

	connected atomic.Bool
	cancel    context.CancelFunc
}

// envelope is the wire frame: the event name plus its payload.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Dial connects to the signaling server and starts the IO pumps.
func Dial(ctx context.Context, cfg Config) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling server: %w", err)
	}

	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = 54 * time.Second
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		conn:     conn,
		send:     make(chan []byte, cfg.SendBuffer),
		handlers: make(map[string]core.Handler),
		cancel:   cancel,
	}
	c.connected.Store(true)

	go c.writePump(pumpCtx, cfg.PingPeriod)
	go c.readPump(pumpCtx)

	log.Info().Str("module", "signal").Str("url", cfg.URL).Msg("signaling connected")
	return c, nil
}

// Send marshals payload into an envelope and queues it. No delivery
// guarantee; a full buffer or a down channel drops the message.
func (c *Channel) Send(event string, payload any) error {
	if !c.connected.Load() {
		return errors.New("signaling channel disconnected")
	}
	env := envelope{Type: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Data = data
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return c.trySend(b)
}

func (c *Channel) trySend(b []byte) error {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Channel) On(event string, h core.Handler) {
	c.handlerMu.Lock()
	c.handlers[event] = h
	c.handlerMu.Unlock()
}

func (c *Channel) Off(event string) {
	c.handlerMu.Lock()
	delete(c.handlers, event)
	c.handlerMu.Unlock()
}

func (c *Channel) Connected() bool {
	return c.connected.Load()
}

func (c *Channel) Close() {
	c.connected.Store(false)
	c.cancel()

	c.sendMu.Lock()
	if c.closed {
		c.sendMu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.sendMu.Unlock()
}

func (c *Channel) writePump(ctx context.Context, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping error")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (c *Channel) readPump(ctx context.Context) {
	defer func() {
		log.Info().Str("module", "signal").Msg("readPump closing")
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("readPump read error")
				return
			}
			c.dispatch(data)
		}
	}
}

func (c *Channel) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	c.handlerMu.RLock()
	h, ok := c.handlers[env.Type]
	c.handlerMu.RUnlock()
	if !ok {
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		return
	}
	h(env.Data)
}
