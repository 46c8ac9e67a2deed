package led

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/coreman2200/multi-led-grid/internal/payload"
)

// DefaultRemoteTimeout bounds a remote call when ctx carries no deadline.
const DefaultRemoteTimeout = 5 * time.Second

// Reply is what a remote board answers to every payload.
type Reply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Remote sends payloads to a board over a websocket. The connection is
// opened lazily and dropped after any transport error; the next call
// redials.
type Remote struct {
	name   string
	url    string
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewRemote(name, url string) *Remote {
	return &Remote{name: name, url: url, dialer: websocket.DefaultDialer}
}

func (r *Remote) Name() string { return r.name }

func (r *Remote) Execute(ctx context.Context, p payload.Payload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		c, _, err := r.dialer.DialContext(ctx, r.url, nil)
		if err != nil {
			return fmt.Errorf("remote %s: dial: %w", r.name, err)
		}
		r.conn = c
	}
	conn := r.conn

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		deadline = time.Now().Add(DefaultRemoteTimeout)
	}
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		r.drop()
		return fmt.Errorf("remote %s: write: %w", r.name, err)
	}
	var rep Reply
	if err := conn.ReadJSON(&rep); err != nil {
		r.drop()
		if hasDeadline && !time.Now().Before(deadline) {
			return fmt.Errorf("remote %s: %w", r.name, context.DeadlineExceeded)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("remote %s: %w", r.name, ctxErr)
		}
		return fmt.Errorf("remote %s: read: %w", r.name, err)
	}
	if !rep.Success {
		if rep.Error == "" {
			rep.Error = "board reported failure"
		}
		return fmt.Errorf("remote %s: %s", r.name, rep.Error)
	}
	return nil
}

func (r *Remote) drop() {
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
}

func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drop()
	return nil
}

// Executor is the board side of the remote protocol.
type Executor interface {
	Execute(ctx context.Context, p payload.Payload) error
}

// BoardHandler serves the remote protocol on top of a local board, e.g. a
// Sim acting as a board emulator.
func BoardHandler(board Executor, logger zerolog.Logger) http.Handler {
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				var ce *websocket.CloseError
				if !errors.As(err, &ce) {
					logger.Debug().Err(err).Msg("board read")
				}
				return
			}
			rep := Reply{Success: true}
			var p payload.Payload
			if err := json.Unmarshal(data, &p); err != nil {
				rep = Reply{Error: err.Error()}
			} else if err := board.Execute(r.Context(), p); err != nil {
				rep = Reply{Error: err.Error()}
			}
			if err := conn.WriteJSON(rep); err != nil {
				logger.Debug().Err(err).Msg("board write")
				return
			}
		}
	})
}
