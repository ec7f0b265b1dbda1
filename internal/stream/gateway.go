package stream

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/treykane/fleetcmd/internal/executor"
	"github.com/treykane/fleetcmd/internal/model"
)

// RoomSource looks up pending batches by room token.
type RoomSource interface {
	Take(room string) (model.Batch, bool)
}

// BatchRunner executes a batch against an output stream.
type BatchRunner interface {
	Execute(ctx context.Context, batch model.Batch, out executor.Stream) error
}

// Gateway accepts websocket subscribers, binds each to its room's batch, and
// drives the batch runner with the subscriber as the output channel. A room
// has at most one subscriber; a newcomer displaces (closes) the incumbent.
type Gateway struct {
	rooms    RoomSource
	runner   BatchRunner
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[string]*Sender
}

// NewGateway creates a gateway over the given room source and runner.
func NewGateway(rooms RoomSource, runner BatchRunner) *Gateway {
	return &Gateway{
		rooms:  rooms,
		runner: runner,
		upgrader: websocket.Upgrader{
			// Origin policy is handled by the HTTP middleware layer; the
			// stream endpoint accepts whatever reached it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subs: make(map[string]*Sender),
	}
}

// ServeRoom upgrades the request and streams the room's batch results until
// the terminal frame. Unknown rooms get a single error frame and a close.
func (g *Gateway) ServeRoom(w http.ResponseWriter, r *http.Request, room string) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "room", room, "error", err)
		return
	}
	sender := NewSender(conn)

	batch, ok := g.rooms.Take(room)
	if !ok {
		slog.Error("no batch found for room", "room", room)
		_ = sender.Send(model.ErrorFrame{Error: "No data available for this room."})
		sender.Close()
		return
	}
	log := slog.With("request_id", batch.RequestID, "room", room)

	g.mu.Lock()
	if prev, ok := g.subs[room]; ok {
		log.Warn("existing subscriber detected, displacing")
		prev.Close()
	}
	g.subs[room] = sender
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		if g.subs[room] == sender {
			delete(g.subs, room)
		}
		g.mu.Unlock()
		sender.Close()
		log.Info("stream subscriber detached")
	}()

	log.Info("stream subscriber attached")

	// Execution is deliberately detached from the request context: a
	// subscriber disconnecting mid-batch must not cancel in-flight commands,
	// whose outcomes are still persisted.
	if err := g.runner.Execute(context.Background(), batch, sender); err != nil {
		log.Error("batch execution failed", "error", err)
		_ = sender.Send(model.ErrorFrame{Error: err.Error()})
	}
}

// Subscribers reports the number of live subscriptions.
func (g *Gateway) Subscribers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}
