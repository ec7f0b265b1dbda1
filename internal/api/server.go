// Package api exposes the HTTP surface: batch submission, config CRUD, and
// the websocket stream mount.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/treykane/fleetcmd/internal/model"
	"github.com/treykane/fleetcmd/internal/store"
)

// RoomCreator accepts validated batches for later streaming.
type RoomCreator interface {
	Create(rows []model.Row) (model.Batch, error)
}

// ConfigStore is the persistence interface for named configs.
type ConfigStore interface {
	SaveConfig(ctx context.Context, name string, data []byte) (int64, bool, error)
	ListConfigs(ctx context.Context) ([]store.ConfigSummary, error)
	GetConfig(ctx context.Context, id int64) (*store.ConfigRecord, error)
	DeleteConfig(ctx context.Context, id int64) error
}

// StreamHandler serves the websocket endpoint for one room.
type StreamHandler interface {
	ServeRoom(w http.ResponseWriter, r *http.Request, room string)
}

// Server wires the HTTP routes to their collaborators.
type Server struct {
	rooms          RoomCreator
	configs        ConfigStore
	stream         StreamHandler
	allowedOrigins []string
}

// NewServer creates the HTTP server wiring. An empty allowedOrigins list
// means all origins are accepted.
func NewServer(rooms RoomCreator, configs ConfigStore, stream StreamHandler, allowedOrigins []string) *Server {
	return &Server{rooms: rooms, configs: configs, stream: stream, allowedOrigins: allowedOrigins}
}

// Router builds the chi router with CORS applied to the whole tree.
func (s *Server) Router() http.Handler {
	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/execute", s.handleExecute)
		r.Post("/configs", s.handleSaveConfig)
		r.Get("/configs", s.handleListConfigs)
		r.Get("/configs/{id}", s.handleGetConfig)
		r.Delete("/configs/{id}", s.handleDeleteConfig)
	})
	r.Get("/ws/{room}", func(w http.ResponseWriter, req *http.Request) {
		s.stream.ServeRoom(w, req, chi.URLParam(req, "room"))
	})
	return r
}
