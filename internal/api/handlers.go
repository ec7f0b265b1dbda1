package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/treykane/fleetcmd/internal/model"
	"github.com/treykane/fleetcmd/internal/store"
)

// handleExecute accepts a batch of rows and returns the room token the
// client must subscribe to. Validation failures are client errors and leave
// no room behind.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var rows []model.Row
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	batch, err := s.rooms.Create(rows)
	if err != nil {
		slog.Warn("execute request rejected", "error", err)
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	slog.Info("execution request received",
		"request_id", batch.RequestID,
		"room", batch.Room,
		"server_count", batch.ServerCount,
		"command_count", batch.CommandCount)
	writeJSON(w, http.StatusOK, map[string]string{
		"room":       batch.Room,
		"request_id": batch.RequestID,
	})
}

// configPayload is the JSON body for saving a config. Data is kept opaque;
// the server never interprets stored configs.
type configPayload struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	requestID := requestTag("conf")
	var p configPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(p.Name) == "" {
		errorJSON(w, http.StatusBadRequest, "config name is required")
		return
	}
	if len(p.Data) == 0 {
		p.Data = json.RawMessage("{}")
	}
	slog.Info("config save request", "request_id", requestID, "config_name", p.Name)

	id, created, err := s.configs.SaveConfig(r.Context(), p.Name, p.Data)
	if err != nil {
		slog.Error("error saving config", "request_id", requestID, "config_name", p.Name, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	message := "Config updated"
	if created {
		message = "Config created"
	}
	slog.Info("config saved", "request_id", requestID, "config_id", id, "config_name", p.Name)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"id":      id,
		"name":    p.Name,
		"message": message,
	})
}

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	requestID := requestTag("conf-list")
	configs, err := s.configs.ListConfigs(r.Context())
	if err != nil {
		slog.Error("error listing configs", "request_id", requestID, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	out := make([]map[string]any, 0, len(configs))
	for _, c := range configs {
		out = append(out, map[string]any{
			"id":         c.ID,
			"name":       c.Name,
			"updated_at": c.UpdatedAt.Format(time.RFC3339),
		})
	}
	slog.Info("configs listed", "request_id", requestID, "count", len(out))
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	requestID := requestTag("conf-get")
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid config id")
		return
	}
	rec, err := s.configs.GetConfig(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("config not found", "request_id", requestID, "config_id", id)
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "Config not found"})
		return
	}
	if err != nil {
		slog.Error("error getting config", "request_id", requestID, "config_id", id, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"id":      rec.ID,
		"name":    rec.Name,
		"data":    json.RawMessage(rec.Data),
	})
}

func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	requestID := requestTag("conf-del")
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid config id")
		return
	}
	err = s.configs.DeleteConfig(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("config not found for deletion", "request_id", requestID, "config_id", id)
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "Config not found"})
		return
	}
	if err != nil {
		slog.Error("error deleting config", "request_id", requestID, "config_id", id, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	slog.Info("config deleted", "request_id", requestID, "config_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Config deleted"})
}

// requestTag mints a short correlation tag for logs, e.g. "conf-1a2b3c4d".
func requestTag(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// errorJSON writes a client-error payload in the {"detail": ...} shape the
// frontend expects.
func errorJSON(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
