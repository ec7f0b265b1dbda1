package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/treykane/fleetcmd/internal/model"
	"github.com/treykane/fleetcmd/internal/room"
	"github.com/treykane/fleetcmd/internal/store"
)

type fakeConfigs struct {
	saveID      int64
	saveCreated bool
	saveErr     error
	list        []store.ConfigSummary
	listErr     error
	record      *store.ConfigRecord
	getErr      error
	deleteErr   error

	deletedID int64
	savedName string
	savedData []byte
}

func (f *fakeConfigs) SaveConfig(ctx context.Context, name string, data []byte) (int64, bool, error) {
	f.savedName, f.savedData = name, data
	return f.saveID, f.saveCreated, f.saveErr
}

func (f *fakeConfigs) ListConfigs(ctx context.Context) ([]store.ConfigSummary, error) {
	return f.list, f.listErr
}

func (f *fakeConfigs) GetConfig(ctx context.Context, id int64) (*store.ConfigRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.record, nil
}

func (f *fakeConfigs) DeleteConfig(ctx context.Context, id int64) error {
	f.deletedID = id
	return f.deleteErr
}

type fakeStream struct {
	room string
}

func (f *fakeStream) ServeRoom(w http.ResponseWriter, r *http.Request, room string) {
	f.room = room
	w.WriteHeader(http.StatusOK)
}

func newTestServer(configs ConfigStore, stream StreamHandler) http.Handler {
	if configs == nil {
		configs = &fakeConfigs{}
	}
	if stream == nil {
		stream = &fakeStream{}
	}
	return NewServer(room.NewRegistry(time.Hour), configs, stream, nil).Router()
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var payload map[string]any
	if rr.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(rr.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	}
	return rr, payload
}

func TestExecuteReturnsRoomToken(t *testing.T) {
	h := newTestServer(nil, nil)
	rr, payload := doJSON(t, h, http.MethodPost, "/api/v1/execute",
		`[{"rowId":"r1","ip":"10.0.0.1","user":"root","password":"pw","port":22,"commands":["uptime"]}]`)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, payload["room"], 32)
	require.True(t, strings.HasPrefix(payload["request_id"].(string), "req-"))
}

func TestExecuteRejectsEmptyBatch(t *testing.T) {
	h := newTestServer(nil, nil)
	rr, payload := doJSON(t, h, http.MethodPost, "/api/v1/execute", `[]`)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "no server data provided", payload["detail"])
}

func TestExecuteRejectsBadBody(t *testing.T) {
	h := newTestServer(nil, nil)
	rr, payload := doJSON(t, h, http.MethodPost, "/api/v1/execute", `{"not":"an array"}`)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid request body", payload["detail"])
}

func TestExecuteRejectsIncompleteJumpConfig(t *testing.T) {
	h := newTestServer(nil, nil)
	rr, payload := doJSON(t, h, http.MethodPost, "/api/v1/execute",
		`[{"rowId":"r1","ip":"10.0.0.1","user":"root","port":22,"commands":["uptime"],"jumpServer":{"enabled":true}}]`)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, payload["detail"], "jump server IP is required")
}

func TestSaveConfigCreated(t *testing.T) {
	configs := &fakeConfigs{saveID: 7, saveCreated: true}
	h := newTestServer(configs, nil)
	rr, payload := doJSON(t, h, http.MethodPost, "/api/v1/configs",
		`{"name":"prod","data":{"rows":[]}}`)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, true, payload["success"])
	require.EqualValues(t, 7, payload["id"])
	require.Equal(t, "prod", payload["name"])
	require.Equal(t, "Config created", payload["message"])
	require.JSONEq(t, `{"rows":[]}`, string(configs.savedData))
}

func TestSaveConfigUpdated(t *testing.T) {
	configs := &fakeConfigs{saveID: 7}
	h := newTestServer(configs, nil)
	rr, payload := doJSON(t, h, http.MethodPost, "/api/v1/configs", `{"name":"prod"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "Config updated", payload["message"])
	// A missing data field is stored as an empty object.
	require.JSONEq(t, `{}`, string(configs.savedData))
}

func TestSaveConfigRequiresName(t *testing.T) {
	h := newTestServer(nil, nil)
	rr, payload := doJSON(t, h, http.MethodPost, "/api/v1/configs", `{"name":"  "}`)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "config name is required", payload["detail"])
}

func TestSaveConfigStoreFailure(t *testing.T) {
	configs := &fakeConfigs{saveErr: errors.New("disk full")}
	h := newTestServer(configs, nil)
	rr, payload := doJSON(t, h, http.MethodPost, "/api/v1/configs", `{"name":"prod"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, false, payload["success"])
	require.Equal(t, "disk full", payload["error"])
}

func TestListConfigs(t *testing.T) {
	updated := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	configs := &fakeConfigs{list: []store.ConfigSummary{{ID: 1, Name: "prod", UpdatedAt: updated}}}
	h := newTestServer(configs, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/configs", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var payload []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	require.Len(t, payload, 1)
	require.Equal(t, "prod", payload[0]["name"])
	require.Equal(t, "2026-08-24T12:00:00Z", payload[0]["updated_at"])
}

func TestListConfigsEmptyIsArray(t *testing.T) {
	h := newTestServer(&fakeConfigs{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/configs", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "[]", strings.TrimSpace(rr.Body.String()))
}

func TestGetConfig(t *testing.T) {
	configs := &fakeConfigs{record: &store.ConfigRecord{ID: 3, Name: "prod", Data: []byte(`{"rows":[]}`)}}
	h := newTestServer(configs, nil)
	rr, payload := doJSON(t, h, http.MethodGet, "/api/v1/configs/3", "")

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, true, payload["success"])
	require.Equal(t, "prod", payload["name"])
	require.Equal(t, map[string]any{"rows": []any{}}, payload["data"])
}

func TestGetConfigNotFound(t *testing.T) {
	configs := &fakeConfigs{getErr: store.ErrNotFound}
	h := newTestServer(configs, nil)
	rr, payload := doJSON(t, h, http.MethodGet, "/api/v1/configs/999", "")

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, false, payload["success"])
	require.Equal(t, "Config not found", payload["error"])
}

func TestGetConfigInvalidID(t *testing.T) {
	h := newTestServer(nil, nil)
	rr, payload := doJSON(t, h, http.MethodGet, "/api/v1/configs/abc", "")

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid config id", payload["detail"])
}

func TestDeleteConfig(t *testing.T) {
	configs := &fakeConfigs{}
	h := newTestServer(configs, nil)
	rr, payload := doJSON(t, h, http.MethodDelete, "/api/v1/configs/4", "")

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, true, payload["success"])
	require.EqualValues(t, 4, configs.deletedID)
}

func TestDeleteConfigNotFound(t *testing.T) {
	configs := &fakeConfigs{deleteErr: store.ErrNotFound}
	h := newTestServer(configs, nil)
	rr, payload := doJSON(t, h, http.MethodDelete, "/api/v1/configs/999", "")

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, false, payload["success"])
	require.Equal(t, "Config not found", payload["error"])
}

func TestStreamRouteWiring(t *testing.T) {
	stream := &fakeStream{}
	h := newTestServer(nil, stream)
	req := httptest.NewRequest(http.MethodGet, "/ws/abc123", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, "abc123", stream.room)
}

// Batches accepted over HTTP carry the commands the rows declared; the frame
// contract for those commands is exercised in the executor package.
func TestExecuteStoresBatchForStreaming(t *testing.T) {
	rooms := room.NewRegistry(time.Hour)
	h := NewServer(rooms, &fakeConfigs{}, &fakeStream{}, nil).Router()
	_, payload := doJSON(t, h, http.MethodPost, "/api/v1/execute",
		`[{"rowId":"r1","ip":"10.0.0.1","user":"root","password":"pw","port":22,"commands":["uptime","df -h"]}]`)

	batch, ok := rooms.Take(payload["room"].(string))
	require.True(t, ok)
	require.Equal(t, 2, batch.CommandCount)
	require.Equal(t, []model.Row{{RowID: "r1", IP: "10.0.0.1", User: "root", Password: "pw", Port: 22,
		Commands: []string{"uptime", "df -h"}}}, batch.Rows)
}
