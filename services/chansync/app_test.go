package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messenger/chansync/internal/config"
	"github.com/messenger/chansync/internal/model"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/folders", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{"folders": []model.Folder{{ID: "f1", Title: "Work"}}})
	})
	r.Get("/channels", func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Query().Get("type") {
		case "direct":
			writeJSON(w, map[string]any{
				"channels": []map[string]any{{"uuid": "d1", "type": "PERSONAL", "participants": []string{"me", "bob"}}},
				"page":     1,
				"per_page": 50,
				"total":    1,
			})
		default:
			writeJSON(w, map[string]any{
				"channels": []map[string]any{{"uuid": "g1", "type": "GROUP", "participants": []string{"me", "bob", "eve"}, "title": "Team"}},
				"page":     1,
				"per_page": 50,
				"total":    1,
			})
		}
	})
	r.Get("/channels/counters", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{
			"counters": []model.Counter{{ChannelID: "d1", Unread: 3}},
			"page":     1,
			"per_page": 200,
			"total":    1,
		})
	})
	r.Get("/devices/own", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]any{"devices": []model.Device{{ID: "dev-1", PublicKey: "age1x", EncryptionEnabled: true}}})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		APIBaseURL:       baseURL,
		SelfGID:          "me",
		PageSize:         50,
		CountersPageSize: 200,
		DeviceKeyPath:    filepath.Join(dir, "device.age"),
		DeviceName:       "test",
		Consent:          config.ConsentConfig{Backend: config.ConsentBackendMemory},
	}
}

func TestApp_WarmUpFillsStore(t *testing.T) {
	srv := newBackend(t)
	ctx := context.Background()
	a, err := newApp(ctx, testConfig(t, srv.URL))
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.warmUp(ctx))

	d1, ok := a.store.Channel("d1")
	require.True(t, ok)
	assert.Equal(t, 3, d1.UnreadCount)
	g1, ok := a.store.Channel("g1")
	require.True(t, ok)
	assert.Equal(t, "Team", g1.Title)
	assert.True(t, a.store.FoldersLoaded())

	meta, ok := a.store.Pagination(model.PaginationKey{Filter: model.FilterDirect})
	require.True(t, ok)
	assert.True(t, meta.IsLastPage())
}

func TestApp_StartEnablesWithTrustedDevice(t *testing.T) {
	srv := newBackend(t)
	ctx := context.Background()
	a, err := newApp(ctx, testConfig(t, srv.URL))
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.bootstrap.Start(ctx))
	assert.Equal(t, model.EncryptionEnabled, a.bootstrap.Status())
	assert.Nil(t, a.listener)
}

func TestNewApp_RequiresSelf(t *testing.T) {
	cfg := testConfig(t, "http://localhost")
	cfg.SelfGID = ""
	_, err := newApp(context.Background(), cfg)
	assert.Error(t, err)
}
