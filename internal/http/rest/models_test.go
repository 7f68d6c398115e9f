package rest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/model_downloader/internal/downloader"
	"github.com/italolelis/model_downloader/internal/event"
	"github.com/italolelis/model_downloader/internal/logctx"
)

type fakeService struct {
	events    []event.Event
	startErr  error
	cancelled bool
	startedID string
}

func (f *fakeService) Start(_ context.Context, id string) (<-chan event.Event, error) {
	f.startedID = id

	if f.startErr != nil {
		return nil, f.startErr
	}

	ch := make(chan event.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)

	return ch, nil
}

func (f *fakeService) Cancel(context.Context, string) bool { return f.cancelled }

func (f *fakeService) Models() []downloader.ModelInfo {
	return []downloader.ModelInfo{{ID: "demo", Name: "Demo", Filename: "demo.gguf", SizeGB: 2.5}}
}

func (f *fakeService) Status(id string) (downloader.ModelStatus, error) {
	if id != "demo" {
		return downloader.ModelStatus{}, downloader.ErrUnknownArtifact
	}

	return downloader.ModelStatus{ID: "demo", Name: "Demo", IsDownloading: true, Progress: 40}, nil
}

func (f *fakeService) ActiveCount() int { return 1 }

func serve(t *testing.T, svc ModelService, method, path string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	NewModelsHandler(svc).Routes().ServeHTTP(rec, httptest.NewRequest(method, path, nil))

	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())

	return body
}

func sseEvents(t *testing.T, body string) []map[string]interface{} {
	t.Helper()

	var out []map[string]interface{}

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		require.True(t, strings.HasPrefix(line, "data: "), line)

		var ev map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))

		out = append(out, ev)
	}

	return out
}

func TestListModels(t *testing.T) {
	rec := serve(t, &fakeService{}, http.MethodGet, "/api/models")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])

	models := body["models"].([]interface{})
	require.Len(t, models, 1)

	first := models[0].(map[string]interface{})
	assert.Equal(t, "demo", first["id"])
	assert.Equal(t, 2.5, first["size_gb"])
	assert.Equal(t, false, first["is_downloaded"])
}

func TestModelStatus(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"known model", "/api/models/demo/status", http.StatusOK},
		{"unknown model", "/api/models/other/status", http.StatusNotFound},
		{"invalid id", "/api/models/bad%20id/status", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, &fakeService{}, http.MethodGet, tt.path)
			require.Equal(t, tt.status, rec.Code)

			body := decodeBody(t, rec)
			if tt.status == http.StatusOK {
				assert.Equal(t, true, body["success"])
				assert.Equal(t, "demo", body["id"])
				assert.EqualValues(t, 40, body["progress"])
				assert.Contains(t, body, "file_path")
				assert.Nil(t, body["file_path"])
			} else {
				assert.Equal(t, false, body["success"])
				assert.NotEmpty(t, body["detail"])
			}
		})
	}
}

func TestDownload_StreamsEvents(t *testing.T) {
	svc := &fakeService{events: []event.Event{
		event.Started{ModelID: "demo", ModelName: "Demo"},
		event.Progress{Progress: 10, SpeedMBps: 1.5, ETASeconds: 90, Method: "wget"},
		event.Completed{Progress: 100, Method: "wget"},
	}}

	rec := serve(t, svc, http.MethodGet, "/api/models/demo/download")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.True(t, rec.Flushed)
	assert.Equal(t, "demo", svc.startedID)

	evs := sseEvents(t, rec.Body.String())
	require.Len(t, evs, 3)
	assert.Equal(t, "started", evs[0]["type"])
	assert.Equal(t, "progress", evs[1]["type"])
	assert.Equal(t, "wget", evs[1]["method"])
	assert.Equal(t, "completed", evs[2]["type"])
}

func TestDownload_GuardFailures(t *testing.T) {
	tests := []struct {
		err     error
		message string
	}{
		{downloader.ErrUnknownArtifact, "Model not found"},
		{downloader.ErrAlreadyInProgress, "Download already in progress"},
	}

	for _, tt := range tests {
		rec := serve(t, &fakeService{startErr: tt.err}, http.MethodGet, "/api/models/demo/download")

		require.Equal(t, http.StatusOK, rec.Code)

		evs := sseEvents(t, rec.Body.String())
		require.Len(t, evs, 1)
		assert.Equal(t, "error", evs[0]["type"])
		assert.Equal(t, tt.message, evs[0]["message"])
	}
}

func TestDownload_InvalidID(t *testing.T) {
	svc := &fakeService{}
	rec := serve(t, svc, http.MethodGet, "/api/models/bad$id/download")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.startedID)
}

func TestInvalidIDLogsThroughRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/models/bad$id/status", nil)
	req = req.WithContext(logctx.WithLogger(req.Context(), logger))

	rec := httptest.NewRecorder()
	NewModelsHandler(&fakeService{}).Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, buf.String(), `"msg":"rejected model id"`)
	assert.Contains(t, buf.String(), `"id":"bad$id"`)
}

func TestCancelDownload(t *testing.T) {
	rec := serve(t, &fakeService{cancelled: true}, http.MethodDelete, "/api/models/demo/download")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"success": true, "message": "Cancelled"}, decodeBody(t, rec))

	rec = serve(t, &fakeService{}, http.MethodDelete, "/api/models/demo/download")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"success": false, "message": "No active download"}, decodeBody(t, rec))

	rec = serve(t, &fakeService{}, http.MethodDelete, "/api/models/bad$id/download")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := serve(t, &fakeService{}, http.MethodGet, "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"status": "ok", "active_downloads": float64(1)}, decodeBody(t, rec))
}

func TestPreflight(t *testing.T) {
	rec := serve(t, &fakeService{}, http.MethodOptions, "/api/models/demo/download")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, DELETE, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}
