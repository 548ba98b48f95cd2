package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/PlanarView/internal/effect"
	"github.com/bryanchriswhite/PlanarView/internal/frame"
	"github.com/bryanchriswhite/PlanarView/internal/output"
	"github.com/bryanchriswhite/PlanarView/internal/preview"
	"github.com/bryanchriswhite/PlanarView/internal/render"
	"github.com/bryanchriswhite/PlanarView/internal/source"
)

type fakePreview struct {
	mu        sync.Mutex
	switchErr error
	switches  int
	resumes   int
	captures  int
	events    []effect.Event
	stillSize image.Point
}

func (f *fakePreview) SwitchFacing() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switches++
	return f.switchErr
}

func (f *fakePreview) BackToCamera() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
	return nil
}

func (f *fakePreview) SelectStill(still *frame.Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stillSize = image.Pt(still.Width(), still.Height())
	return still.Release()
}

func (f *fakePreview) RequestCapture() {
	f.mu.Lock()
	f.captures++
	f.mu.Unlock()
}

func (f *fakePreview) ApplyPanelEvent(ev effect.Event) error {
	if ev.Tab == "nope" {
		return fmt.Errorf("%w: %s", effect.ErrUnknownParam, ev.Tab)
	}
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	return nil
}

func (f *fakePreview) Status() preview.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return preview.Status{Mode: "video", Captures: uint64(f.captures)}
}

func (f *fakePreview) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeRenderer struct {
	mu       sync.Mutex
	enabled  bool
	mirror   bool
	requests int
}

func (f *fakeRenderer) SetRenderingEnabled(enabled bool) {
	f.mu.Lock()
	f.enabled = enabled
	f.mu.Unlock()
}

func (f *fakeRenderer) RenderingEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeRenderer) SetMirror(mirror bool) {
	f.mu.Lock()
	f.mirror = mirror
	f.mu.Unlock()
}

func (f *fakeRenderer) RequestRender() {
	f.mu.Lock()
	f.requests++
	f.mu.Unlock()
}

func (f *fakeRenderer) Stats() render.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return render.Stats{State: "ready", Enabled: f.enabled, Mirror: f.mirror, Drawn: 7}
}

type harness struct {
	preview  *fakePreview
	renderer *fakeRenderer
	pool     *frame.Pool
	server   *Server
}

func newHarness() *harness {
	h := &harness{
		preview:  &fakePreview{},
		renderer: &fakeRenderer{enabled: true},
		pool:     frame.NewPool(16),
	}
	h.server = NewServer(Options{
		Preview:       h.preview,
		Renderer:      h.renderer,
		Stream:        output.NewMJPEGOutput(output.Config{}),
		Pool:          h.pool,
		StillLimits:   source.StillLimits{MaxLongSide: 64, MaxShortSide: 32},
		StatsInterval: 20 * time.Millisecond,
	})
	return h
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestRenderControls(t *testing.T) {
	h := newHarness()

	rec := h.do(http.MethodPut, "/api/render/enabled", `{"enabled": false}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, h.renderer.RenderingEnabled())

	rec = h.do(http.MethodPut, "/api/render/mirror", `{"mirror": true}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodPut, "/api/render/mirror", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/api/render/request", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, h.renderer.requests)

	rec = h.do(http.MethodGet, "/api/render", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st RenderStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.False(t, st.Renderer.Enabled)
	assert.True(t, st.Renderer.Mirror)
	assert.Equal(t, uint64(7), st.Renderer.Drawn)
	assert.Equal(t, "video", st.Preview.Mode)
	assert.Nil(t, st.Loop)
	require.NotNil(t, st.Stream)
	assert.False(t, st.Stream.Running)
}

func TestCameraRoutes(t *testing.T) {
	h := newHarness()

	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/camera/switch", "").Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/camera/resume", "").Code)
	assert.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/api/capture", "").Code)

	h.preview.switchErr = preview.ErrNoCamera
	rec := h.do(http.MethodPost, "/api/camera/switch", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "no camera")

	assert.Equal(t, 2, h.preview.switches)
	assert.Equal(t, 1, h.preview.resumes)
	assert.Equal(t, 1, h.preview.captures)

	assert.Equal(t, http.StatusMethodNotAllowed, h.do(http.MethodGet, "/api/camera/switch", "").Code)
}

func TestPanelRoute(t *testing.T) {
	h := newHarness()

	rec := h.do(http.MethodPost, "/api/panel", `{"tab":"adjust","function":"brightness","value":0.5}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, h.preview.eventCount())
	assert.Equal(t, effect.Event{Tab: "adjust", Function: "brightness", Value: 0.5}, h.preview.events[0])

	rec = h.do(http.MethodPost, "/api/panel", `{"tab":"nope","function":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/api/panel", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func upload(t *testing.T, img image.Image) (*bytes.Buffer, string) {
	t.Helper()
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("image", "still.png")
	require.NoError(t, err)
	require.NoError(t, png.Encode(part, img))
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestStillUploadIsDecodedAndScaled(t *testing.T) {
	h := newHarness()

	src := image.NewRGBA(image.Rect(0, 0, 128, 64))
	for i := range src.Pix {
		src.Pix[i] = 200
	}
	body, ct := upload(t, src)
	req := httptest.NewRequest(http.MethodPost, "/api/still", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, image.Pt(64, 32), h.preview.stillSize)
	assert.Equal(t, int64(0), h.pool.Stats().Outstanding)
}

func TestStillUploadRejectsGarbage(t *testing.T) {
	h := newHarness()

	rec := h.do(http.MethodPost, "/api/still", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("image", "still.png")
	require.NoError(t, err)
	part.Write([]byte("definitely not an image"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/still", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, image.Point{}, h.preview.stillSize)
}

func TestHealthConfigAndViewer(t *testing.T) {
	h := newHarness()

	rec := h.do(http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/config", "").Code)

	rec = h.do(http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/panel/ws")

	rec = h.do(http.MethodOptions, "/api/panel", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPanelSocket(t *testing.T) {
	h := newHarness()
	srv := httptest.NewServer(h.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/panel/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "status", msg.Type)
	require.NotNil(t, msg.Status)

	next := func(typ string) wsMessage {
		for {
			var m wsMessage
			require.NoError(t, conn.ReadJSON(&m))
			if m.Type == typ {
				return m
			}
		}
	}

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":  "panel",
		"event": map[string]interface{}{"tab": "beauty", "function": "whitening", "value": 0.3},
	}))
	ack := next("ack")
	require.NotNil(t, ack.Event)
	assert.Equal(t, "whitening", ack.Event.Function)
	assert.Equal(t, 1, h.preview.eventCount())

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "dance"}))
	bad := next("error")
	assert.Contains(t, bad.Error, "unknown message type")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "capture"}))
	next("ack")
	status := next("status")
	require.NotNil(t, status.Status)
	assert.Equal(t, uint64(1), status.Status.Preview.Captures)
}
