package output

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/PlanarView/internal/logger"
)

// MJPEGOutput streams presented frames as Motion JPEG over HTTP
type MJPEGOutput struct {
	config  Config
	running bool
	mu      sync.RWMutex

	frameMu    sync.RWMutex
	lastJPEG   []byte
	lastUpdate time.Time

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	frameCount   atomic.Uint64
	skippedCount atomic.Uint64
	startTime    time.Time
}

var _ Output = (*MJPEGOutput)(nil)

// Stats is a snapshot of stream activity
type Stats struct {
	Running bool    `json:"running"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Frames  uint64  `json:"frames"`
	Skipped uint64  `json:"skipped"`
	Clients int     `json:"clients"`
	FPS     float64 `json:"fps"`
	Uptime  string  `json:"uptime"`
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config Config) *MJPEGOutput {
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = 80
	}
	return &MJPEGOutput{
		config:  config,
		clients: make(map[chan []byte]struct{}),
	}
}

// Start enables the output; the HTTP handlers are mounted separately
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}
	m.running = true
	m.startTime = time.Now()
	m.frameCount.Store(0)
	m.skippedCount.Store(0)

	logger.WithComponent("mjpeg").Info().
		Int("width", m.config.Width).
		Int("height", m.config.Height).
		Int("quality", m.config.Quality).
		Msg("MJPEG output started")
	return nil
}

// Stop disconnects every client
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().
		Uint64("frames", m.frameCount.Load()).
		Msg("MJPEG output stopped")
	return nil
}

// WriteFrame encodes frame and broadcasts it. Slow clients miss frames
// rather than stalling the render loop.
func (m *MJPEGOutput) WriteFrame(frame *image.RGBA) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: m.config.Quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	jpegData := buf.Bytes()

	m.frameMu.Lock()
	m.lastJPEG = jpegData
	m.lastUpdate = time.Now()
	m.frameMu.Unlock()
	m.frameCount.Add(1)

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
			m.skippedCount.Add(1)
		}
	}
	m.clientsMu.RUnlock()
	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// LastJPEG returns the most recently encoded frame, if any
func (m *MJPEGOutput) LastJPEG() ([]byte, bool) {
	m.frameMu.RLock()
	defer m.frameMu.RUnlock()
	return m.lastJPEG, m.lastJPEG != nil
}

// ClientCount returns the number of connected stream clients
func (m *MJPEGOutput) ClientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// Stats returns stream statistics
func (m *MJPEGOutput) Stats() Stats {
	m.mu.RLock()
	running := m.running
	startTime := m.startTime
	m.mu.RUnlock()

	s := Stats{
		Running: running,
		Width:   m.config.Width,
		Height:  m.config.Height,
		Frames:  m.frameCount.Load(),
		Skipped: m.skippedCount.Load(),
		Clients: m.ClientCount(),
	}
	if running && !startTime.IsZero() {
		elapsed := time.Since(startTime)
		if secs := elapsed.Seconds(); secs > 0 {
			s.FPS = float64(s.Frames) / secs
		}
		s.Uptime = elapsed.Round(time.Second).String()
	}
	return s
}

func (m *MJPEGOutput) addClient() chan []byte {
	ch := make(chan []byte, 2)
	m.clientsMu.Lock()
	m.clients[ch] = struct{}{}
	n := len(m.clients)
	m.clientsMu.Unlock()
	logger.WithComponent("mjpeg").Info().Int("clients", n).Msg("Stream client connected")
	return ch
}

func (m *MJPEGOutput) removeClient(ch chan []byte) {
	m.clientsMu.Lock()
	delete(m.clients, ch)
	n := len(m.clients)
	m.clientsMu.Unlock()
	logger.WithComponent("mjpeg").Info().Int("clients", n).Msg("Stream client disconnected")
}

// GetHTTPHandler returns the multipart stream handler. The last frame is
// sent immediately so a paused on-demand renderer still shows a picture.
func (m *MJPEGOutput) GetHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.IsRunning() {
			http.Error(w, "stream not running", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		frameChan := m.addClient()
		defer m.removeClient(frameChan)

		if last, ok := m.LastJPEG(); ok {
			if err := writePart(w, last); err != nil {
				return
			}
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case jpegData, ok := <-frameChan:
				if !ok {
					return
				}
				if err := writePart(w, jpegData); err != nil {
					return
				}
			}
		}
	}
}

func writePart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// GetSnapshotHandler serves the last frame as a single JPEG
func (m *MJPEGOutput) GetSnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		last, ok := m.LastJPEG()
		if !ok {
			http.Error(w, "no frame yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(last)
	}
}

// GetViewerHandler returns the viewer page: the stream plus panel controls
func (m *MJPEGOutput) GetViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(viewerHTML))
	}
}

const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>PlanarView</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body { background: #000; color: #ccc; font-family: system-ui, sans-serif; overflow: hidden; }
        img { width: 100vw; height: 100vh; object-fit: contain; display: block; }
        .panel {
            position: fixed; bottom: 16px; left: 16px; padding: 12px;
            background: rgba(40, 40, 40, 0.9); border-radius: 12px;
            display: grid; grid-template-columns: auto 160px; gap: 6px 12px;
            font-size: 13px; opacity: 0.2; transition: opacity 0.2s ease;
        }
        .panel:hover { opacity: 1; }
        button { grid-column: span 2; padding: 6px; border: none; border-radius: 8px; background: #4682b4; color: #fff; cursor: pointer; }
    </style>
</head>
<body>
    <img src="/stream" alt="PlanarView">
    <div class="panel">
        <label>Whitening</label><input type="range" min="0" max="1" step="0.05" value="0" data-tab="beauty" data-fn="whitening">
        <label>Smoothing</label><input type="range" min="0" max="1" step="0.05" value="0" data-tab="beauty" data-fn="smoothing">
        <label>Brightness</label><input type="range" min="-1" max="1" step="0.05" value="0" data-tab="adjust" data-fn="brightness">
        <label>Contrast</label><input type="range" min="-1" max="1" step="0.05" value="0" data-tab="adjust" data-fn="contrast">
        <label>Grayscale</label><input type="checkbox" data-tab="filter" data-fn="grayscale">
        <button onclick="post('/api/camera/switch')">Switch camera</button>
        <button onclick="post('/api/capture')">Capture</button>
        <button onclick="post('/api/camera/resume')">Back to camera</button>
    </div>
    <script>
        const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
        const ws = new WebSocket(proto + location.host + '/api/panel/ws');
        function post(path) { fetch(path, { method: 'POST' }).catch(console.error); }
        document.querySelectorAll('input').forEach(el => {
            el.addEventListener('input', () => {
                const value = el.type === 'checkbox' ? (el.checked ? 1 : 0) : parseFloat(el.value);
                const ev = { type: 'panel', event: { tab: el.dataset.tab, function: el.dataset.fn, value: value } };
                if (ws.readyState === WebSocket.OPEN) ws.send(JSON.stringify(ev));
            });
        });
    </script>
</body>
</html>`
