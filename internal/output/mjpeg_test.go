package output

import (
	"bufio"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestMJPEGLifecycle(t *testing.T) {
	m := NewMJPEGOutput(Config{Width: 32, Height: 16})
	assert.Error(t, m.WriteFrame(solid(32, 16, color.RGBA{A: 255})))

	require.NoError(t, m.Start())
	assert.Error(t, m.Start())
	assert.True(t, m.IsRunning())

	require.NoError(t, m.WriteFrame(solid(32, 16, color.RGBA{R: 255, A: 255})))
	st := m.Stats()
	assert.Equal(t, uint64(1), st.Frames)
	assert.True(t, st.Running)

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	assert.False(t, m.Stats().Running)
}

func TestSnapshotHandler(t *testing.T) {
	m := NewMJPEGOutput(Config{Quality: 95})
	require.NoError(t, m.Start())
	defer m.Stop()

	rec := httptest.NewRecorder()
	m.GetSnapshotHandler()(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, m.WriteFrame(solid(20, 10, color.RGBA{G: 200, A: 255})))
	rec = httptest.NewRecorder()
	m.GetSnapshotHandler()(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))

	img, err := jpeg.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 10), img.Bounds())
	_, g, _, _ := img.At(10, 5).RGBA()
	assert.InDelta(t, 200, g>>8, 8)
}

func readPart(t *testing.T, r *bufio.Reader) []byte {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "--frame\r\n", line)
	hdr, err := textproto.NewReader(r).ReadMIMEHeader()
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", hdr.Get("Content-Type"))
	n, err := strconv.Atoi(hdr.Get("Content-Length"))
	require.NoError(t, err)
	body := make([]byte, n)
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)
	_, err = r.ReadString('\n')
	require.NoError(t, err)
	return body
}

func TestStreamSendsLastThenLiveFrames(t *testing.T) {
	m := NewMJPEGOutput(Config{})
	require.NoError(t, m.Start())
	defer m.Stop()
	require.NoError(t, m.WriteFrame(solid(8, 8, color.RGBA{B: 255, A: 255})))

	srv := httptest.NewServer(m.GetHTTPHandler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "multipart/x-mixed-replace"))

	r := bufio.NewReader(resp.Body)
	first := readPart(t, r)
	last, _ := m.LastJPEG()
	assert.True(t, bytes.Equal(first, last))

	require.Eventually(t, func() bool { return m.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, m.WriteFrame(solid(8, 8, color.RGBA{R: 255, A: 255})))
	second := readPart(t, r)
	_, err = jpeg.Decode(bytes.NewReader(second))
	require.NoError(t, err)
	assert.False(t, bytes.Equal(first, second))

	cancel()
	require.Eventually(t, func() bool { return m.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestStreamUnavailableWhenStopped(t *testing.T) {
	m := NewMJPEGOutput(Config{})
	rec := httptest.NewRecorder()
	m.GetHTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
