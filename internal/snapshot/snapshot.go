// Package snapshot persists captured frames as JPEG files.
package snapshot

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/bryanchriswhite/PlanarView/internal/frame"
	"github.com/bryanchriswhite/PlanarView/internal/logger"
)

// ErrClosed is returned by Save after Close
var ErrClosed = errors.New("snapshot: saver closed")

// ErrBusy is returned when the save queue is full
var ErrBusy = errors.New("snapshot: save queue full")

// Result reports the outcome of one save
type Result struct {
	ID     string    `json:"id"`
	Path   string    `json:"path,omitempty"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Time   time.Time `json:"time"`
	Err    error     `json:"-"`
}

type job struct {
	id  string
	img *image.YCbCr
	at  time.Time
}

// Saver writes JPEGs on a background worker
type Saver struct {
	fs      afero.Fs
	dir     string
	quality int
	now     func() time.Time

	jobs chan job
	wg   sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	onSaved func(Result)
	last    *Result
}

// NewSaver creates a saver writing into dir on fs and starts its worker
func NewSaver(fs afero.Fs, dir string, quality int) *Saver {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	s := &Saver{
		fs:      fs,
		dir:     dir,
		quality: quality,
		now:     time.Now,
		jobs:    make(chan job, 4),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// OnSaved registers a callback invoked from the worker after every save
func (s *Saver) OnSaved(fn func(Result)) {
	s.mu.Lock()
	s.onSaved = fn
	s.mu.Unlock()
}

// Last returns the most recent result, if any
func (s *Saver) Last() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

// FileName builds the capture file name for id at t
func FileName(t time.Time, id string) string {
	return fmt.Sprintf("capture_%s_%s.jpg", t.Format("20060102_150405"), id)
}

// Save copies buf and queues it for encoding. Save always consumes buf:
// it is released before Save returns, whatever the outcome.
func (s *Saver) Save(buf *frame.Buffer) (string, error) {
	if buf == nil {
		return "", fmt.Errorf("snapshot: nil frame")
	}
	img, err := frame.ToYCbCr(buf)
	if rerr := buf.Release(); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		return "", fmt.Errorf("failed to copy frame: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	id := uuid.NewString()[:8]
	select {
	case s.jobs <- job{id: id, img: img, at: s.now()}:
		return id, nil
	default:
		return "", ErrBusy
	}
}

// WriteImage encodes img synchronously into the capture directory
func (s *Saver) WriteImage(img image.Image) (string, error) {
	return s.write(uuid.NewString()[:8], img, s.now())
}

func (s *Saver) write(id string, img image.Image, at time.Time) (string, error) {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create capture dir: %w", err)
	}
	path := filepath.Join(s.dir, FileName(at, id))
	f, err := s.fs.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: s.quality}); err != nil {
		f.Close()
		_ = s.fs.Remove(path)
		return "", fmt.Errorf("failed to encode jpeg: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	return path, nil
}

func (s *Saver) worker() {
	defer s.wg.Done()
	log := logger.WithComponent("snapshot")

	for j := range s.jobs {
		b := j.img.Bounds()
		res := Result{ID: j.id, Width: b.Dx(), Height: b.Dy(), Time: j.at}
		res.Path, res.Err = s.write(j.id, j.img, j.at)
		if res.Err != nil {
			log.Error().Err(res.Err).Str("id", j.id).Msg("Failed to save capture")
		} else {
			log.Info().Str("path", res.Path).Int("width", res.Width).Int("height", res.Height).Msg("Capture saved")
		}

		s.mu.Lock()
		s.last = &res
		cb := s.onSaved
		s.mu.Unlock()
		if cb != nil {
			cb(res)
		}
	}
}

// Close stops accepting saves and waits for queued ones to finish
func (s *Saver) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()
	s.wg.Wait()
}
