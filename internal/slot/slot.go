// Package slot provides the single-frame mailbox between a producer and the
// render goroutine. Only the newest frame is kept.
package slot

import (
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/PlanarView/internal/frame"
	"github.com/bryanchriswhite/PlanarView/internal/logger"
)

// Slot holds at most one frame. Installing over an occupied slot releases
// the previous occupant. The mutex only guards the pointer swap; releases
// happen after it is dropped.
type Slot struct {
	name string

	mu  sync.Mutex
	buf *frame.Buffer

	installs  atomic.Uint64
	takes     atomic.Uint64
	overwrite atomic.Uint64
	rejected  atomic.Uint64
}

// Stats is a snapshot of slot activity
type Stats struct {
	Installs    uint64 `json:"installs"`
	Takes       uint64 `json:"takes"`
	Overwritten uint64 `json:"overwritten"`
	Rejected    uint64 `json:"rejected"`
	Occupied    bool   `json:"occupied"`
}

// New creates an empty slot. name only shows up in logs.
func New(name string) *Slot {
	return &Slot{name: name}
}

// Install takes ownership of buf and makes it the current occupant. The
// caller's handle is invalidated. A nil buf empties the slot (stream
// stopped). Installing the frame that already occupies the slot is a no-op.
func (s *Slot) Install(buf *frame.Buffer) {
	if buf == nil {
		s.Clear()
		return
	}

	s.mu.Lock()
	if s.buf.SameFrame(buf) {
		s.mu.Unlock()
		return
	}
	owned := buf.Handoff()
	if owned == nil {
		s.mu.Unlock()
		s.rejected.Add(1)
		logger.WithComponent("slot").Warn().
			Str("slot", s.name).
			Str("frame", buf.String()).
			Msg("Ignoring install of a frame the caller does not own")
		return
	}
	prev := s.buf
	s.buf = owned
	s.mu.Unlock()

	s.installs.Add(1)
	if prev != nil {
		s.overwrite.Add(1)
		s.release(prev)
	}
}

// Take moves the occupant out of the slot. It returns nil when the slot is
// empty; the caller owns whatever it gets.
func (s *Slot) Take() *frame.Buffer {
	s.mu.Lock()
	buf := s.buf
	s.buf = nil
	s.mu.Unlock()

	if buf == nil {
		return nil
	}
	s.takes.Add(1)
	return buf
}

// Clear releases the occupant, if any
func (s *Slot) Clear() {
	s.mu.Lock()
	buf := s.buf
	s.buf = nil
	s.mu.Unlock()

	if buf != nil {
		s.release(buf)
	}
}

// Occupied reports whether a frame is waiting
func (s *Slot) Occupied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf != nil
}

// Stats returns a snapshot of slot counters
func (s *Slot) Stats() Stats {
	return Stats{
		Installs:    s.installs.Load(),
		Takes:       s.takes.Load(),
		Overwritten: s.overwrite.Load(),
		Rejected:    s.rejected.Load(),
		Occupied:    s.Occupied(),
	}
}

func (s *Slot) release(buf *frame.Buffer) {
	if err := buf.Release(); err != nil {
		logger.WithComponent("slot").Error().
			Err(err).
			Str("slot", s.name).
			Msg("Failed to release replaced frame")
	}
}
