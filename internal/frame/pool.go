package frame

import (
	"sync"
	"sync/atomic"
)

// maxFreePerSize bounds how many spare planes of one size the pool keeps
const maxFreePerSize = 6

// Pool hands out row-aligned planar buffers and recycles their memory when
// they are released. A nil *Pool allocates tightly packed planes and never
// recycles.
type Pool struct {
	align int

	mu   sync.Mutex
	free map[int][][]byte

	outstanding atomic.Int64
	allocated   atomic.Uint64
	reused      atomic.Uint64
	seq         atomic.Uint64
}

// PoolStats is a snapshot of pool activity
type PoolStats struct {
	Outstanding int64  `json:"outstanding"`
	Allocated   uint64 `json:"allocated"`
	Reused      uint64 `json:"reused"`
}

// NewPool creates a pool whose row strides are rounded up to align bytes
func NewPool(align int) *Pool {
	if align < 1 {
		align = 1
	}
	return &Pool{
		align: align,
		free:  make(map[int][][]byte),
	}
}

// Stride returns the row stride the pool uses for a row of width bytes
func (p *Pool) Stride(width int) int {
	if p == nil || p.align <= 1 {
		return width
	}
	return (width + p.align - 1) / p.align * p.align
}

// Get returns a new owned planar buffer of the given size. Plane contents
// are not cleared when memory is reused.
func (p *Pool) Get(width, height int, opts ...Option) *Buffer {
	cw, ch := ChromaSize(width, height)
	ys, cs := p.Stride(width), p.Stride(cw)

	y := Plane{Data: p.take(ys * height), Stride: ys}
	u := Plane{Data: p.take(cs * ch), Stride: cs}
	v := Plane{Data: p.take(cs * ch), Stride: cs}

	if p == nil {
		return NewPlanar(width, height, y, u, v, opts...)
	}

	p.outstanding.Add(1)
	all := append([]Option{
		WithSeq(p.seq.Add(1)),
		WithReleaseFunc(func() {
			p.put(y.Data)
			p.put(u.Data)
			p.put(v.Data)
			p.outstanding.Add(-1)
		}),
	}, opts...)
	return NewPlanar(width, height, y, u, v, all...)
}

// Stats returns a snapshot of pool counters
func (p *Pool) Stats() PoolStats {
	if p == nil {
		return PoolStats{}
	}
	return PoolStats{
		Outstanding: p.outstanding.Load(),
		Allocated:   p.allocated.Load(),
		Reused:      p.reused.Load(),
	}
}

func (p *Pool) take(size int) []byte {
	if p == nil {
		return make([]byte, size)
	}

	p.mu.Lock()
	list := p.free[size]
	if n := len(list); n > 0 {
		buf := list[n-1]
		p.free[size] = list[:n-1]
		p.mu.Unlock()
		p.reused.Add(1)
		return buf
	}
	p.mu.Unlock()

	p.allocated.Add(1)
	return make([]byte, size)
}

func (p *Pool) put(buf []byte) {
	size := len(buf)
	if size == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free[size]) >= maxFreePerSize {
		return
	}
	p.free[size] = append(p.free[size], buf)
}
