package render

import (
	"errors"
	"sync"

	"github.com/bryanchriswhite/PlanarView/internal/frame"
	"github.com/bryanchriswhite/PlanarView/internal/gpu"
)

type devCall struct {
	op      string
	format  gpu.Format
	x, y    int
	w, h    int
	nilData bool
	data    []byte
	floats  []float32
	unit    int
	texture gpu.Texture
}

// recordingDevice records every upload and draw call
type recordingDevice struct {
	failPrograms bool
	failTextures bool

	calls       []devCall
	nextProgram gpu.Program
	nextTexture gpu.Texture
	deleted     []gpu.Texture
	active      int
	bound       map[int]gpu.Texture
	clears      int
	viewport    [4]int
}

func newRecordingDevice() *recordingDevice {
	return &recordingDevice{bound: make(map[int]gpu.Texture)}
}

func (d *recordingDevice) record(c devCall) { d.calls = append(d.calls, c) }

func (d *recordingDevice) callsOf(op string) []devCall {
	var out []devCall
	for _, c := range d.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (d *recordingDevice) reset() { d.calls = nil }

func (d *recordingDevice) Viewport(x, y, w, h int)        { d.viewport = [4]int{x, y, w, h} }
func (d *recordingDevice) ClearColor(r, g, b, a float32) {}
func (d *recordingDevice) Clear()                        { d.clears++ }

func (d *recordingDevice) CreateProgram(vertex, fragment string) (gpu.Program, error) {
	if d.failPrograms {
		return 0, errors.New("compile error")
	}
	d.nextProgram++
	return d.nextProgram, nil
}

func (d *recordingDevice) DeleteProgram(p gpu.Program) { d.record(devCall{op: "DeleteProgram"}) }
func (d *recordingDevice) UseProgram(p gpu.Program)    { d.record(devCall{op: "UseProgram"}) }

func (d *recordingDevice) AttribLocation(p gpu.Program, name string) gpu.Attrib {
	if name == gpu.AttribPosition {
		return 0
	}
	return 1
}

func (d *recordingDevice) UniformLocation(p gpu.Program, name string) gpu.Uniform {
	switch name {
	case gpu.SamplerY:
		return 0
	case gpu.SamplerU:
		return 1
	default:
		return 2
	}
}

func (d *recordingDevice) Uniform1i(u gpu.Uniform, v int) {
	d.record(devCall{op: "Uniform1i", unit: v})
}

func (d *recordingDevice) GenTextures(n int) []gpu.Texture {
	if d.failTextures {
		return nil
	}
	out := make([]gpu.Texture, n)
	for i := range out {
		d.nextTexture++
		out[i] = d.nextTexture
	}
	return out
}

func (d *recordingDevice) DeleteTextures(ts ...gpu.Texture) { d.deleted = append(d.deleted, ts...) }
func (d *recordingDevice) ActiveTexture(unit int)           { d.active = unit }

func (d *recordingDevice) BindTexture(t gpu.Texture) {
	d.bound[d.active] = t
	d.record(devCall{op: "BindTexture", unit: d.active, texture: t})
}

func (d *recordingDevice) TexParameters(min, mag gpu.Filter) {}

func (d *recordingDevice) PixelStoreUnpackAlignment(align int) {
	d.record(devCall{op: "PixelStore", x: align})
}

func (d *recordingDevice) TexImage2D(format gpu.Format, w, h int, data []byte) error {
	d.record(devCall{op: "TexImage2D", format: format, w: w, h: h, nilData: data == nil,
		data: append([]byte(nil), data...), unit: d.active, texture: d.bound[d.active]})
	return nil
}

func (d *recordingDevice) TexSubImage2D(format gpu.Format, x, y, w, h int, data []byte) error {
	d.record(devCall{op: "TexSubImage2D", format: format, x: x, y: y, w: w, h: h,
		data: append([]byte(nil), data...), unit: d.active, texture: d.bound[d.active]})
	return nil
}

func (d *recordingDevice) EnableVertexAttribArray(a gpu.Attrib)  {}
func (d *recordingDevice) DisableVertexAttribArray(a gpu.Attrib) {}

func (d *recordingDevice) VertexAttribPointer(a gpu.Attrib, size int, data []float32) {
	d.record(devCall{op: "VertexAttribPointer", x: int(a), floats: append([]float32(nil), data...)})
}

func (d *recordingDevice) DrawArrays(mode gpu.Mode, first, count int) {
	d.record(devCall{op: "DrawArrays", x: first, w: count})
}

// queueProvider hands out queued frames, nil when empty, and releases what
// it gets back
type queueProvider struct {
	mu       sync.Mutex
	queue    []*frame.Buffer
	pulls    int
	released []*frame.Buffer
	errs     []error
	panicOn  int
}

func (p *queueProvider) push(bufs ...*frame.Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range bufs {
		p.queue = append(p.queue, b.Handoff())
	}
}

func (p *queueProvider) CurrentFrame() *frame.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pulls++
	if p.panicOn == p.pulls {
		panic("provider exploded")
	}
	if len(p.queue) == 0 {
		return nil
	}
	buf := p.queue[0]
	p.queue = p.queue[1:]
	return buf.Handoff()
}

func (p *queueProvider) ReleaseFrame(buf *frame.Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, buf)
	if err := buf.Release(); err != nil {
		p.errs = append(p.errs, err)
	}
}

func (p *queueProvider) stats() (pulls, released int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pulls, len(p.released)
}

// taggedFrame builds a w x h planar frame whose rows carry their row index
// and whose padding is 0xEE
func taggedFrame(w, h, strideY, strideUV int, opts ...frame.Option) *frame.Buffer {
	cw, ch := frame.ChromaSize(w, h)
	plane := func(pw, ph, stride int, base byte) frame.Plane {
		data := make([]byte, stride*ph)
		for y := 0; y < ph; y++ {
			for x := 0; x < stride; x++ {
				if x < pw {
					data[y*stride+x] = base + byte(y)
				} else {
					data[y*stride+x] = 0xEE
				}
			}
		}
		return frame.Plane{Data: data, Stride: stride}
	}
	return frame.NewPlanar(w, h,
		plane(w, h, strideY, 0),
		plane(cw, ch, strideUV, 16),
		plane(cw, ch, strideUV, 32),
		opts...,
	)
}
