// Package effect implements the image effect engine applied to frames
// before they reach the renderer.
//
// Effects work on planar 4:2:0 buffers in place. The engine always hands
// effects a private copy, so the caller's frame is never modified.
package effect

import (
	"fmt"

	"github.com/bryanchriswhite/PlanarView/internal/frame"
)

// Effect modifies a frame in place
type Effect interface {
	// Apply processes buf, which the effect may overwrite but not keep
	Apply(buf *frame.Buffer) error
	// Name identifies the effect in logs
	Name() string
}

// Chain applies effects in order
type Chain struct {
	effects []Effect
}

// NewChain creates a chain from effects
func NewChain(effects ...Effect) *Chain {
	return &Chain{effects: effects}
}

// Add appends an effect
func (c *Chain) Add(e Effect) {
	c.effects = append(c.effects, e)
}

// Len returns the number of effects
func (c *Chain) Len() int {
	return len(c.effects)
}

// Apply runs every effect on buf
func (c *Chain) Apply(buf *frame.Buffer) error {
	for i, e := range c.effects {
		if err := e.Apply(buf); err != nil {
			return fmt.Errorf("effect %d (%s) failed: %w", i, e.Name(), err)
		}
	}
	return nil
}

// eachLuma calls fn for every visible luma sample
func eachLuma(buf *frame.Buffer, fn func(v byte) byte) error {
	p, err := buf.Plane(frame.PlaneY)
	if err != nil {
		return err
	}
	w, h := buf.Width(), buf.Height()
	for y := 0; y < h; y++ {
		row := p.Data[y*p.Stride : y*p.Stride+w]
		for x, v := range row {
			row[x] = fn(v)
		}
	}
	return nil
}

func clampByte(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v + 0.5)
}

// Brightness shifts luma by Offset (-255..255)
type Brightness struct {
	Offset int
}

// Apply adds the offset to every luma sample
func (b Brightness) Apply(buf *frame.Buffer) error {
	return eachLuma(buf, func(v byte) byte {
		return clampByte(float64(int(v) + b.Offset))
	})
}

// Name returns the effect name
func (b Brightness) Name() string {
	return fmt.Sprintf("Brightness(%+d)", b.Offset)
}

// Contrast scales luma around mid gray. Factor 1 leaves the frame as is.
type Contrast struct {
	Factor float64
}

// Apply stretches luma around 128
func (c Contrast) Apply(buf *frame.Buffer) error {
	const midpoint = 128.0
	return eachLuma(buf, func(v byte) byte {
		return clampByte(midpoint + (float64(v)-midpoint)*c.Factor)
	})
}

// Name returns the effect name
func (c Contrast) Name() string {
	return fmt.Sprintf("Contrast(%.2f)", c.Factor)
}

// Whitening lifts luma towards white, more in the shadows than the highlights
type Whitening struct {
	Amount float64 // 0..1
}

// Apply brightens with a curve that keeps white at white
func (w Whitening) Apply(buf *frame.Buffer) error {
	var lut [256]byte
	for i := range lut {
		v := float64(i)
		lut[i] = clampByte(v + (255-v)*0.35*w.Amount)
	}
	return eachLuma(buf, func(v byte) byte { return lut[v] })
}

// Name returns the effect name
func (w Whitening) Name() string {
	return fmt.Sprintf("Whitening(%.2f)", w.Amount)
}

// Smoothing blends luma with a box blurred copy
type Smoothing struct {
	Amount float64 // 0..1
	Radius int
}

// Apply blurs the luma plane and mixes it back in by Amount
func (s Smoothing) Apply(buf *frame.Buffer) error {
	p, err := buf.Plane(frame.PlaneY)
	if err != nil {
		return err
	}
	radius := s.Radius
	if radius < 1 {
		radius = 1
	}

	w, h := buf.Width(), buf.Height()
	src := make([]byte, w*h)
	for y := 0; y < h; y++ {
		copy(src[y*w:(y+1)*w], p.Data[y*p.Stride:y*p.Stride+w])
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum, count := 0, 0
			for dy := -radius; dy <= radius; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -radius; dx <= radius; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					sum += int(src[ny*w+nx])
					count++
				}
			}
			blurred := float64(sum) / float64(count)
			orig := float64(src[y*w+x])
			p.Data[y*p.Stride+x] = clampByte(orig + (blurred-orig)*s.Amount)
		}
	}
	return nil
}

// Name returns the effect name
func (s Smoothing) Name() string {
	return fmt.Sprintf("Smoothing(%.2f)", s.Amount)
}

// Grayscale neutralises both chroma planes
type Grayscale struct{}

// Apply sets every chroma sample to 128
func (Grayscale) Apply(buf *frame.Buffer) error {
	cw, ch := frame.ChromaSize(buf.Width(), buf.Height())
	for _, i := range []frame.PlaneIndex{frame.PlaneU, frame.PlaneV} {
		p, err := buf.Plane(i)
		if err != nil {
			return err
		}
		for y := 0; y < ch; y++ {
			row := p.Data[y*p.Stride : y*p.Stride+cw]
			for x := range row {
				row[x] = 128
			}
		}
	}
	return nil
}

// Name returns the effect name
func (Grayscale) Name() string {
	return "Grayscale"
}
