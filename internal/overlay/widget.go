package overlay

import (
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/draw"
)

// Widget is one element of the HUD
type Widget interface {
	// ID returns the unique identifier for this widget instance
	ID() string

	// Type returns the widget type name
	Type() string

	// Render draws the widget onto img
	Render(img *image.RGBA) error

	// GetConfig returns the widget's configuration as a map
	GetConfig() map[string]interface{}

	// UpdateConfig updates the widget's configuration
	UpdateConfig(config map[string]interface{}) error

	IsEnabled() bool
	SetEnabled(enabled bool)
}

// BaseWidget holds placement shared by all widgets. Negative coordinates
// are measured from the right or bottom edge of the frame.
type BaseWidget struct {
	mu      sync.RWMutex
	id      string
	enabled bool
	x       int
	y       int
	opacity float64
}

// NewBaseWidget creates a new base widget
func NewBaseWidget(id string, x, y int, opacity float64) *BaseWidget {
	w := &BaseWidget{id: id, enabled: true, x: x, y: y}
	w.SetOpacity(opacity)
	return w
}

// ID returns the widget's unique identifier
func (w *BaseWidget) ID() string {
	return w.id
}

// IsEnabled returns whether the widget should be rendered
func (w *BaseWidget) IsEnabled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.enabled
}

// SetEnabled sets whether the widget should be rendered
func (w *BaseWidget) SetEnabled(enabled bool) {
	w.mu.Lock()
	w.enabled = enabled
	w.mu.Unlock()
}

// SetPosition sets the widget's position
func (w *BaseWidget) SetPosition(x, y int) {
	w.mu.Lock()
	w.x, w.y = x, y
	w.mu.Unlock()
}

// SetOpacity sets the widget's opacity, clamped to 0..1
func (w *BaseWidget) SetOpacity(opacity float64) {
	w.mu.Lock()
	w.opacity = min(max(opacity, 0), 1)
	w.mu.Unlock()
}

// Opacity returns the widget's opacity
func (w *BaseWidget) Opacity() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.opacity
}

// Origin resolves the widget position for a box of size within bounds
func (w *BaseWidget) Origin(bounds image.Rectangle, size image.Point) image.Point {
	w.mu.RLock()
	x, y := w.x, w.y
	w.mu.RUnlock()
	if x < 0 {
		x = bounds.Dx() + x - size.X
	}
	if y < 0 {
		y = bounds.Dy() + y - size.Y
	}
	return image.Pt(bounds.Min.X+x, bounds.Min.Y+y)
}

func (w *BaseWidget) baseConfig(typ string) map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return map[string]interface{}{
		"id":      w.id,
		"type":    typ,
		"enabled": w.enabled,
		"x":       w.x,
		"y":       w.y,
		"opacity": w.opacity,
	}
}

func (w *BaseWidget) updateBase(config map[string]interface{}) {
	if v, ok := config["x"]; ok {
		w.mu.Lock()
		w.x = getInt(v)
		w.mu.Unlock()
	}
	if v, ok := config["y"]; ok {
		w.mu.Lock()
		w.y = getInt(v)
		w.mu.Unlock()
	}
	if opacity, ok := config["opacity"].(float64); ok {
		w.SetOpacity(opacity)
	}
	if enabled, ok := config["enabled"].(bool); ok {
		w.SetEnabled(enabled)
	}
}

// BlendImage composites src over dst at (x, y) scaled by opacity
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	if opacity <= 0 {
		return
	}
	sb := src.Bounds()
	r := image.Rect(x, y, x+sb.Dx(), y+sb.Dy())
	mask := image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
	draw.DrawMask(dst, r, src, sb.Min, mask, image.Point{}, draw.Over)
}

// FillRect blends a solid rectangle onto dst
func FillRect(dst *image.RGBA, r image.Rectangle, c color.Color, opacity float64) {
	if opacity <= 0 {
		return
	}
	mask := image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
	draw.DrawMask(dst, r, image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}

// getInt extracts an integer from YAML (int) or JSON (float64) values
func getInt(v interface{}) int {
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	default:
		return 0
	}
}

func getColor(v interface{}) (color.RGBA, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return color.RGBA{}, false
	}
	a := 255
	if av, ok := m["a"]; ok {
		a = getInt(av)
	}
	return color.RGBA{R: uint8(getInt(m["r"])), G: uint8(getInt(m["g"])), B: uint8(getInt(m["b"])), A: uint8(a)}, true
}
