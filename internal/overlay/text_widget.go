package overlay

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const lineHeight = 13 // basicfont.Face7x13

// label is a padded block of text lines with an optional background
type label struct {
	lines   []string
	fg      color.RGBA
	bg      *color.RGBA
	padding int
}

func (l label) size() image.Point {
	d := &font.Drawer{Face: basicfont.Face7x13}
	width := 0
	for _, line := range l.lines {
		width = max(width, d.MeasureString(line).Ceil())
	}
	return image.Pt(width+l.padding*2, len(l.lines)*lineHeight+l.padding*2)
}

// draw renders the label at origin on dst
func (l label) draw(dst *image.RGBA, origin image.Point, opacity float64) {
	size := l.size()
	if size.X <= 0 || size.Y <= 0 {
		return
	}
	if l.bg != nil {
		FillRect(dst, image.Rectangle{Min: origin, Max: origin.Add(size)}, *l.bg, opacity)
	}

	textImg := image.NewRGBA(image.Rect(0, 0, size.X-l.padding*2, size.Y-l.padding*2))
	d := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(l.fg),
		Face: basicfont.Face7x13,
	}
	ascent := basicfont.Face7x13.Metrics().Ascent
	for i, line := range l.lines {
		d.Dot = fixed.Point26_6{X: 0, Y: fixed.I(i*lineHeight) + ascent}
		d.DrawString(line)
	}
	BlendImage(dst, textImg, origin.X+l.padding, origin.Y+l.padding, opacity)
}

// TextWidget displays static text
type TextWidget struct {
	*BaseWidget
	mu        sync.RWMutex
	text      string
	textColor color.RGBA
	bgColor   *color.RGBA
	padding   int
}

// NewTextWidget creates a new text widget
func NewTextWidget(id string, config map[string]interface{}) (*TextWidget, error) {
	w := &TextWidget{
		BaseWidget: NewBaseWidget(id, 0, 0, 1.0),
		textColor:  color.RGBA{255, 255, 255, 255},
		padding:    5,
	}
	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// Type returns the widget type
func (w *TextWidget) Type() string {
	return "text"
}

// Render draws the text widget
func (w *TextWidget) Render(img *image.RGBA) error {
	if !w.IsEnabled() {
		return nil
	}
	w.mu.RLock()
	l := label{lines: strings.Split(w.text, "\n"), fg: w.textColor, bg: w.bgColor, padding: w.padding}
	w.mu.RUnlock()
	if len(l.lines) == 1 && l.lines[0] == "" {
		return nil
	}
	l.draw(img, w.Origin(img.Bounds(), l.size()), w.Opacity())
	return nil
}

// GetConfig returns the widget configuration
func (w *TextWidget) GetConfig() map[string]interface{} {
	config := w.baseConfig(w.Type())
	w.mu.RLock()
	defer w.mu.RUnlock()
	config["text"] = w.text
	config["padding"] = w.padding
	config["color"] = colorConfig(w.textColor)
	if w.bgColor != nil {
		config["background"] = colorConfig(*w.bgColor)
	}
	return config
}

// UpdateConfig updates the widget configuration
func (w *TextWidget) UpdateConfig(config map[string]interface{}) error {
	w.updateBase(config)

	w.mu.Lock()
	defer w.mu.Unlock()
	if text, ok := config["text"].(string); ok {
		w.text = text
	}
	if v, ok := config["padding"]; ok {
		if p := getInt(v); p >= 0 {
			w.padding = p
		}
	}
	if c, ok := getColor(config["color"]); ok {
		w.textColor = c
	}
	if c, ok := getColor(config["background"]); ok {
		w.bgColor = &c
	}
	return nil
}

// SetText updates the text content
func (w *TextWidget) SetText(text string) {
	w.mu.Lock()
	w.text = text
	w.mu.Unlock()
}

// GetText returns the current text
func (w *TextWidget) GetText() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.text
}

// Validate ensures the widget configuration is valid
func (w *TextWidget) Validate() error {
	if w.GetText() == "" {
		return fmt.Errorf("text widget requires non-empty text")
	}
	return nil
}

func colorConfig(c color.RGBA) map[string]interface{} {
	return map[string]interface{}{"r": int(c.R), "g": int(c.G), "b": int(c.B), "a": int(c.A)}
}
