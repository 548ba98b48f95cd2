package overlay

import (
	"image"
	"image/color"
)

// StatsSource returns the lines shown by a StatsWidget
type StatsSource func() []string

// StatsWidget shows live pipeline counters
type StatsWidget struct {
	*BaseWidget
	source StatsSource
}

// NewStatsWidget creates a stats widget fed by source
func NewStatsWidget(id string, source StatsSource, config map[string]interface{}) *StatsWidget {
	w := &StatsWidget{
		BaseWidget: NewBaseWidget(id, 8, 8, 0.85),
		source:     source,
	}
	w.UpdateConfig(config)
	return w
}

// Type returns the widget type
func (w *StatsWidget) Type() string {
	return "stats"
}

// Render draws the current counters
func (w *StatsWidget) Render(img *image.RGBA) error {
	if !w.IsEnabled() || w.source == nil {
		return nil
	}
	lines := w.source()
	if len(lines) == 0 {
		return nil
	}
	bg := color.RGBA{0, 0, 0, 160}
	l := label{lines: lines, fg: color.RGBA{0, 255, 128, 255}, bg: &bg, padding: 4}
	l.draw(img, w.Origin(img.Bounds(), l.size()), w.Opacity())
	return nil
}

// GetConfig returns the widget configuration
func (w *StatsWidget) GetConfig() map[string]interface{} {
	return w.baseConfig(w.Type())
}

// UpdateConfig updates placement and visibility
func (w *StatsWidget) UpdateConfig(config map[string]interface{}) error {
	w.updateBase(config)
	return nil
}
