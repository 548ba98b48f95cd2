package overlay

import (
	"fmt"
	"image"
	"sync"

	"github.com/bryanchriswhite/PlanarView/internal/logger"
	"github.com/bryanchriswhite/PlanarView/internal/render"
)

// Manager composites widgets over presented frames in the order they
// were added
type Manager struct {
	mu      sync.RWMutex
	widgets []Widget
	enabled bool
	stats   StatsSource
}

var _ render.Compositor = (*Manager)(nil)

// NewManager creates a new overlay manager. stats feeds widgets of type
// "stats" and may be nil.
func NewManager(stats StatsSource) *Manager {
	return &Manager{enabled: true, stats: stats}
}

func (m *Manager) indexLocked(id string) int {
	for i, w := range m.widgets {
		if w.ID() == id {
			return i
		}
	}
	return -1
}

// AddWidget adds a widget on top of the existing ones
func (m *Manager) AddWidget(widget Widget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexLocked(widget.ID()) >= 0 {
		return fmt.Errorf("widget with ID %s already exists", widget.ID())
	}
	m.widgets = append(m.widgets, widget)
	logger.WithComponent("overlay").Debug().
		Str("id", widget.ID()).
		Str("type", widget.Type()).
		Msg("Added widget")
	return nil
}

// RemoveWidget removes a widget from the overlay
func (m *Manager) RemoveWidget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("widget with ID %s not found", id)
	}
	m.widgets = append(m.widgets[:i], m.widgets[i+1:]...)
	return nil
}

// GetWidget retrieves a widget by ID
func (m *Manager) GetWidget(id string) (Widget, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.indexLocked(id); i >= 0 {
		return m.widgets[i], true
	}
	return nil, false
}

// GetAllWidgets returns all widgets in draw order
func (m *Manager) GetAllWidgets() []Widget {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Widget(nil), m.widgets...)
}

// UpdateWidget updates a widget's configuration
func (m *Manager) UpdateWidget(id string, config map[string]interface{}) error {
	widget, ok := m.GetWidget(id)
	if !ok {
		return fmt.Errorf("widget with ID %s not found", id)
	}
	if err := widget.UpdateConfig(config); err != nil {
		return fmt.Errorf("failed to update widget config: %w", err)
	}
	return nil
}

// SetEnabled enables or disables the entire overlay
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
}

// IsEnabled returns whether the overlay is enabled
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Render draws all enabled widgets onto img
func (m *Manager) Render(img *image.RGBA) error {
	if !m.IsEnabled() {
		return nil
	}
	for _, widget := range m.GetAllWidgets() {
		if !widget.IsEnabled() {
			continue
		}
		if err := widget.Render(img); err != nil {
			logger.WithComponent("overlay").Warn().
				Err(err).
				Str("id", widget.ID()).
				Msg("Failed to render widget")
		}
	}
	return nil
}

// Composite implements render.Compositor
func (m *Manager) Composite(img *image.RGBA) {
	m.Render(img)
}

// CreateWidget creates a new widget instance from configuration
func (m *Manager) CreateWidget(widgetType string, id string, config map[string]interface{}) (Widget, error) {
	switch widgetType {
	case "text":
		w, err := NewTextWidget(id, config)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s widget: %w", widgetType, err)
		}
		return w, nil
	case "stats":
		if m.stats == nil {
			return nil, fmt.Errorf("no stats source for widget %s", id)
		}
		return NewStatsWidget(id, m.stats, config), nil
	default:
		return nil, fmt.Errorf("unknown widget type: %s", widgetType)
	}
}

// LoadFromConfig creates widgets from configuration entries. Broken entries
// are logged and skipped.
func (m *Manager) LoadFromConfig(configs []map[string]interface{}) error {
	for _, config := range configs {
		widgetType, ok := config["type"].(string)
		if !ok {
			logger.WithComponent("overlay").Warn().Msg("Skipping widget with missing type")
			continue
		}
		id, ok := config["id"].(string)
		if !ok {
			logger.WithComponent("overlay").Warn().Str("type", widgetType).Msg("Skipping widget with missing ID")
			continue
		}

		widget, err := m.CreateWidget(widgetType, id, config)
		if err != nil {
			logger.WithComponent("overlay").Warn().Err(err).Str("id", id).Msg("Failed to create widget")
			continue
		}
		if err := m.AddWidget(widget); err != nil {
			logger.WithComponent("overlay").Warn().Err(err).Str("id", id).Msg("Failed to add widget")
		}
	}
	return nil
}

// ExportConfig exports all widget configurations
func (m *Manager) ExportConfig() []map[string]interface{} {
	widgets := m.GetAllWidgets()
	configs := make([]map[string]interface{}, 0, len(widgets))
	for _, widget := range widgets {
		configs = append(configs, widget.GetConfig())
	}
	return configs
}

// Clear removes all widgets
func (m *Manager) Clear() {
	m.mu.Lock()
	m.widgets = nil
	m.mu.Unlock()
}
