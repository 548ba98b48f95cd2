package effect

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bryanchriswhite/PlanarView/internal/frame"
	"github.com/bryanchriswhite/PlanarView/internal/logger"
)

// Engine turns an input frame into a new processed frame. It must not keep
// or modify in; the caller owns the returned frame.
type Engine interface {
	ProcessImage(in *frame.Buffer) (*frame.Buffer, error)
}

// Event is a panel control change
type Event struct {
	Tab      string  `json:"tab"`
	Function string  `json:"function"`
	Value    float64 `json:"value"`
}

// String formats the event as tab/function=value
func (e Event) String() string {
	return fmt.Sprintf("%s/%s=%.2f", e.Tab, e.Function, e.Value)
}

// Panel tabs and functions understood by Beauty
const (
	TabBeauty = "beauty"
	TabAdjust = "adjust"
	TabFilter = "filter"

	FuncWhitening  = "whitening"
	FuncSmoothing  = "smoothing"
	FuncBrightness = "brightness"
	FuncContrast   = "contrast"
	FuncGrayscale  = "grayscale"
	FuncNone       = "none"
	FuncReset      = "reset"
)

// ErrUnknownParam is returned for events naming an unknown tab or function
var ErrUnknownParam = errors.New("effect: unknown parameter")

type param struct {
	tab, function string
	min, max      float64
}

var params = []param{
	{TabBeauty, FuncWhitening, 0, 1},
	{TabBeauty, FuncSmoothing, 0, 1},
	{TabAdjust, FuncBrightness, -1, 1},
	{TabAdjust, FuncContrast, -1, 1},
}

func lookupParam(tab, function string) (param, bool) {
	for _, p := range params {
		if p.tab == tab && p.function == function {
			return p, true
		}
	}
	return param{}, false
}

// Beauty is the built-in effect engine. Parameters change through panel
// events; ProcessImage is deterministic for unchanged parameters.
type Beauty struct {
	pool *frame.Pool

	mu        sync.RWMutex
	values    map[string]float64
	grayscale bool
	bypass    bool
}

// NewBeauty creates an engine allocating output frames from pool
func NewBeauty(pool *frame.Pool) *Beauty {
	return &Beauty{
		pool:   pool,
		values: make(map[string]float64),
	}
}

func key(tab, function string) string {
	return tab + "/" + function
}

// HandleEvent handles one panel event. Values outside a parameter's range are
// clamped.
func (b *Beauty) HandleEvent(ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case ev.Function == FuncReset && ev.Tab == "":
		b.values = make(map[string]float64)
		b.grayscale = false
	case ev.Function == FuncReset:
		if ev.Tab != TabBeauty && ev.Tab != TabAdjust && ev.Tab != TabFilter {
			return fmt.Errorf("%w: tab %q", ErrUnknownParam, ev.Tab)
		}
		for k := range b.values {
			if p, _ := splitKey(k); p == ev.Tab {
				delete(b.values, k)
			}
		}
		if ev.Tab == TabFilter {
			b.grayscale = false
		}
	case ev.Tab == TabFilter && ev.Function == FuncGrayscale:
		b.grayscale = ev.Value != 0
	case ev.Tab == TabFilter && ev.Function == FuncNone:
		b.grayscale = false
	default:
		p, ok := lookupParam(ev.Tab, ev.Function)
		if !ok {
			return fmt.Errorf("%w: %s/%s", ErrUnknownParam, ev.Tab, ev.Function)
		}
		v := min(max(ev.Value, p.min), p.max)
		if v == 0 {
			delete(b.values, key(p.tab, p.function))
		} else {
			b.values[key(p.tab, p.function)] = v
		}
	}

	logger.WithComponent("effect").Debug().
		Str("event", ev.String()).
		Msg("Applied panel event")
	return nil
}

func splitKey(k string) (string, string) {
	tab, function, _ := strings.Cut(k, "/")
	return tab, function
}

// SetBypass shows unprocessed frames while on (compare mode)
func (b *Beauty) SetBypass(on bool) {
	b.mu.Lock()
	b.bypass = on
	b.mu.Unlock()
}

// Params returns the non-default parameters as tab/function keys
func (b *Beauty) Params() map[string]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]float64, len(b.values)+1)
	for k, v := range b.values {
		out[k] = v
	}
	if b.grayscale {
		out[key(TabFilter, FuncGrayscale)] = 1
	}
	return out
}

// chain builds the effect chain for the current parameters in a fixed order
func (b *Beauty) chain() *Chain {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c := NewChain()
	if b.bypass {
		return c
	}

	if v := b.values[key(TabBeauty, FuncSmoothing)]; v > 0 {
		c.Add(Smoothing{Amount: v, Radius: 2})
	}
	if v := b.values[key(TabBeauty, FuncWhitening)]; v > 0 {
		c.Add(Whitening{Amount: v})
	}
	if v := b.values[key(TabAdjust, FuncBrightness)]; v != 0 {
		c.Add(Brightness{Offset: int(v * 100)})
	}
	if v := b.values[key(TabAdjust, FuncContrast)]; v != 0 {
		c.Add(Contrast{Factor: 1 + v})
	}
	if b.grayscale {
		c.Add(Grayscale{})
	}
	return c
}

// ProcessImage copies in and applies the current effects to the copy
func (b *Beauty) ProcessImage(in *frame.Buffer) (*frame.Buffer, error) {
	out, err := in.Clone(b.pool)
	if err != nil {
		return nil, fmt.Errorf("failed to copy input frame: %w", err)
	}
	if err := b.chain().Apply(out); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}
