package processing

import (
	"fmt"
	"sync"
	"sync/atomic"

	"agrolens-go/internal/types"
)

// DebugSink receives introspection fields once per tick. The pipeline only
// builds the fields when a sink is present and enabled.
type DebugSink interface {
	Enabled() bool
	Observe(fields types.DebugFields)
}

func DescribeDebug(pred types.RawPrediction, sample types.ColorSample, result types.CorrectedResult) types.DebugFields {
	action := result.RuleApplied
	if action == "" {
		action = "none"
	}
	return types.DebugFields{
		Raw:    pred.PrimaryLabel(),
		Color:  fmt.Sprintf("%s (R%d G%d B%d)", sample.Dominant, sample.R, sample.G, sample.B),
		Action: action,
	}
}

// DebugPanel is a DebugSink that keeps the latest fields for readers on
// other goroutines (the HTTP server).
type DebugPanel struct {
	enabled atomic.Bool
	mu      sync.Mutex
	last    types.DebugFields
	has     bool
	notify  func(types.DebugFields)
}

// NewDebugPanel returns a disabled panel. notify, when non-nil, is called
// synchronously from Observe.
func NewDebugPanel(notify func(types.DebugFields)) *DebugPanel {
	return &DebugPanel{notify: notify}
}

func (d *DebugPanel) Enabled() bool {
	return d.enabled.Load()
}

func (d *DebugPanel) SetEnabled(v bool) {
	d.enabled.Store(v)
}

// Toggle flips the panel and returns the new state.
func (d *DebugPanel) Toggle() bool {
	for {
		old := d.enabled.Load()
		if d.enabled.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

func (d *DebugPanel) Observe(fields types.DebugFields) {
	d.mu.Lock()
	d.last = fields
	d.has = true
	d.mu.Unlock()
	if d.notify != nil {
		d.notify(fields)
	}
}

func (d *DebugPanel) Snapshot() (types.DebugFields, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.has
}
