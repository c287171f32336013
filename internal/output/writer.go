package output

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"agrolens-go/internal/processing"
)

// DecisionLog is an append-only text record of one session's ticks. It is
// written for auditing and never read back into a stabilizer.
type DecisionLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

func NewDecisionLog(outputDir string, runTimestamp string, sessionID string) (*DecisionLog, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}

	path := filepath.Join(outputDir, fmt.Sprintf("%s_session_%s_decisions.txt", runTimestamp, sessionID))
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	_, _ = fmt.Fprintln(w, "tick, frame_id, timestamp, raw_label, confidence, dominant, display_label, rule, stable, label, sub_text")
	return &DecisionLog{path: path, f: f, w: w}, nil
}

func (d *DecisionLog) Path() string {
	return d.path
}

func (d *DecisionLog) Write(tick uint64, frameID int, timestamp float64, t processing.Tick) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.w == nil {
		return fmt.Errorf("decision log is closed")
	}

	rule := t.Result.RuleApplied
	if rule == "" {
		rule = "-"
	}
	_, err := fmt.Fprintf(
		d.w,
		"%d, %d, %.6f, %q, %.4f, %s, %q, %s, %t, %q, %q\n",
		tick,
		frameID,
		timestamp,
		t.Result.RawLabel,
		t.Prediction.Confidence,
		t.Sample.Dominant,
		t.Result.DisplayLabel,
		rule,
		t.Decision.IsStable,
		t.Decision.Label,
		t.Decision.SubText,
	)
	return err
}

func (d *DecisionLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.w == nil {
		return nil
	}
	err := d.w.Flush()
	if cerr := d.f.Close(); err == nil {
		err = cerr
	}
	d.w = nil
	return err
}
