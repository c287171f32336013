package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultHistorySize      = 15
	DefaultStabilityDivisor = 2.5
	DefaultSampleSize       = 50

	// The stabilizer allocates its whole window up front and the sampler
	// its scratch surface, so both are bounded.
	MaxHistorySize = 1024
	MaxSampleSize  = 4096
)

// Tuning holds the recognition knobs. Every field is optional; omitted
// fields fall back to the defaults through the Get* methods, so partial
// files are safe.
type Tuning struct {
	HistorySize      *int     `json:"history_size,omitempty"`
	StabilityDivisor *float64 `json:"stability_divisor,omitempty"`
	SampleSize       *int     `json:"sample_size,omitempty"`

	// ClassifyTimeout is a duration string like "2s". Empty or "0s" means
	// a classification call may take as long as it needs.
	ClassifyTimeout *string `json:"classify_timeout,omitempty"`
}

// DefaultTuning returns a Tuning with every field populated.
func DefaultTuning() *Tuning {
	history := DefaultHistorySize
	divisor := DefaultStabilityDivisor
	sample := DefaultSampleSize
	timeout := "0s"
	return &Tuning{
		HistorySize:      &history,
		StabilityDivisor: &divisor,
		SampleSize:       &sample,
		ClassifyTimeout:  &timeout,
	}
}

// LoadTuning reads a JSON tuning file. The file must have a .json extension
// and be under 64KB.
func LoadTuning(path string) (*Tuning, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("tuning file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat tuning file: %w", err)
	}
	const maxFileSize = 64 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("tuning file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read tuning file: %w", err)
	}

	t := &Tuning{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("failed to parse tuning JSON: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tuning: %w", err)
	}
	return t, nil
}

func (t *Tuning) Validate() error {
	if t == nil {
		return nil
	}
	if t.HistorySize != nil && (*t.HistorySize < 1 || *t.HistorySize > MaxHistorySize) {
		return fmt.Errorf("history_size must be in [1, %d], got %d", MaxHistorySize, *t.HistorySize)
	}
	if t.StabilityDivisor != nil && *t.StabilityDivisor <= 0 {
		return fmt.Errorf("stability_divisor must be positive, got %v", *t.StabilityDivisor)
	}
	if t.SampleSize != nil && (*t.SampleSize < 1 || *t.SampleSize > MaxSampleSize) {
		return fmt.Errorf("sample_size must be in [1, %d], got %d", MaxSampleSize, *t.SampleSize)
	}
	if t.ClassifyTimeout != nil && *t.ClassifyTimeout != "" {
		d, err := time.ParseDuration(*t.ClassifyTimeout)
		if err != nil {
			return fmt.Errorf("invalid classify_timeout %q: %w", *t.ClassifyTimeout, err)
		}
		if d < 0 {
			return fmt.Errorf("classify_timeout must not be negative, got %s", d)
		}
	}
	return nil
}

func (t *Tuning) GetHistorySize() int {
	if t == nil || t.HistorySize == nil {
		return DefaultHistorySize
	}
	return *t.HistorySize
}

func (t *Tuning) GetStabilityDivisor() float64 {
	if t == nil || t.StabilityDivisor == nil {
		return DefaultStabilityDivisor
	}
	return *t.StabilityDivisor
}

func (t *Tuning) GetSampleSize() int {
	if t == nil || t.SampleSize == nil {
		return DefaultSampleSize
	}
	return *t.SampleSize
}

// GetClassifyTimeout returns 0 when no timeout is configured.
func (t *Tuning) GetClassifyTimeout() time.Duration {
	if t == nil || t.ClassifyTimeout == nil || *t.ClassifyTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*t.ClassifyTimeout)
	if err != nil {
		return 0
	}
	return d
}
