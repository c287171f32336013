package types

import (
	"image"
	"strings"
)

// RawPrediction is one entry of the classifier's ranked output.
type RawPrediction struct {
	Label      string  `json:"label" cbor:"label"`
	Confidence float64 `json:"confidence" cbor:"confidence"`
}

// PrimaryLabel returns the first comma-separated name of the label.
// MobileNet-style classes carry synonyms ("Granny Smith, apple").
func (p RawPrediction) PrimaryLabel() string {
	name, _, _ := strings.Cut(p.Label, ",")
	return strings.TrimSpace(name)
}

// ClampConfidence pins a wire confidence into [0, 1]. NaN becomes 0.
func ClampConfidence(c float64) float64 {
	if !(c > 0) {
		return 0
	}
	return min(c, 1)
}

type Dominant int

const (
	Neutral Dominant = iota
	Red
	Green
	Orange
	Unknown
)

func (d Dominant) String() string {
	switch d {
	case Neutral:
		return "Neutral"
	case Red:
		return "Red"
	case Green:
		return "Green"
	case Orange:
		return "Orange"
	default:
		return "Unknown"
	}
}

func (d Dominant) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// HasEvidence reports whether the colour bucket carries any signal.
// Unknown and Neutral are treated identically.
func (d Dominant) HasEvidence() bool {
	return d == Red || d == Green || d == Orange
}

type ColorSample struct {
	R        int      `json:"r"`
	G        int      `json:"g"`
	B        int      `json:"b"`
	Dominant Dominant `json:"dominant"`
}

// UnknownSample is returned whenever the frame cannot be sampled.
var UnknownSample = ColorSample{Dominant: Unknown}

type CorrectedResult struct {
	DisplayLabel string  `json:"display_label"`
	RawLabel     string  `json:"raw_label"`
	WasCorrected bool    `json:"was_corrected"`
	RuleApplied  string  `json:"rule_applied,omitempty"`
	Confidence   float64 `json:"confidence"`
}

type ColorHint int

const (
	Pending ColorHint = iota
	Provisional
	Confirmed
)

func (h ColorHint) String() string {
	switch h {
	case Confirmed:
		return "confirmed"
	case Provisional:
		return "provisional"
	default:
		return "pending"
	}
}

func (h ColorHint) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

type DisplayDecision struct {
	IsStable  bool      `json:"is_stable"`
	Label     string    `json:"label"`
	SubText   string    `json:"sub_text"`
	ColorHint ColorHint `json:"color_hint"`
	Corrected bool      `json:"corrected"`
	Votes     int       `json:"votes"`
}

// Frame is one decoded camera frame. Ready mirrors the video element's
// "enough data" state; pixels must not be read while it is false.
type Frame struct {
	FrameID     int             `json:"frame_id"`
	Timestamp   float64         `json:"timestamp"`
	Width       int             `json:"width"`
	Height      int             `json:"height"`
	Ready       bool            `json:"ready"`
	Image       image.Image     `json:"-"`
	Predictions []RawPrediction `json:"predictions,omitempty"`
}

// RawMessage is a decoded ingest message. Type is "frame", "start" or "end".
type RawMessage struct {
	Type  string
	Meta  map[string]any
	Frame Frame
}
