package types

import (
	"math"
	"testing"
)

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.42, 0.42},
		{1.5, 1},
		{-0.1, 0},
		{math.NaN(), 0},
		{math.Inf(1), 1},
	}
	for _, tt := range tests {
		if got := ClampConfidence(tt.in); got != tt.want {
			t.Errorf("ClampConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPrimaryLabel(t *testing.T) {
	p := RawPrediction{Label: " Granny Smith , apple"}
	if got := p.PrimaryLabel(); got != "Granny Smith" {
		t.Fatalf("PrimaryLabel() = %q", got)
	}
}
