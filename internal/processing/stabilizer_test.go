package processing

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrolens-go/internal/types"
)

func result(label string) types.CorrectedResult {
	return types.CorrectedResult{DisplayLabel: label, RawLabel: label, Confidence: 0.8}
}

func TestStabilizerCapacity(t *testing.T) {
	s := NewStabilizer(15, 2.5)
	for i := 0; i < 40; i++ {
		s.Push(result(fmt.Sprintf("label-%d", i)))
		require.LessOrEqual(t, s.Len(), 15)
	}

	history := s.History()
	require.Len(t, history, 15)
	for i, entry := range history {
		assert.Equal(t, fmt.Sprintf("label-%d", 25+i), entry.DisplayLabel)
	}
}

func TestStabilizerEvictsOneAtATime(t *testing.T) {
	s := NewStabilizer(3, 2.5)
	s.Push(result("a"))
	s.Push(result("b"))
	s.Push(result("c"))
	s.Push(result("d"))

	labels := []string{}
	for _, r := range s.History() {
		labels = append(labels, r.DisplayLabel)
	}
	assert.Equal(t, []string{"b", "c", "d"}, labels)
}

func TestVoteEmptyIsPending(t *testing.T) {
	d := NewStabilizer(15, 2.5).Vote()
	assert.False(t, d.IsStable)
	assert.Equal(t, types.Pending, d.ColorHint)
	assert.Equal(t, PendingLabel, d.Label)
	assert.Equal(t, PendingMarker, d.SubText)
}

func TestVoteAllSameIsStable(t *testing.T) {
	s := NewStabilizer(15, 2.5)
	for i := 0; i < 15; i++ {
		s.Push(result("Tomato"))
	}
	d := s.Vote()
	assert.True(t, d.IsStable)
	assert.Equal(t, "Tomato", d.Label)
	assert.Equal(t, 15, d.Votes)
	assert.Equal(t, "80%", d.SubText)
	assert.Equal(t, types.Provisional, d.ColorHint)
}

func TestVoteThreshold(t *testing.T) {
	tests := []struct {
		name   string
		count  int
		stable bool
	}{
		{"six is not enough", 6, false},
		{"seven is stable", 7, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStabilizer(15, 2.5)
			for i := 0; i < tt.count; i++ {
				s.Push(result("Tomato"))
			}
			for i := 0; i < 15-tt.count; i++ {
				s.Push(result(fmt.Sprintf("other-%d", i)))
			}
			d := s.Vote()
			assert.Equal(t, tt.stable, d.IsStable)
			assert.Equal(t, tt.count, d.Votes)
		})
	}
}

func TestVoteTieFirstObservedWins(t *testing.T) {
	s := NewStabilizer(15, 2.5)
	for i := 0; i < 7; i++ {
		s.Push(result("A"))
		s.Push(result("B"))
	}
	assert.Equal(t, "A", s.Vote().Label)

	s.Reset()
	for i := 0; i < 7; i++ {
		s.Push(result("B"))
		s.Push(result("A"))
	}
	assert.Equal(t, "B", s.Vote().Label)
}

func TestVoteTieAfterEviction(t *testing.T) {
	// Capacity 4: after eviction "B" is the oldest surviving label.
	s := NewStabilizer(4, 2.5)
	for _, l := range []string{"A", "B", "A", "B", "A"} {
		s.Push(result(l))
	}
	// window: B A B A
	assert.Equal(t, "B", s.Vote().Label)
}

func TestVoteCorrectionIsSticky(t *testing.T) {
	s := NewStabilizer(15, 2.5)
	corrected := result("Tomato")
	corrected.WasCorrected = true
	s.Push(corrected)
	for i := 0; i < 8; i++ {
		s.Push(result("Tomato"))
	}

	d := s.Vote()
	assert.True(t, d.IsStable)
	assert.True(t, d.Corrected)
	assert.Equal(t, CorrectedMarker, d.SubText)
	assert.Equal(t, types.Confirmed, d.ColorHint)
}

func TestVoteCorrectionOfOtherLabelIgnored(t *testing.T) {
	s := NewStabilizer(15, 2.5)
	other := result("Cucumber")
	other.WasCorrected = true
	s.Push(other)
	for i := 0; i < 8; i++ {
		s.Push(result("Tomato"))
	}
	d := s.Vote()
	assert.False(t, d.Corrected)
}

func TestVoteUsesCurrentConfidence(t *testing.T) {
	s := NewStabilizer(15, 2.5)
	for i := 0; i < 10; i++ {
		r := result("Tomato")
		r.Confidence = 0.1
		s.Push(r)
	}
	last := result("Tomato")
	last.Confidence = 0.876
	s.Push(last)

	assert.Equal(t, "88%", s.Vote().SubText)
}

func TestVoteIsIdempotent(t *testing.T) {
	s := NewStabilizer(15, 2.5)
	for _, l := range []string{"A", "B", "A", "A", "C", "A", "A", "A", "A"} {
		s.Push(result(l))
	}
	first := s.Vote()
	second := s.Vote()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("vote changed between calls (-first +second):\n%s", diff)
	}
	assert.Equal(t, 9, s.Len())
}

func TestStabilizerReset(t *testing.T) {
	s := NewStabilizer(15, 2.5)
	for i := 0; i < 20; i++ {
		s.Push(result("Tomato"))
	}
	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.History())
	assert.False(t, s.Vote().IsStable)
}

func TestStabilizerThresholdFollowsCapacity(t *testing.T) {
	assert.Equal(t, 6.0, NewStabilizer(15, 2.5).Threshold())
	assert.Equal(t, 2.0, NewStabilizer(10, 5).Threshold())
}
