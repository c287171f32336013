package processing

import (
	"strconv"

	"agrolens-go/internal/types"
)

const (
	CorrectedMarker = "Agro-Brain"
	PendingLabel    = "Analyzing..."
	PendingMarker   = "⌛"
)

// Stabilizer keeps a sliding window of corrected results and turns it into
// a display decision by majority vote. It belongs to exactly one session and
// is not safe for concurrent use.
type Stabilizer struct {
	capacity int
	divisor  float64
	ring     []types.CorrectedResult
	start    int
	count    int
}

func NewStabilizer(capacity int, divisor float64) *Stabilizer {
	if capacity < 1 {
		capacity = 1
	}
	if divisor <= 0 {
		divisor = 2.5
	}
	return &Stabilizer{
		capacity: capacity,
		divisor:  divisor,
		ring:     make([]types.CorrectedResult, capacity),
	}
}

// Push appends a result, evicting the oldest once the window is full.
func (s *Stabilizer) Push(result types.CorrectedResult) {
	if s.count < s.capacity {
		s.ring[(s.start+s.count)%s.capacity] = result
		s.count++
		return
	}
	s.ring[s.start] = result
	s.start = (s.start + 1) % s.capacity
}

func (s *Stabilizer) Len() int {
	return s.count
}

func (s *Stabilizer) Capacity() int {
	return s.capacity
}

// Threshold is the vote count a label must strictly exceed to be stable.
func (s *Stabilizer) Threshold() float64 {
	return float64(s.capacity) / s.divisor
}

func (s *Stabilizer) Reset() {
	clear(s.ring)
	s.start = 0
	s.count = 0
}

// History returns a copy of the window, oldest first.
func (s *Stabilizer) History() []types.CorrectedResult {
	out := make([]types.CorrectedResult, s.count)
	for i := range out {
		out[i] = s.at(i)
	}
	return out
}

// Vote does not modify the window; repeated calls give identical decisions.
func (s *Stabilizer) Vote() types.DisplayDecision {
	if s.count == 0 {
		return pendingDecision(0)
	}

	counts := make(map[string]int, s.count)
	order := make([]string, 0, s.count)
	for i := 0; i < s.count; i++ {
		label := s.at(i).DisplayLabel
		if _, seen := counts[label]; !seen {
			order = append(order, label)
		}
		counts[label]++
	}

	// Scan in first-seen order with a strict comparison so ties keep the
	// label observed first.
	winner, best := "", 0
	for _, label := range order {
		if counts[label] > best {
			winner, best = label, counts[label]
		}
	}

	if float64(best) <= s.Threshold() {
		return pendingDecision(best)
	}

	corrected := false
	for i := 0; i < s.count; i++ {
		entry := s.at(i)
		if entry.DisplayLabel == winner && entry.WasCorrected {
			corrected = true
			break
		}
	}

	decision := types.DisplayDecision{
		IsStable:  true,
		Label:     winner,
		Corrected: corrected,
		Votes:     best,
	}
	if corrected {
		decision.SubText = CorrectedMarker
		decision.ColorHint = types.Confirmed
	} else {
		current := s.at(s.count - 1)
		decision.SubText = strconv.Itoa(roundHalfUp(current.Confidence*100)) + "%"
		decision.ColorHint = types.Provisional
	}
	return decision
}

func (s *Stabilizer) at(i int) types.CorrectedResult {
	return s.ring[(s.start+i)%s.capacity]
}

func pendingDecision(votes int) types.DisplayDecision {
	return types.DisplayDecision{
		Label:     PendingLabel,
		SubText:   PendingMarker,
		ColorHint: types.Pending,
		Votes:     votes,
	}
}
