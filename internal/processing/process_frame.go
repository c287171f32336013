package processing

import (
	"errors"

	"agrolens-go/internal/config"
	"agrolens-go/internal/types"
)

var ErrNoPredictions = errors.New("classifier returned no predictions")

// Tick is everything one frame produced.
type Tick struct {
	Prediction types.RawPrediction
	Sample     types.ColorSample
	Result     types.CorrectedResult
	Decision   types.DisplayDecision
}

// Pipeline runs sample → correct → push → vote for one session.
type Pipeline struct {
	sampler    *Sampler
	corrector  *Corrector
	stabilizer *Stabilizer
	debug      DebugSink
}

func NewPipeline(tuning *config.Tuning, debug DebugSink) *Pipeline {
	return &Pipeline{
		sampler:    NewSampler(tuning.GetSampleSize()),
		corrector:  NewCorrector(nil),
		stabilizer: NewStabilizer(tuning.GetHistorySize(), tuning.GetStabilityDivisor()),
		debug:      debug,
	}
}

// ProcessFrame consumes the top prediction for frame. With no predictions
// the frame is rejected before the window is touched.
func (p *Pipeline) ProcessFrame(frame types.Frame, predictions []types.RawPrediction) (Tick, error) {
	if len(predictions) == 0 {
		return Tick{}, ErrNoPredictions
	}
	top := predictions[0]
	top.Confidence = types.ClampConfidence(top.Confidence)

	sample := p.sampler.Sample(frame)
	result := p.corrector.Correct(top, sample)

	p.stabilizer.Push(result)
	decision := p.stabilizer.Vote()

	if p.debug != nil && p.debug.Enabled() {
		p.debug.Observe(DescribeDebug(top, sample, result))
	}

	return Tick{
		Prediction: top,
		Sample:     sample,
		Result:     result,
		Decision:   decision,
	}, nil
}

// Vote re-reads the current decision without pushing.
func (p *Pipeline) Vote() types.DisplayDecision {
	return p.stabilizer.Vote()
}

func (p *Pipeline) History() []types.CorrectedResult {
	return p.stabilizer.History()
}

func (p *Pipeline) Reset() {
	p.stabilizer.Reset()
}
