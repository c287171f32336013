package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"agrolens-go/internal/classifier"
	"agrolens-go/internal/config"
	"agrolens-go/internal/monitoring"
	"agrolens-go/internal/processing"
	"agrolens-go/internal/types"
)

const latencyWindow = 256

// Update is emitted once per completed tick.
type Update struct {
	SessionID string
	Tick      uint64
	FrameID   int
	Timestamp float64
	Result    processing.Tick
}

// Recorder receives every completed tick of one session.
type Recorder interface {
	Write(tick uint64, frameID int, timestamp float64, t processing.Tick) error
	Close() error
}

type Options struct {
	Tuning     *config.Tuning
	Classifier classifier.Classifier
	Debug      processing.DebugSink
	OnTick     func(Update)

	// OpenRecorder is called once per session when set.
	OpenRecorder func(sessionID string) (Recorder, error)
}

type Stats struct {
	Ticks            uint64  `json:"ticks"`
	Skipped          uint64  `json:"skipped"`
	Corrections      uint64  `json:"corrections"`
	ClassifyMeanMS   float64 `json:"classify_mean_ms"`
	ClassifyStdDevMS float64 `json:"classify_stddev_ms"`
}

// Session is one camera run. It owns the pipeline and therefore the vote
// history; Run is its only writer.
type Session struct {
	id         string
	pipeline   *processing.Pipeline
	classifier classifier.Classifier
	timeout    time.Duration
	onTick     func(Update)
	recorder   Recorder
	skipLog    *monitoring.EveryN

	ticks       atomic.Uint64
	skipped     atomic.Uint64
	corrections atomic.Uint64

	mu        sync.Mutex
	latencies []float64
	next      int
	decision  types.DisplayDecision
}

func New(opts Options) *Session {
	cls := opts.Classifier
	if cls == nil {
		cls = classifier.Embedded{}
	}
	s := &Session{
		id:         uuid.NewString(),
		pipeline:   processing.NewPipeline(opts.Tuning, opts.Debug),
		classifier: cls,
		timeout:    opts.Tuning.GetClassifyTimeout(),
		onTick:     opts.OnTick,
		skipLog:    monitoring.NewEveryN(50),
		latencies:  make([]float64, 0, latencyWindow),
	}
	s.decision = s.pipeline.Vote()
	if opts.OpenRecorder != nil {
		rec, err := opts.OpenRecorder(s.id)
		if err != nil {
			monitoring.Logf("session %s: decision log disabled: %v", s.id, err)
		} else {
			s.recorder = rec
		}
	}
	return s
}

func (s *Session) ID() string {
	return s.id
}

// Run processes frames one tick at a time until ctx is cancelled or frames
// is closed. History is cleared on return either way.
func (s *Session) Run(ctx context.Context, frames <-chan types.Frame) error {
	defer s.finish()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			s.tick(ctx, frame)
		}
	}
}

func (s *Session) tick(ctx context.Context, frame types.Frame) {
	classifyCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		classifyCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	predictions, err := s.classifier.Classify(classifyCtx, frame)
	s.observeLatency(time.Since(start))

	// stopped while classifying: the result must not reach history
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.skipped.Add(1)
		if errors.Is(err, context.DeadlineExceeded) {
			s.skipLog.Logf("session %s: classify timed out on frame %d", s.id, frame.FrameID)
		} else {
			s.skipLog.Logf("session %s: classify frame %d: %v", s.id, frame.FrameID, err)
		}
		return
	}

	result, err := s.pipeline.ProcessFrame(frame, predictions)
	if err != nil {
		s.skipped.Add(1)
		return
	}

	n := s.ticks.Add(1)
	if result.Result.WasCorrected {
		s.corrections.Add(1)
	}
	s.mu.Lock()
	s.decision = result.Decision
	s.mu.Unlock()

	if s.recorder != nil {
		if err := s.recorder.Write(n, frame.FrameID, frame.Timestamp, result); err != nil {
			s.skipLog.Logf("session %s: decision log write: %v", s.id, err)
		}
	}
	if s.onTick != nil {
		s.onTick(Update{
			SessionID: s.id,
			Tick:      n,
			FrameID:   frame.FrameID,
			Timestamp: frame.Timestamp,
			Result:    result,
		})
	}
}

func (s *Session) finish() {
	s.pipeline.Reset()
	s.mu.Lock()
	s.decision = s.pipeline.Vote()
	s.mu.Unlock()
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			monitoring.Logf("session %s: close decision log: %v", s.id, err)
		}
		s.recorder = nil
	}
}

func (s *Session) observeLatency(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) < latencyWindow {
		s.latencies = append(s.latencies, ms)
		return
	}
	s.latencies[s.next] = ms
	s.next = (s.next + 1) % latencyWindow
}

// Decision returns the decision of the latest tick. It is safe to call from
// any goroutine.
func (s *Session) Decision() types.DisplayDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decision
}

func (s *Session) Stats() Stats {
	out := Stats{
		Ticks:       s.ticks.Load(),
		Skipped:     s.skipped.Load(),
		Corrections: s.corrections.Load(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch len(s.latencies) {
	case 0:
	case 1:
		out.ClassifyMeanMS = s.latencies[0]
	default:
		out.ClassifyMeanMS, out.ClassifyStdDevMS = stat.MeanStdDev(s.latencies, nil)
	}
	return out
}
