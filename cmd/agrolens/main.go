package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"agrolens-go/internal/classifier"
	"agrolens-go/internal/config"
	"agrolens-go/internal/ingest"
	"agrolens-go/internal/output"
	"agrolens-go/internal/processing"
	"agrolens-go/internal/server"
	"agrolens-go/internal/session"
	"agrolens-go/internal/simulator"
	"agrolens-go/internal/types"
)

type metrics struct {
	rawMessages     atomic.Uint64
	frameMessages   atomic.Uint64
	metaMessages    atomic.Uint64
	framesSubmitted atomic.Uint64
	framesIdle      atomic.Uint64
	ticks           atomic.Uint64
	corrections     atomic.Uint64
	stableTicks     atomic.Uint64
	uiDropped       atomic.Uint64
}

func (m *metrics) snapshot() map[string]any {
	return map[string]any{
		"raw_messages_total":     m.rawMessages.Load(),
		"frame_messages_total":   m.frameMessages.Load(),
		"meta_messages_total":    m.metaMessages.Load(),
		"frames_submitted_total": m.framesSubmitted.Load(),
		"frames_idle_total":      m.framesIdle.Load(),
		"ticks_total":            m.ticks.Load(),
		"corrections_total":      m.corrections.Load(),
		"stable_ticks_total":     m.stableTicks.Load(),
		"ui_dropped_total":       m.uiDropped.Load(),
	}
}

func main() {
	var (
		port           = flag.Int("port", 8888, "HTTP port for the web UI")
		endpoint       = flag.String("endpoint", "tcp://localhost:31001", "ZMQ endpoint of the camera host")
		debug          = flag.Bool("debug", false, "Run with a simulated camera")
		debugFrameRate = flag.Float64("debug-frame-rate", 10.0, "Simulated camera frame rate (frames/sec)")
		debugPanel     = flag.Bool("debug-panel", false, "Start with the debug panel enabled")
		classifierURL  = flag.String("classifier-url", "", "Model server base URL; empty uses predictions embedded in frames")
		classifierPoll = flag.Duration("classifier-poll", 5*time.Second, "Polling interval for model server health")
		autoStart      = flag.Bool("auto-start", true, "Start a session immediately instead of waiting for a start message")
		outputDir      = flag.String("output-dir", "output", "Directory for decision logs")
		decisionLog    = flag.Bool("decision-log", false, "Write a per-session decision log")
		rawLogEnabled  = flag.Bool("raw-log", false, "Write raw CBOR messages to disk")
		rawLogDir      = flag.String("raw-log-dir", "rawlog", "Directory for raw ingest logs")
		ingestLogEvery = flag.Int("ingest-log-every", 100, "Log every Nth ingest error")
		ingestFallback = flag.Bool("ingest-fallback", true, "Fall back to simulator when ingest fails")
		tuningPath     = flag.String("tuning", "", "Optional JSON tuning file")
	)
	flag.Parse()

	tuning := config.DefaultTuning()
	if *tuningPath != "" {
		loaded, err := config.LoadTuning(*tuningPath)
		if err != nil {
			log.Fatalf("failed to load tuning: %v", err)
		}
		tuning = loaded
	}

	cfg := config.AppConfig{
		Port:           *port,
		Endpoint:       *endpoint,
		Debug:          *debug,
		DebugFrameRate: *debugFrameRate,
		DebugPanel:     *debugPanel,
		ClassifierURL:  *classifierURL,
		ClassifierPoll: *classifierPoll,
		AutoStart:      *autoStart,
		OutputDir:      *outputDir,
		DecisionLog:    *decisionLog,
		RawLogEnabled:  *rawLogEnabled,
		RawLogDir:      *rawLogDir,
		IngestLogEvery: *ingestLogEvery,
		IngestFallback: *ingestFallback,
		Tuning:         tuning,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	simOpts := simulator.Options{FrameRate: cfg.DebugFrameRate}

	var rawMessages <-chan types.RawMessage
	if cfg.Debug {
		rawMessages = simulator.Stream(ctx, simOpts)
	} else {
		out := make(chan types.RawMessage, 16)
		rawMessages = out
		var recorder ingest.RawRecorder
		if cfg.RawLogEnabled {
			writer, err := output.NewRawLogWriter(cfg.RawLogDir, "raw_cbor")
			if err != nil {
				log.Fatalf("failed to start raw log: %v", err)
			}
			log.Printf("recording raw frames to %s", writer.Path())
			recorder = writer
			go func() {
				<-ctx.Done()
				if err := writer.Close(); err != nil {
					log.Printf("raw log close failed: %v", err)
				}
			}()
		}
		go func() {
			defer close(out)
			var ingestCh <-chan types.RawMessage
			startIngest := func() {
				frames, err := ingest.StreamWithLogEveryAndRecorder(ctx, cfg.Endpoint, cfg.IngestLogEvery, recorder)
				if err != nil {
					if cfg.IngestFallback {
						log.Printf("failed to start ingest: %v; falling back to simulator", err)
						ingestCh = simulator.Stream(ctx, simOpts)
					} else {
						log.Fatalf("failed to start ingest: %v", err)
					}
				} else {
					ingestCh = frames
				}
			}
			startIngest()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ingestCh:
					if !ok {
						if ctx.Err() != nil {
							return
						}
						startIngest()
						continue
					}
					select {
					case <-ctx.Done():
						return
					case out <- msg:
					}
				}
			}
		}()
	}

	uiMessages := make(chan any, 64)
	var metrics metrics
	publish := func(message any) {
		select {
		case uiMessages <- message:
		default:
			metrics.uiDropped.Add(1)
		}
	}

	var statusMu sync.Mutex
	status := map[string]any{
		"source":     "stream",
		"classifier": "embedded",
		"session":    session.StateStopped,
		"session_id": "",
		"last_frame": "",
	}
	if cfg.Debug {
		status["source"] = "simulator"
	}
	setStatus := func(key string, value any) {
		statusMu.Lock()
		status[key] = value
		statusMu.Unlock()
	}

	var currentSession atomic.Value
	currentSession.Store("")

	panel := processing.NewDebugPanel(func(fields types.DebugFields) {
		publish(types.UIDebug{Type: "debug", SessionID: currentSession.Load().(string), Debug: fields})
	})
	panel.SetEnabled(cfg.DebugPanel)

	var cls classifier.Classifier = classifier.Embedded{}
	if cfg.ClassifierURL != "" {
		cls = classifier.NewHTTP(cfg.ClassifierURL, nil)
		setStatus("classifier", "unknown")
		go classifier.Poll(ctx, cfg.ClassifierURL, cfg.ClassifierPoll, func(state string) {
			setStatus("classifier", state)
		})
	}

	runTimestamp := time.Now().Format("20060102_150405")
	opts := session.Options{
		Tuning:     cfg.Tuning,
		Classifier: cls,
		Debug:      panel,
		OnTick: func(update session.Update) {
			metrics.ticks.Add(1)
			if update.Result.Result.WasCorrected {
				metrics.corrections.Add(1)
			}
			if update.Result.Decision.IsStable {
				metrics.stableTicks.Add(1)
			}
			publish(types.UIDecision{
				Type:      "decision",
				SessionID: update.SessionID,
				Tick:      update.Tick,
				Decision:  update.Result.Decision,
			})
		},
	}
	if cfg.DecisionLog {
		opts.OpenRecorder = func(sessionID string) (session.Recorder, error) {
			return output.NewDecisionLog(cfg.OutputDir, runTimestamp, sessionID)
		}
	}

	controller := session.NewController(opts, func(sessionID, state string) {
		if state == session.StateRunning {
			currentSession.Store(sessionID)
		} else {
			currentSession.Store("")
		}
		statusMu.Lock()
		status["session"] = state
		status["session_id"] = sessionID
		statusMu.Unlock()
		publish(types.UISession{Type: "session", SessionID: sessionID, State: state})
	})
	defer func() {
		if _, err := controller.Stop(); err != nil && !errors.Is(err, session.ErrNoSession) {
			log.Printf("session stop failed: %v", err)
		}
	}()

	if cfg.AutoStart {
		if _, err := controller.Start(ctx); err != nil {
			log.Printf("session start failed: %v", err)
		}
	}

	go func() {
		for msg := range rawMessages {
			metrics.rawMessages.Add(1)
			switch msg.Type {
			case "start":
				metrics.metaMessages.Add(1)
				log.Printf("camera start: %v", msg.Meta)
				if _, err := controller.Start(ctx); err != nil && !errors.Is(err, session.ErrSessionActive) {
					log.Printf("session start failed: %v", err)
				}
			case "end":
				metrics.metaMessages.Add(1)
				log.Printf("camera end: %v", msg.Meta)
				if _, err := controller.Stop(); err != nil && !errors.Is(err, session.ErrNoSession) {
					log.Printf("session stop failed: %v", err)
				}
			case "frame":
				metrics.frameMessages.Add(1)
				setStatus("last_frame", time.Now().Format(time.RFC3339))
				if controller.Submit(msg.Frame) {
					metrics.framesSubmitted.Add(1)
				} else {
					metrics.framesIdle.Add(1)
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snapshot := metrics.snapshot()
				log.Printf("stats: raw=%v frames=%v ticks=%v corrections=%v decode_failures=%v",
					snapshot["raw_messages_total"],
					snapshot["frame_messages_total"],
					snapshot["ticks_total"],
					snapshot["corrections_total"],
					ingest.DecodeFailures(),
				)
			}
		}
	}()

	statusFn := func() map[string]any {
		statusMu.Lock()
		defer statusMu.Unlock()
		copy := map[string]any{}
		for k, v := range status {
			copy[k] = v
		}
		metricsPayload := metrics.snapshot()
		metricsPayload["ingest_decode_failures_total"] = ingest.DecodeFailures()
		metricsPayload["frames_overwritten_total"] = controller.Dropped()
		copy["metrics"] = metricsPayload
		copy["debug_panel"] = panel.Enabled()
		if active, ok := controller.Active(); ok {
			copy["decision"] = active.Decision()
			copy["session_stats"] = active.Stats()
		}
		return copy
	}

	configFn := func() map[string]any {
		return map[string]any{
			"endpoint":          cfg.Endpoint,
			"simulator":         cfg.Debug,
			"stability_divisor": cfg.Tuning.GetStabilityDivisor(),
			"classify_timeout":  cfg.Tuning.GetClassifyTimeout().String(),
		}
	}

	log.Printf("Starting web UI at http://localhost:%d\n", cfg.Port)
	err := server.Run(ctx, cfg, uiMessages, server.Options{
		Sessions: controller,
		Debug:    panel,
		StatusFn: statusFn,
		ConfigFn: configFn,
	})
	if err != nil {
		log.Printf("server stopped: %v", err)
	}
}
