package config

import "time"

type AppConfig struct {
	Port           int
	Endpoint       string
	Debug          bool
	DebugFrameRate float64
	DebugPanel     bool
	ClassifierURL  string
	ClassifierPoll time.Duration
	AutoStart      bool
	OutputDir      string
	DecisionLog    bool
	RawLogEnabled  bool
	RawLogDir      string
	IngestLogEvery int
	IngestFallback bool
	Tuning         *Tuning
}
