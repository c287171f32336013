package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"agrolens-go/internal/config"
	"agrolens-go/internal/ingest"
	"agrolens-go/internal/output"
	"agrolens-go/internal/processing"
	"agrolens-go/internal/session"
	"agrolens-go/internal/types"
)

// agrolens-replay feeds a recorded raw log through a fresh session, one
// frame per tick, and prints every decision.
func main() {
	var (
		path       = flag.String("path", "", "Path to rawlog .bin file")
		tuningPath = flag.String("tuning", "", "Optional JSON tuning file")
		debug      = flag.Bool("debug", false, "Print the debug fields of every tick")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("missing -path")
	}

	tuning := config.DefaultTuning()
	if *tuningPath != "" {
		loaded, err := config.LoadTuning(*tuningPath)
		if err != nil {
			log.Fatalf("load tuning: %v", err)
		}
		tuning = loaded
	}

	f, err := os.Open(*path)
	if err != nil {
		log.Fatalf("open rawlog: %v", err)
	}
	defer f.Close()

	reader, err := output.NewRawLogReader(f)
	if err != nil {
		log.Fatalf("open rawlog: %v", err)
	}

	var panel *processing.DebugPanel
	if *debug {
		panel = processing.NewDebugPanel(func(fields types.DebugFields) {
			fmt.Printf("    raw=%q color=%q action=%s\n", fields.Raw, fields.Color, fields.Action)
		})
		panel.SetEnabled(true)
	}

	opts := session.Options{
		Tuning: tuning,
		OnTick: func(update session.Update) {
			d := update.Result.Decision
			fmt.Printf("tick %4d frame %6d  %-12s %-24s %-10s %s\n",
				update.Tick, update.FrameID, d.ColorHint, d.Label, d.SubText, update.Result.Result.RawLabel)
		},
	}
	if panel != nil {
		opts.Debug = panel
	}

	var (
		sess    *session.Session
		frames  chan types.Frame
		done    chan error
		counts  = map[string]int{}
		records int
	)
	startSession := func() {
		sess = session.New(opts)
		frames = make(chan types.Frame)
		done = make(chan error, 1)
		go func(s *session.Session, ch chan types.Frame) {
			done <- s.Run(context.Background(), ch)
		}(sess, frames)
		fmt.Printf("session %s\n", sess.ID())
	}
	endSession := func() {
		if sess == nil {
			return
		}
		close(frames)
		if err := <-done; err != nil {
			log.Printf("session %s: %v", sess.ID(), err)
		}
		stats := sess.Stats()
		fmt.Printf("session %s done: ticks=%d skipped=%d corrections=%d\n", sess.ID(), stats.Ticks, stats.Skipped, stats.Corrections)
		sess = nil
	}

	for {
		_, payload, err := reader.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("record %d: %v", records, err)
			}
			break
		}
		records++

		msg, err := ingest.Decode(payload)
		if err != nil {
			counts["invalid"]++
			continue
		}
		counts[msg.Type]++

		switch msg.Type {
		case "start":
			endSession()
			startSession()
		case "end":
			endSession()
		case "frame":
			if sess == nil {
				startSession()
			}
			frames <- msg.Frame
		}
	}
	endSession()

	fmt.Printf("summary: records=%d start=%d frame=%d end=%d invalid=%d\n",
		records, counts["start"], counts["frame"], counts["end"], counts["invalid"])
}
