package output

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrolens-go/internal/processing"
	"agrolens-go/internal/types"
)

func TestRawLogRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewRawLogWriter(dir, "raw")
	require.NoError(t, err)

	payloads := [][]byte{{0xa1, 0x01, 0x02}, {}, bytes.Repeat([]byte{0x7f}, 4096)}
	for _, p := range payloads {
		require.NoError(t, w.Record(p))
	}
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Error(t, w.Record([]byte{1}))

	f, err := os.Open(w.Path())
	require.NoError(t, err)
	defer f.Close()

	r, err := NewRawLogReader(f)
	require.NoError(t, err)
	for i, want := range payloads {
		ts, got, err := r.Next()
		require.NoError(t, err, "record %d", i)
		assert.False(t, ts.IsZero())
		assert.Equal(t, len(want), len(got))
		assert.True(t, bytes.Equal(want, got), "record %d differs", i)
	}
	_, _, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRawLogReaderRejects(t *testing.T) {
	_, err := NewRawLogReader(strings.NewReader("NOTALOG1"))
	assert.ErrorIs(t, err, ErrBadMagic)

	_, err = NewRawLogReader(strings.NewReader("AGR"))
	assert.Error(t, err)

	// header promises 16 bytes, only 2 follow
	truncated := RawLogMagic + "\x00\x00\x00\x00\x00\x00\x00\x00\x10\x00\x00\x00ab"
	r, err := NewRawLogReader(strings.NewReader(truncated))
	require.NoError(t, err)
	_, _, err = r.Next()
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF), "got %v", err)
}

func TestDecisionLog(t *testing.T) {
	dir := t.TempDir()
	log, err := NewDecisionLog(dir, "20240101_000000", "abc")
	require.NoError(t, err)

	tick := processing.Tick{
		Prediction: types.RawPrediction{Label: "Granny Smith, apple", Confidence: 0.82},
		Sample:     types.ColorSample{R: 220, G: 80, B: 60, Dominant: types.Red},
		Result: types.CorrectedResult{
			DisplayLabel: "Tomato",
			RawLabel:     "Granny Smith",
			WasCorrected: true,
			RuleApplied:  "red-fruit-to-tomato",
			Confidence:   0.82,
		},
		Decision: types.DisplayDecision{Label: "Analyzing...", SubText: "⌛"},
	}
	require.NoError(t, log.Write(1, 42, 1.5, tick))
	require.NoError(t, log.Close())
	assert.Error(t, log.Write(2, 43, 1.6, tick))

	data, err := os.ReadFile(log.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "tick, frame_id"))
	assert.Equal(t,
		`1, 42, 1.500000, "Granny Smith", 0.8200, Red, "Tomato", red-fruit-to-tomato, false, "Analyzing...", "⌛"`,
		lines[1])
}

func TestNormalizeJSONValue(t *testing.T) {
	pixels := bytes.Repeat([]byte{1}, 300)
	in := map[any]any{
		"type":     "frame",
		uint64(7):  "seven",
		"short":    []byte{1, 2},
		"pixels":   cbor.Tag{Number: 40, Content: []any{[]any{uint64(10), uint64(10)}, pixels}},
		"children": []any{map[any]any{"label": "apple"}},
	}

	out, ok := NormalizeJSONValue(in).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "frame", out["type"])
	assert.Equal(t, "seven", out["7"])
	assert.Equal(t, []byte{1, 2}, out["short"])

	tag := out["pixels"].(map[string]any)
	assert.Equal(t, uint64(40), tag["tag"])
	content := tag["content"].([]any)
	assert.Equal(t, "<300 bytes>", content[1])

	child := out["children"].([]any)[0].(map[string]any)
	assert.Equal(t, "apple", child["label"])
}
