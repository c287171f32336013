package classifier

import (
	"context"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrolens-go/internal/types"
)

func testFrame() types.Frame {
	return types.Frame{Width: 4, Height: 4, Ready: true, Image: image.NewNRGBA(image.Rect(0, 0, 4, 4))}
}

func TestEmbedded(t *testing.T) {
	frame := testFrame()
	frame.Predictions = []types.RawPrediction{{Label: "banana", Confidence: 0.7}}

	got, err := Embedded{}.Classify(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, frame.Predictions, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Embedded{}.Classify(ctx, frame)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodePredictions(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []types.RawPrediction
	}{
		{
			name: "mobilenet array",
			body: `[{"className":"Granny Smith","probability":0.9},{"className":"lemon","probability":0.05}]`,
			want: []types.RawPrediction{{Label: "Granny Smith", Confidence: 0.9}, {Label: "lemon", Confidence: 0.05}},
		},
		{
			name: "wrapped label/confidence",
			body: `{"predictions":[{"label":"zucchini","confidence":0.4}]}`,
			want: []types.RawPrediction{{Label: "zucchini", Confidence: 0.4}},
		},
		{
			name: "confidence clamped",
			body: `[{"label":"orange","confidence":1.5},{"className":"lemon","probability":-1}]`,
			want: []types.RawPrediction{{Label: "orange", Confidence: 1}, {Label: "lemon", Confidence: 0}},
		},
		{
			name: "empty",
			body: `[]`,
			want: []types.RawPrediction{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePredictions([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := DecodePredictions([]byte(`not json`))
	assert.Error(t, err)
}

func TestHTTPClassifyFallsBackPaths(t *testing.T) {
	var mu sync.Mutex
	var hits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, r.URL.Path)
		mu.Unlock()
		if r.URL.Path != "/api/classify" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get("Content-Type") != "image/jpeg" || len(body) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`[{"className":"bell pepper","probability":0.61}]`))
	}))
	defer srv.Close()

	c := NewHTTP(srv.URL+"/", srv.Client())
	got, err := c.Classify(context.Background(), testFrame())
	require.NoError(t, err)
	assert.Equal(t, []types.RawPrediction{{Label: "bell pepper", Confidence: 0.61}}, got)
	assert.Equal(t, []string{"/classify", "/api/classify"}, hits)
}

func TestHTTPClassifyErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL, srv.Client()).Classify(context.Background(), testFrame())
	assert.ErrorContains(t, err, "http 503")

	_, err = NewHTTP("", nil).Classify(context.Background(), testFrame())
	assert.ErrorIs(t, err, ErrMissingBaseURL)

	_, err = NewHTTP(srv.URL, nil).Classify(context.Background(), types.Frame{})
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestHTTPClassifyHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewHTTP(srv.URL, srv.Client()).Classify(ctx, testFrame())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollReportsStateChanges(t *testing.T) {
	var (
		mu     sync.Mutex
		loaded bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if !loaded {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"ready":false,"model_loaded":false}`))
			loaded = true
			return
		}
		w.Write([]byte(`{"ready":true,"model_loaded":true,"model":"mobilenet_v2"}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	states := make(chan string, 8)
	go Poll(ctx, srv.URL, 10*time.Millisecond, func(s string) {
		select {
		case states <- s:
		default:
		}
	})

	for _, want := range []string{HealthLoading, HealthReady} {
		select {
		case s := <-states:
			assert.Equal(t, want, s)
		case <-time.After(2 * time.Second):
			t.Fatalf("no %q state reported", want)
		}
	}

	// steady ready responses are not re-reported
	select {
	case s := <-states:
		t.Fatalf("unexpected repeated state %q", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPollUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	states := make(chan string, 1)
	go Poll(ctx, url, time.Hour, func(s string) {
		select {
		case states <- s:
		default:
		}
	})

	select {
	case s := <-states:
		assert.Equal(t, HealthUnreachable, s)
	case <-time.After(2 * time.Second):
		t.Fatal("no status reported")
	}
}

func TestHealthState(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name   string
		health Health
		code   int
		want   string
	}{
		{"empty ok", Health{}, http.StatusOK, HealthReady},
		{"ready", Health{Ready: &yes, ModelLoaded: &yes}, http.StatusOK, HealthReady},
		{"model not loaded", Health{Ready: &yes, ModelLoaded: &no}, http.StatusOK, HealthLoading},
		{"not ready", Health{Ready: &no}, http.StatusOK, HealthLoading},
		{"warming up", Health{}, http.StatusServiceUnavailable, HealthLoading},
		{"error reported", Health{Ready: &yes, Error: "cuda out of memory"}, http.StatusOK, HealthDegraded},
		{"server error", Health{}, http.StatusInternalServerError, "http_500"},
		{"missing route", Health{}, http.StatusNotFound, "http_404"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.health.State(tt.code))
		})
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	got := truncate([]byte("éééé"), 3)
	assert.Equal(t, "é", got)
	assert.True(t, utf8.ValidString(got))

	assert.Equal(t, "short", truncate([]byte("  short  "), 10))
	assert.Equal(t, "abc", truncate([]byte("abcdef"), 3))
}
