package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"agrolens-go/internal/types"
)

var (
	ErrMissingBaseURL = errors.New("missing classifier base url")
	ErrNoImage        = errors.New("frame has no image")
	ErrNotFound       = errors.New("classifier endpoint not found")
)

// HTTP posts JPEG-encoded frames to a model server. Servers differ in where
// they mount the endpoint, so every candidate path is tried until one
// answers with something other than 404.
type HTTP struct {
	baseURL string
	client  *http.Client
	quality int
}

func NewHTTP(baseURL string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		quality: 85,
	}
}

func BuildPaths(baseURL string, endpoint string) []string {
	baseURL = strings.TrimRight(baseURL, "/")
	endpoint = strings.Trim(endpoint, "/")
	if baseURL == "" || endpoint == "" {
		return nil
	}
	return []string{
		baseURL + "/" + endpoint,
		baseURL + "/api/" + endpoint,
		baseURL + "/v1/" + endpoint,
	}
}

func (h *HTTP) Classify(ctx context.Context, frame types.Frame) ([]types.RawPrediction, error) {
	if h.baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if frame.Image == nil {
		return nil, ErrNoImage
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: h.quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	status, body, err := h.doRequest(ctx, BuildPaths(h.baseURL, "classify"), buf.Bytes(), "image/jpeg")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("classifier returned http %d: %s", status, truncate(body, 200))
	}

	preds, err := DecodePredictions(body)
	if err != nil {
		return nil, fmt.Errorf("decode predictions: %w", err)
	}
	return preds, nil
}

func (h *HTTP) doRequest(ctx context.Context, paths []string, payload []byte, contentType string) (int, []byte, error) {
	var lastErr error = ErrNotFound
	for _, path := range paths {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(payload))
		if err != nil {
			lastErr = err
			continue
		}
		req.Header.Set("Content-Type", contentType)
		resp, err := h.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return 0, nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			return resp.StatusCode, body, nil
		}
	}
	return 0, nil, lastErr
}

// wirePrediction accepts both the MobileNet field names and our own.
type wirePrediction struct {
	ClassName   string   `json:"className"`
	Probability *float64 `json:"probability"`
	Label       string   `json:"label"`
	Confidence  *float64 `json:"confidence"`
}

// DecodePredictions parses either a bare array or {"predictions": [...]}.
// Order is preserved; the server is expected to rank.
func DecodePredictions(body []byte) ([]types.RawPrediction, error) {
	body = bytes.TrimSpace(body)
	var list []wirePrediction
	if len(body) > 0 && body[0] == '{' {
		var wrapped struct {
			Predictions []wirePrediction `json:"predictions"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, err
		}
		list = wrapped.Predictions
	} else if err := json.Unmarshal(body, &list); err != nil {
		return nil, err
	}

	out := make([]types.RawPrediction, 0, len(list))
	for _, w := range list {
		p := types.RawPrediction{Label: w.Label}
		if p.Label == "" {
			p.Label = w.ClassName
		}
		switch {
		case w.Confidence != nil:
			p.Confidence = *w.Confidence
		case w.Probability != nil:
			p.Confidence = *w.Probability
		}
		p.Confidence = types.ClampConfidence(p.Confidence)
		out = append(out, p)
	}
	return out, nil
}

// truncate keeps at most n bytes of b without splitting a rune.
func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
