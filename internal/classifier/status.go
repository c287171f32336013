package classifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Model server states reported on /status.
const (
	HealthReady       = "ready"
	HealthLoading     = "loading"
	HealthDegraded    = "degraded"
	HealthUnreachable = "unreachable"
)

// Health is the body of a model server's GET /health. Every field is
// optional; servers that answer 200 with no body are ready.
type Health struct {
	Ready       *bool  `json:"ready"`
	ModelLoaded *bool  `json:"model_loaded"`
	Model       string `json:"model"`
	Error       string `json:"error"`
}

// State maps a health response onto one of the Health* states. Other
// status codes come back as "http_<code>".
func (h Health) State(statusCode int) string {
	switch {
	case h.Error != "":
		return HealthDegraded
	case h.ModelLoaded != nil && !*h.ModelLoaded:
		return HealthLoading
	case h.Ready != nil && !*h.Ready:
		return HealthLoading
	case statusCode == http.StatusServiceUnavailable:
		// warming up without saying why
		return HealthLoading
	case statusCode == http.StatusOK:
		return HealthReady
	default:
		return "http_" + strconv.Itoa(statusCode)
	}
}

// Poll reports the model server's health state until ctx ends. The first
// state is reported immediately, later ones only when they change.
func Poll(ctx context.Context, baseURL string, interval time.Duration, update func(string)) {
	if baseURL == "" || update == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	endpoint := strings.TrimRight(baseURL, "/") + "/health"
	client := &http.Client{Timeout: 900 * time.Millisecond}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ""
	for {
		if state := checkHealth(ctx, client, endpoint); state != last {
			last = state
			update(state)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func checkHealth(ctx context.Context, client *http.Client, endpoint string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return HealthUnreachable
	}
	resp, err := client.Do(req)
	if err != nil {
		return HealthUnreachable
	}
	defer resp.Body.Close()

	var health Health
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil && len(strings.TrimSpace(string(body))) > 0 {
		// non-JSON bodies ("ok") fall back to the status code alone
		_ = json.Unmarshal(body, &health)
	}
	return health.State(resp.StatusCode)
}
