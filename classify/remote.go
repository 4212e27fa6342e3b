package classify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultModel is the image safety model served by the inference endpoint.
const DefaultModel = "google/shieldgemma-2-4b-it"

// Remote scores images against a ShieldGemma-style inference server.
// The server owns the model lifecycle; this client only moves bytes and
// maps every failure to the sentinel score set.
type Remote struct {
	url    string
	model  string
	client *http.Client
	logger *slog.Logger
}

// RemoteOption configures a Remote classifier.
type RemoteOption func(*Remote)

// WithModel selects the model name sent to the server.
func WithModel(model string) RemoteOption {
	return func(r *Remote) { r.model = model }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.client = c }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) RemoteOption {
	return func(r *Remote) { r.logger = l }
}

// NewRemote creates a Remote classifier targeting the given base URL.
func NewRemote(url string, opts ...RemoteOption) *Remote {
	r := &Remote{
		url:    url,
		model:  DefaultModel,
		client: &http.Client{Timeout: 120 * time.Second},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

type classifyRequest struct {
	Model string `json:"model"`
	Image string `json:"image"` // base64-encoded bytes
}

type classifyResponse struct {
	Scores map[string]float64 `json:"scores"`
}

// Classify POSTs the image to the inference server and returns its
// per-category probabilities. Any transport, decode, or range problem
// degrades to the failure sentinel.
func (r *Remote) Classify(ctx context.Context, image []byte) Scores {
	scores, err := r.classify(ctx, image)
	if err != nil {
		r.logger.Warn("classify: remote scoring failed", "error", err)
		return Failure()
	}
	return scores
}

func (r *Remote) classify(ctx context.Context, image []byte) (Scores, error) {
	body, err := json.Marshal(classifyRequest{
		Model: r.model,
		Image: base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return nil, fmt.Errorf("classify: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url+"/v1/classify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("classify: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classify: do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("classify: status %d", resp.StatusCode)
	}

	var cr classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("classify: decode response: %w", err)
	}

	scores := make(Scores, len(Categories()))
	for _, c := range Categories() {
		v, ok := cr.Scores[c]
		if !ok || v < 0 || v > 1 {
			return nil, fmt.Errorf("classify: bad score for %s", c)
		}
		scores[c] = v
	}

	r.logger.Debug("classify: scored image",
		"size", len(image), "duration", time.Since(start))
	return scores, nil
}
