// internal/scoring/client.go
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"admission-pipeline/internal/common/errors"
	commonhttp "admission-pipeline/internal/common/http"
	"admission-pipeline/internal/common/logger"
	"admission-pipeline/internal/models"
)

// Config points the client at the external ML scoring service.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// Client calls the external ML scoring service, one HTTP call per chunk.
// The service is a pure scoring function with no mutation, so calls are
// idempotent and safe to retry at the chunk level.
type Client struct {
	config     *Config
	httpClient *commonhttp.Client
	logger     logger.Logger
}

func NewClient(cfg *Config, log logger.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring config: %w", err)
	}
	return &Client{
		config:     cfg,
		httpClient: commonhttp.NewClient(cfg.Timeout),
		logger:     log,
	}, nil
}

// validationErrorResponse is the service's structured rejection shape.
// Receiving it means the request schema itself is wrong for every item in
// the chunk, so the whole chunk fails non-retryably.
type validationErrorResponse struct {
	Detail []validationErrorDetail `json:"detail"`
}

type validationErrorDetail struct {
	Loc  []interface{} `json:"loc"`
	Msg  string        `json:"msg"`
	Type string        `json:"type"`
}

// ScoreL1 scores one chunk of L1 combination requests.
func (c *Client) ScoreL1(ctx context.Context, requests []models.L1ScoringRequest) ([]models.L1ScoredItem, error) {
	var items []models.L1ScoredItem
	if err := c.post(ctx, "/v1/score/l1", requests, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// ScoreL2 scores one chunk of L2 exam-scenario requests.
func (c *Client) ScoreL2(ctx context.Context, requests []models.L2ScoringRequest) ([]models.L2ScoredItem, error) {
	var items []models.L2ScoredItem
	if err := c.post(ctx, "/v1/score/l2", requests, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// ScoreL3 scores one chunk of L3 feature-vector requests.
func (c *Client) ScoreL3(ctx context.Context, requests []models.L3ScoringRequest) ([]models.L3ScoredItem, error) {
	var items []models.L3ScoredItem
	if err := c.post(ctx, "/v1/score/l3", requests, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal scoring request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build scoring request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.DoWithContext(ctx, req)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return errors.NewScoringTimeoutError(err)
		}
		return errors.NewScoringUnavailableError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewScoringUnavailableError(err)
	}

	// The service reports schema rejections as a structured error object,
	// sometimes with a 2xx status. Detect the shape regardless of status.
	if verr := parseValidationError(respBody); verr != nil {
		c.logger.Warn("Scoring service rejected request schema", map[string]interface{}{
			"path":   path,
			"detail": verr.Details,
		})
		return verr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewScoringUnavailableError(
			fmt.Errorf("scoring service returned %d: %s", resp.StatusCode, truncate(respBody, 200)))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.NewScoringMalformedResponseError(err)
	}
	return nil
}

func parseValidationError(body []byte) *errors.StandardError {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var verr validationErrorResponse
	if err := json.Unmarshal(trimmed, &verr); err != nil || len(verr.Detail) == 0 {
		return nil
	}
	parts := make([]string, 0, len(verr.Detail))
	for _, d := range verr.Detail {
		parts = append(parts, fmt.Sprintf("%v: %s (%s)", d.Loc, d.Msg, d.Type))
	}
	detail, _ := json.Marshal(parts)
	return errors.NewScoringValidationRejectError(string(detail))
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	for e := err; e != nil; {
		if te, ok := e.(timeouter); ok && te.Timeout() {
			return true
		}
		type unwrapper interface{ Unwrap() error }
		ue, ok := e.(unwrapper)
		if !ok {
			return false
		}
		e = ue.Unwrap()
	}
	return false
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
