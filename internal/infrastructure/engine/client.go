package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"FeedCurator/internal/config"
	"FeedCurator/internal/domain"
	"FeedCurator/internal/ports"
)

// Client talks to the external relevance and style service. Transient HTTP
// errors are retried by the transport; the scoring stage owns the
// coarser-grained retry policy on top.
type Client struct {
	endpoint string
	apiKey   string
	http     *retryablehttp.Client
}

var _ ports.Engine = (*Client)(nil)

// NewClient builds a client from configuration.
func NewClient(cfg config.EngineConfig) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil
	rc.HTTPClient.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	if cfg.TimeoutSeconds <= 0 {
		rc.HTTPClient.Timeout = 20 * time.Second
	}

	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		http:     rc,
	}
}

type analyzeRequest struct {
	Text  string            `json:"text"`
	Media []domain.MediaRef `json:"media,omitempty"`
}

type analyzeResponse struct {
	Relevance  int    `json:"relevance"`
	StyledText string `json:"styled_text"`
}

// Analyze submits item content and returns the engine verdict. Every failure
// mode maps to *domain.EngineError so the caller can treat it as retryable.
func (c *Client) Analyze(ctx context.Context, text string, media []domain.MediaRef) (domain.Review, error) {
	if c.endpoint == "" {
		return domain.Review{}, &domain.EngineError{Reason: "engine endpoint not configured"}
	}

	body, err := json.Marshal(analyzeRequest{Text: text, Media: media})
	if err != nil {
		return domain.Review{}, &domain.EngineError{Reason: "marshal request", Err: err}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Review{}, &domain.EngineError{Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Review{}, &domain.EngineError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.Review{}, &domain.EngineError{
			Reason: fmt.Sprintf("status %s: %s", resp.Status, strings.TrimSpace(string(payload))),
		}
	}

	var parsed analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.Review{}, &domain.EngineError{Reason: "malformed response", Err: err}
	}

	review := domain.Review{Relevance: parsed.Relevance, StyledText: parsed.StyledText}
	if !review.Valid() {
		return domain.Review{}, &domain.EngineError{
			Reason: fmt.Sprintf("score %d outside [1,10]", parsed.Relevance),
		}
	}

	return review, nil
}
