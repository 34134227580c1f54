package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/example/face-match/internal/comparison"
	"github.com/example/face-match/internal/logging"
)

const (
	comparePath = "/api/compare"
	healthPath  = "/api/health"
)

// Client talks JSON over HTTP to the face comparison service.
type Client struct {
	http    *resty.Client
	baseURL string
	logger  *zap.Logger
}

var _ comparison.Client = (*Client)(nil)

type compareRequest struct {
	Image1 string `json:"image1"`
	Image2 string `json:"image2"`
}

type compareResponse struct {
	MatchPercentage *float64 `json:"match_percentage"`
	MatchColor      string   `json:"match_color"`
	MatchLevel      string   `json:"match_level"`
	Distance        float64  `json:"distance"`
	Model           string   `json:"model"`
	Verified        *bool    `json:"verified"`
	Threshold       *float64 `json:"threshold"`
	Message         string   `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New returns a client for the service at baseURL. Requests never retry.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		logger:  logger.Named("apiclient").With(zap.String("base_url", baseURL)),
	}
}

// BaseURL returns the service address this client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Compare posts both data URIs and decodes the similarity result.
func (c *Client) Compare(ctx context.Context, image1, image2 string) (*comparison.Result, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(compareRequest{Image1: image1, Image2: image2}).
		Post(comparePath)
	if err != nil {
		wrapped := logging.NewOperationError("apiclient.compare", "", err)
		c.logger.Error("comparison request failed", zap.Error(wrapped))
		return nil, wrapped
	}

	if !resp.IsSuccess() {
		apiErr := &comparison.APIError{StatusCode: resp.StatusCode()}
		var body errorResponse
		if err := json.Unmarshal(resp.Body(), &body); err == nil {
			apiErr.Message = strings.TrimSpace(body.Error)
		}
		c.logger.Warn("comparison rejected",
			zap.Int("status", resp.StatusCode()),
			zap.String("error", apiErr.Message))
		return nil, apiErr
	}

	var body compareResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("%w: %v", comparison.ErrMalformedResponse, err)
	}
	if body.MatchPercentage == nil {
		return nil, fmt.Errorf("%w: match_percentage missing", comparison.ErrMalformedResponse)
	}
	if pct := *body.MatchPercentage; pct < 0 || pct > 100 {
		return nil, fmt.Errorf("%w: match_percentage %v out of range", comparison.ErrMalformedResponse, pct)
	}

	return &comparison.Result{
		MatchPercentage: *body.MatchPercentage,
		MatchColor:      body.MatchColor,
		MatchLevel:      body.MatchLevel,
		Distance:        body.Distance,
		Model:           body.Model,
		Verified:        body.Verified,
		Threshold:       body.Threshold,
		Message:         body.Message,
	}, nil
}

// Health probes the service. Any 2xx answer counts as healthy.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get(healthPath)
	if err != nil {
		return logging.NewOperationError("apiclient.health", "", err)
	}
	if !resp.IsSuccess() {
		return &comparison.APIError{StatusCode: resp.StatusCode(), Message: resp.Status()}
	}
	return nil
}

// Pool hands out one client per base URL.
type Pool struct {
	mu      sync.Mutex
	clients map[string]*Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewPool creates an empty pool whose clients use the given request timeout.
func NewPool(timeout time.Duration, logger *zap.Logger) *Pool {
	return &Pool{
		clients: make(map[string]*Client),
		timeout: timeout,
		logger:  logger,
	}
}

// Get returns the client for baseURL, creating it on first use.
func (p *Pool) Get(baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	p.mu.Lock()
	defer p.mu.Unlock()
	if client, ok := p.clients[baseURL]; ok {
		return client
	}
	client := New(baseURL, p.timeout, p.logger)
	p.clients[baseURL] = client
	return client
}
