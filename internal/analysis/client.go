package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"shadowcam/internal/capture"
	"shadowcam/internal/config"
	"shadowcam/internal/logging"
	"shadowcam/internal/services"
)

const (
	defaultHTTPTimeout = 130 * time.Second
	genericFailure     = "Analysis failed"
	maxErrorBody       = 64 << 10
)

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLimits overrides the local payload limits.
func WithLimits(l Limits) Option {
	return func(c *Client) {
		c.limits = l
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client talks to the remote authenticity service. It holds no per-request
// state and is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limits     Limits
	logger     *slog.Logger
}

// NewClient constructs a client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		limits:     DefaultLimits(),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "analysis")
	return c
}

// NewClientFromConfig wires a client from configuration.
func NewClientFromConfig(cfg *config.Config, logger *slog.Logger, opts ...Option) *Client {
	base := []Option{
		WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout()}),
		WithLimits(Limits{MaxImageBytes: cfg.API.MaxImageBytes, MaxVideoBytes: cfg.API.MaxVideoBytes}),
		WithLogger(logger),
	}
	return NewClient(cfg.API.BaseURL, append(base, opts...)...)
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string { return c.baseURL }

// Analyze submits p and returns the service verdict.
func (c *Client) Analyze(ctx context.Context, p capture.Payload, token string) (Verdict, error) {
	endpoint := endpointFor(p.Kind())
	op := strings.TrimPrefix(endpoint, "/")
	if err := c.limits.Check(p); err != nil {
		return Verdict{}, rejected(op, 0, err.Error())
	}

	body, contentType, err := encodeMultipart(p)
	if err != nil {
		return Verdict{}, services.Wrap(services.ErrCapture, "analysis", op, "failed to encode upload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
	if err != nil {
		return Verdict{}, services.Wrap(services.ErrUnreachable, "analysis", op, "invalid analysis endpoint", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	requestID, ok := services.RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)

	logger := logging.WithContext(ctx, c.logger)
	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn("analysis request failed",
			logging.String("endpoint", endpoint),
			logging.String(logging.FieldRequestID, requestID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "analysis_unreachable"),
			logging.String(logging.FieldErrorHint, "check api.base_url and that the analysis service is running"),
		)
		return Verdict{}, services.Wrap(services.ErrUnreachable, "analysis", op, "analysis service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := rejectionMessage(resp.Body)
		logger.Warn("analysis rejected",
			logging.String("endpoint", endpoint),
			logging.Int("status", resp.StatusCode),
			logging.String("detail", msg),
			logging.String(logging.FieldRequestID, requestID),
			logging.String(logging.FieldEventType, "analysis_rejected"),
		)
		return Verdict{}, rejected(op, resp.StatusCode, msg)
	}

	var verdict Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return Verdict{}, rejected(op, resp.StatusCode, genericFailure)
	}
	verdict, err = verdict.normalize()
	if err != nil {
		logger.Warn("analysis returned malformed verdict",
			logging.String("endpoint", endpoint),
			logging.Error(err),
			logging.String(logging.FieldEventType, "analysis_malformed"),
		)
		return Verdict{}, rejected(op, resp.StatusCode, genericFailure)
	}

	logger.Debug("analysis completed",
		logging.String("endpoint", endpoint),
		logging.String("payload_kind", string(p.Kind())),
		logging.Int64("payload_bytes", p.Size()),
		logging.String("verdict", verdict.Verdict),
		logging.Float64("probability", verdict.Probability),
		logging.String("risk_level", verdict.RiskLevel),
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldRequestID, requestID),
	)
	return verdict, nil
}

// HealthStatus is the service's /health response.
type HealthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Health checks that the service is up.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return HealthStatus{}, services.Wrap(services.ErrUnreachable, "analysis", "health", "invalid analysis endpoint", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HealthStatus{}, services.Wrap(services.ErrUnreachable, "analysis", "health", "analysis service unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return HealthStatus{}, rejected("health", resp.StatusCode, rejectionMessage(resp.Body))
	}
	var status HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return HealthStatus{}, rejected("health", resp.StatusCode, "malformed health response")
	}
	if !strings.EqualFold(status.Status, "ok") {
		return status, rejected("health", resp.StatusCode, fmt.Sprintf("service reports status %q", status.Status))
	}
	return status, nil
}

func encodeMultipart(p capture.Payload) (io.Reader, string, error) {
	var buf bytes.Buffer
	buf.Grow(int(p.Size()) + 512)
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, p.Filename()))
	header.Set("Content-Type", p.MIMEType())
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, p.Reader()); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// rejectionMessage prefers the server's detail, then its error field.
func rejectionMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return genericFailure
	}
	var parsed struct {
		Detail json.RawMessage `json:"detail"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return genericFailure
	}
	for _, raw := range []json.RawMessage{parsed.Detail, parsed.Error} {
		if msg := rawMessage(raw); msg != "" {
			return msg
		}
	}
	return genericFailure
}

// rawMessage accepts a plain string or a list of validation entries.
func rawMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var entries []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &entries); err == nil {
		msgs := make([]string, 0, len(entries))
		for _, e := range entries {
			if m := strings.TrimSpace(e.Msg); m != "" {
				msgs = append(msgs, m)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}

func rejected(op string, status int, message string) error {
	detail := "analysis: " + op + ": " + message
	if status != 0 {
		detail = fmt.Sprintf("analysis: %s: http %d: %s", op, status, message)
	}
	return &services.Error{Marker: services.ErrRemoteRejected, Detail: detail, Message: message}
}
