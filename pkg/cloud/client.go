// Package cloud provides the HTTP transport shared by every engine
// component: per-service endpoint construction, request signing, response
// decoding, provider error classification, and throttling backoff.
package cloud

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudwarden/cloudwarden/pkg/engine"
)

// Credentials hold the access/secret key pair used to sign requests.
type Credentials struct {
	AccessKey string
	SecretKey string
	ProjectID string
}

// Environment variables the credentials and region are read from.
const (
	EnvRegion    = "HUAWEI_DEFAULT_REGION"
	EnvAccessKey = "HUAWEI_ACCESS_KEY_ID"
	EnvSecretKey = "HUAWEI_SECRET_ACCESS_KEY"
	EnvProjectID = "HUAWEI_PROJECT_ID"
)

// CredentialsFromEnv reads the AK/SK pair from the environment.
func CredentialsFromEnv() (Credentials, error) {
	ak := os.Getenv(EnvAccessKey)
	if ak == "" {
		return Credentials{}, fmt.Errorf("no access key id set, specify one via %s", EnvAccessKey)
	}
	sk := os.Getenv(EnvSecretKey)
	if sk == "" {
		return Credentials{}, fmt.Errorf("no secret access key set, specify one via %s", EnvSecretKey)
	}
	return Credentials{
		AccessKey: ak,
		SecretKey: sk,
		ProjectID: os.Getenv(EnvProjectID),
	}, nil
}

// RegionFromEnv reads the default region from the environment.
func RegionFromEnv() (string, error) {
	region := os.Getenv(EnvRegion)
	if region == "" {
		return "", fmt.Errorf("no default region set, specify one via %s", EnvRegion)
	}
	return region, nil
}

// APIError is a decoded provider error body. Non-2xx responses carry
// {error_code, error_msg, request_id}.
type APIError struct {
	Status    int    `json:"-"`
	Code      string `json:"error_code"`
	Message   string `json:"error_msg"`
	RequestID string `json:"request_id"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("request %s failed with status %d, code %s: %s",
		e.RequestID, e.Status, e.Code, e.Message)
}

// CodeAuthStale is the gateway error code signalling that cached identity
// information went stale. It triggers the one-shot refresh-and-retry.
const CodeAuthStale = "APIGW.0301"

// Response is a decoded-on-demand HTTP response.
type Response struct {
	Status int
	Body   []byte
}

// Decode unmarshals the response body into v. An empty body (204) is a
// no-op.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithEndpoint overrides the endpoint for one service. Test servers and
// private deployments use this.
func WithEndpoint(service, baseURL string) Option {
	return func(c *Client) { c.endpoints[service] = strings.TrimRight(baseURL, "/") }
}

// WithLogger attaches a logger for request-level debug output.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger.With().Str("component", "cloud").Logger() }
}

// RequestRecorder counts issued API requests by service and outcome class.
// Satisfied by telemetry.Metrics.
type RequestRecorder interface {
	RecordAPIRequest(service, class string)
}

// WithRequestRecorder attaches a counter incremented for every request that
// reaches the wire.
func WithRequestRecorder(rec RequestRecorder) Option {
	return func(c *Client) { c.recorder = rec }
}

// Client issues signed JSON requests against per-service regional endpoints.
// It is safe for concurrent use.
type Client struct {
	region     string
	creds      Credentials
	httpClient *http.Client
	endpoints  map[string]string
	logger     zerolog.Logger
	recorder   RequestRecorder
}

const defaultTimeout = 30 * time.Second

// NewClient creates a client for one region.
func NewClient(region string, creds Credentials, opts ...Option) *Client {
	c := &Client{
		region:     region,
		creds:      creds,
		httpClient: &http.Client{Timeout: defaultTimeout},
		endpoints:  make(map[string]string),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Region returns the region this client is bound to.
func (c *Client) Region() string { return c.region }

// Endpoint returns the base URL for a service.
func (c *Client) Endpoint(service string) string {
	if ep, ok := c.endpoints[service]; ok {
		return ep
	}
	return fmt.Sprintf("https://%s.%s.myhuaweicloud.com", service, c.region)
}

// Do issues one request. Any 2xx status is success; non-2xx responses are
// decoded and classified into the engine error taxonomy. Body, when non-nil,
// is JSON-encoded.
func (c *Client) Do(ctx context.Context, service, method, path string, query url.Values, body any) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, engine.NewValidationError("encoding request body", err)
		}
	}

	u := c.Endpoint(service) + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
	if err != nil {
		return nil, engine.NewValidationError("building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req, payload)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.count(service, string(engine.ErrorClassTransient))
		return nil, engine.NewTransientError(fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.count(service, string(engine.ErrorClassTransient))
		return nil, engine.NewTransientError("reading response body", err)
	}

	c.logger.Debug().
		Str("service", service).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Msg("API call")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.count(service, "ok")
		return &Response{Status: resp.StatusCode, Body: raw}, nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	_ = json.Unmarshal(raw, apiErr)
	classified := Classify(apiErr).WithOperation(method + " " + path)
	c.count(service, string(classified.Class))
	return nil, classified
}

func (c *Client) count(service, class string) {
	if c.recorder != nil {
		c.recorder.RecordAPIRequest(service, class)
	}
}

// Classify maps a provider error onto the engine error taxonomy by
// inspecting the error code field, not just the HTTP status.
func Classify(apiErr *APIError) *engine.Error {
	msg := fmt.Sprintf("%s call rejected", http.StatusText(apiErr.Status))
	switch {
	case apiErr.Code == CodeAuthStale:
		return engine.NewAuthStaleError("stale identity", apiErr).WithCode(apiErr.Code)
	case apiErr.Status == http.StatusTooManyRequests,
		strings.Contains(apiErr.Code, "Throttling"):
		return engine.NewThrottledError("rate limited", apiErr).WithCode(apiErr.Code)
	case apiErr.Status == http.StatusNotFound,
		strings.HasSuffix(apiErr.Code, ".0404"):
		return engine.NewNotFoundError("resource not found", apiErr).WithCode(apiErr.Code)
	case apiErr.Status == http.StatusBadRequest,
		apiErr.Status == http.StatusUnprocessableEntity:
		return engine.NewValidationError(msg, apiErr).WithCode(apiErr.Code)
	case apiErr.Status == http.StatusUnauthorized,
		apiErr.Status == http.StatusForbidden:
		// Non-stale auth failures are permanent for this run.
		return engine.NewValidationError("unauthorized", apiErr).WithCode(apiErr.Code)
	default:
		return engine.NewTransientError(msg, apiErr).WithCode(apiErr.Code)
	}
}

const signDateFormat = "20060102T150405Z"

// sign attaches an AK/SK HMAC-SHA256 signature. The canonical string covers
// method, path, query, timestamp, and the body hash.
func (c *Client) sign(req *http.Request, payload []byte) {
	if c.creds.AccessKey == "" {
		return
	}
	date := time.Now().UTC().Format(signDateFormat)
	bodyHash := sha256.Sum256(payload)

	canonical := strings.Join([]string{
		req.Method,
		req.URL.Path,
		req.URL.RawQuery,
		date,
		hex.EncodeToString(bodyHash[:]),
	}, "\n")

	mac := hmac.New(sha256.New, []byte(c.creds.SecretKey))
	mac.Write([]byte(canonical))
	signature := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set("X-Sdk-Date", date)
	req.Header.Set("Authorization",
		fmt.Sprintf("SDK-HMAC-SHA256 Access=%s, Signature=%s", c.creds.AccessKey, signature))
}
