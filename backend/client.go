package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sprucehealth/dialtone/model"
)

// Client talks to the telephony backend's JSON API. The base URL is
// passed per call because it lives in user-editable settings.
type Client struct {
	http *resty.Client
}

// Option configures the client.
type Option func(*Client)

// WithTransport sets the underlying round tripper. Tests use this to
// record and stub requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.http.SetTransport(rt)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

// New creates a backend client.
func New(opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetTimeout(10 * time.Second).
			SetHeader("Content-Type", "application/json"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallResponse is the success shape of POST /api/call.
type CallResponse struct {
	SID    string           `json:"sid"`
	Status model.CallStatus `json:"status"`
	To     string           `json:"to"`
	From   string           `json:"from"`
}

// StatusResponse is the success shape of GET /api/status.
type StatusResponse struct {
	Status model.CallStatus `json:"status"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// CreateCall originates a server-side call.
func (c *Client) CreateCall(ctx context.Context, base, to, fromNumber, message string) (*CallResponse, error) {
	out := &CallResponse{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"to":          to,
			"from_number": fromNumber,
			"message":     message,
		}).
		SetResult(out).
		Post(base + "/api/call")
	if err != nil {
		return nil, fmt.Errorf("creating call: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return out, nil
}

// CallStatus fetches the current status of a call by sid.
func (c *Client) CallStatus(ctx context.Context, base, sid string) (*StatusResponse, error) {
	out := &StatusResponse{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("sid", sid).
		SetResult(out).
		Get(base + "/api/status")
	if err != nil {
		return nil, fmt.Errorf("fetching call status: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return out, nil
}

// Hangup terminates a server-side call. The success body is ignored.
func (c *Client) Hangup(ctx context.Context, base, sid string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"sid": sid}).
		Post(base + "/api/hangup")
	if err != nil {
		return fmt.Errorf("hanging up call: %w", err)
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return nil
}

// Token exchanges an agent identity for a short-lived voice access token.
func (c *Client) Token(ctx context.Context, base, identity string) (string, error) {
	out := &tokenResponse{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"identity": identity}).
		SetResult(out).
		Post(base + "/api/token")
	if err != nil {
		return "", fmt.Errorf("fetching voice token: %w", err)
	}
	if resp.IsError() {
		return "", apiError(resp)
	}
	return out.Token, nil
}

// APIError is a non-2xx backend response. The user-facing message prefers
// a string `detail` field, then `message`, then the raw body.
type APIError struct {
	StatusCode int
	Detail     string
	Message    string
	Raw        []byte
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Message != "" {
		return e.Message
	}
	if len(e.Raw) > 0 {
		return string(e.Raw)
	}
	return fmt.Sprintf("backend returned status %d", e.StatusCode)
}

func apiError(resp *resty.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode(),
		Raw:        append([]byte{}, resp.Body()...),
	}

	var body struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		if detail, isString := body.Detail.(string); isString {
			apiErr.Detail = detail
		}
		apiErr.Message = body.Message
	}
	return apiErr
}
