package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Gateway submits one SMS to the carrier. A nil error means the carrier
// accepted the message and assigned CarrierID.
type Gateway interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)
}

type SubmitRequest struct {
	To                string
	Body              string
	StatusCallbackURL string
}

type SubmitResult struct {
	CarrierID string
	Status    string
}

// CarrierError is a rejection reported by the carrier itself.
type CarrierError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *CarrierError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("carrier rejected message (%d): %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("carrier rejected message (%d): %s", e.StatusCode, e.Message)
}

type CarrierClient struct {
	url         string
	authToken   string
	countryCode string
	client      *http.Client
}

type Option func(*CarrierClient)

func WithAuthToken(token string) Option {
	return func(c *CarrierClient) { c.authToken = token }
}

func WithCountryCode(cc string) Option {
	return func(c *CarrierClient) { c.countryCode = cc }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *CarrierClient) { c.client = hc }
}

func NewCarrierClient(url string, opts ...Option) *CarrierClient {
	c := &CarrierClient{
		url:         url,
		countryCode: "1",
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ Gateway = (*CarrierClient)(nil)

type submitRequest struct {
	To             string `json:"to"`
	Body           string `json:"body"`
	StatusCallback string `json:"statusCallback,omitempty"`
}

type submitResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *CarrierClient) Submit(ctx context.Context, in SubmitRequest) (SubmitResult, error) {
	reqBody, err := json.Marshal(submitRequest{
		To:             NormalizePhone(in.To, c.countryCode),
		Body:           in.Body,
		StatusCallback: in.StatusCallbackURL,
	})
	if err != nil {
		return SubmitResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return SubmitResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return SubmitResult{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ce := &CarrierError{StatusCode: resp.StatusCode, Message: string(body)}
		var er errorResponse
		if json.Unmarshal(body, &er) == nil && (er.Code != "" || er.Message != "") {
			ce.Code = er.Code
			ce.Message = er.Message
		}
		return SubmitResult{}, ce
	}

	var sr submitResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return SubmitResult{}, fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if sr.MessageID == "" {
		return SubmitResult{}, fmt.Errorf("missing messageId in response body=%q", string(body))
	}

	return SubmitResult{CarrierID: sr.MessageID, Status: sr.Status}, nil
}
