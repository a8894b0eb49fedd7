package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx answer from the workflow service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("workflow api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("workflow api: %s (%d): %s", e.Code, e.Status, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type client struct {
	http *resty.Client
}

func newClient(s Session) *client {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(s.BaseURL, "/")+"/api").
			SetAuthToken(s.Token).
			SetHeader("Accept", "application/json").
			SetTimeout(timeout),
	}
}

// call sends one request and decodes the envelope's data into out.
func (c *client) call(ctx context.Context, method, path string, body, out interface{}) error {
	var env envelope
	req := c.http.R().
		SetContext(ctx).
		SetResult(&env).
		SetError(&env)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() || !env.Success {
		apiErr := &APIError{Status: resp.StatusCode(), Code: env.Code, Message: env.Error}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode())
		}
		return apiErr
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func (c *client) Product(ctx context.Context, id string) (*Product, error) {
	var product Product
	if err := c.call(ctx, http.MethodGet, "/products/"+id, nil, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (c *client) Events(ctx context.Context, productModelID string) ([]Event, error) {
	var events []Event
	if err := c.call(ctx, http.MethodGet, "/products/"+productModelID+"/events", nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}
