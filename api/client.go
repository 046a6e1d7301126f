// Package api is a small client for the REST endpoints that usually
// sit next to a STOMP broker.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ridge/stomp-go/serializer"
	"github.com/ridge/stomp-go/serializer/stdjson"
	"github.com/ridge/stomp-go/transport"
)

type Config struct {
	// Default: a new http.Client
	HTTPClient *http.Client

	// Sent with every request.
	RequestHeader http.Header

	// Used for decoding response bodies.
	//
	// Default: stdjson
	Serializer serializer.JSONSerializer
}

type Client struct {
	baseURL       string
	httpClient    *http.Client
	requestHeader *transport.RequestHeader
	json          serializer.JSONSerializer
}

// NewClient creates a client for the endpoints under baseURL.
// Paths are appended to baseURL as is.
func NewClient(baseURL string, config *Config) *Client {
	if config == nil {
		config = new(Config)
	}

	c := &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		httpClient:    config.HTTPClient,
		requestHeader: transport.NewRequestHeader(config.RequestHeader),
		json:          config.Serializer,
	}
	if c.httpClient == nil {
		c.httpClient = new(http.Client)
	}
	if c.json == nil {
		c.json = stdjson.New()
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// SetAuthorization sets the value of the Authorization header,
// for example "Bearer <token>". An empty value removes it.
func (c *Client) SetAuthorization(value string) {
	if value == "" {
		c.requestHeader.Del("Authorization")
		return
	}
	c.requestHeader.Set("Authorization", value)
}

func (c *Client) RequestHeader() *transport.RequestHeader {
	return c.requestHeader
}

// StatusError is returned for responses with a status code of 400 or above.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: %s %s: unexpected status code: %d", e.Method, e.URL, e.StatusCode)
}

// Get requests path and decodes the JSON response into T.
func Get[T any](ctx context.Context, c *Client, path string) (v T, err error) {
	body, _, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return
	}
	err = c.json.Unmarshal(body, &v)
	return
}

// Post sends form as an application/x-www-form-urlencoded body
// and decodes the JSON response into T.
func Post[T any](ctx context.Context, c *Client, path string, form map[string]any) (v T, err error) {
	body, _, err := c.do(ctx, http.MethodPost, path, form)
	if err != nil {
		return
	}
	err = c.json.Unmarshal(body, &v)
	return
}

// PostStatus is like Post, but only returns the status code. Error status
// codes are returned along with a *StatusError.
func (c *Client) PostStatus(ctx context.Context, path string, form map[string]any) (int, error) {
	_, status, err := c.do(ctx, http.MethodPost, path, form)
	return status, err
}

func (c *Client) newRequest(ctx context.Context, method, path string, form map[string]any) (*http.Request, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(encodeForm(form))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")

	for k, v := range c.requestHeader.Header() {
		req.Header[k] = v
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, form map[string]any) (body []byte, status int, err error) {
	req, err := c.newRequest(ctx, method, path, form)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	r, err := compressedReader(resp)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	defer r.Close()

	body, err = io.ReadAll(r)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if resp.StatusCode >= 400 {
		return body, resp.StatusCode, &StatusError{
			Method:     method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}
	return body, resp.StatusCode, nil
}

func encodeForm(form map[string]any) string {
	values := make(url.Values, len(form))
	for k, v := range form {
		switch v := v.(type) {
		case string:
			values.Set(k, v)
		case int:
			values.Set(k, strconv.Itoa(v))
		default:
			values.Set(k, fmt.Sprint(v))
		}
	}
	return values.Encode()
}
