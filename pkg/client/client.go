package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iderikon/mediastorage-proxy/pkg/models"
)

// StatusError is a non-2xx reply from the proxy
type StatusError struct {
	Status    int
	Message   string
	RequestID string
}

func (e *StatusError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("proxy replied %d %s (request %s)", e.Status, e.Message, e.RequestID)
	}
	return fmt.Sprintf("proxy replied %d %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 reply
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// Client talks to a proxy over HTTP
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for the proxy at baseURL. apiKey may be empty.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

// SetHTTPClient replaces the underlying HTTP client, e.g. one with a TLS config
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

func (c *Client) objectURL(route, namespace, key string) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.baseURL, route, url.PathEscape(namespace), url.PathEscape(key))
}

func (c *Client) do(ctx context.Context, method, target string, body io.Reader, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	se := &StatusError{
		Status:    resp.StatusCode,
		Message:   http.StatusText(resp.StatusCode),
		RequestID: resp.Header.Get("X-Request-ID"),
	}

	var body struct {
		Error     string `json:"error"`
		RequestID string `json:"request_id"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) == nil {
		if body.Error != "" {
			se.Message = body.Error
		}
		if body.RequestID != "" {
			se.RequestID = body.RequestID
		}
	}
	return se
}

// Upload stores body under namespace/key. size is sent as Content-Length
// when not negative.
func (c *Client) Upload(ctx context.Context, namespace, key string, body io.Reader, size int64, contentType string) (*models.UploadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.objectURL("upload", namespace, key), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if size >= 0 {
		req.ContentLength = size
		if size == 0 {
			req.Body = http.NoBody
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s/%s: %w", namespace, key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var result models.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode upload result: %w", err)
	}
	return &result, nil
}

// Download copies the payload of namespace/key to w
func (c *Client) Download(ctx context.Context, namespace, key string, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, c.objectURL("get", namespace, key), nil, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read %s/%s: %w", namespace, key, err)
	}
	if want := resp.Header.Get("Content-Length"); want != "" {
		if size, err := strconv.ParseInt(want, 10, 64); err == nil && size != n {
			return n, fmt.Errorf("short download of %s/%s: got %d of %d bytes", namespace, key, n, size)
		}
	}
	return n, nil
}

// Info returns the metadata of namespace/key
func (c *Client) Info(ctx context.Context, namespace, key string) (*models.Object, error) {
	resp, err := c.do(ctx, http.MethodGet, c.objectURL("info", namespace, key), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var obj models.Object
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return nil, fmt.Errorf("failed to decode object: %w", err)
	}
	return &obj, nil
}

// Delete removes namespace/key
func (c *Client) Delete(ctx context.Context, namespace, key string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.objectURL("delete", namespace, key), nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Health returns the decoded /health reply
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/health", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var health map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health: %w", err)
	}
	return health, nil
}
