package xmlrpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls methods on an XML-RPC endpoint.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a client for url, e.g. "http://localhost:8000/RPC2".
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{url: url, http: &http.Client{Timeout: timeout}}
}

// Call invokes method and returns the decoded result. Faults are returned as *Fault.
func (c *Client) Call(ctx context.Context, method string, params ...any) (any, error) {
	var body bytes.Buffer
	if err := EncodeCall(&body, method, params...); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("call %s: http %d: %s", method, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return DecodeResponse(resp.Body)
}

// CountRecords calls count_records.
func (c *Client) CountRecords(ctx context.Context) (int, error) {
	v, err := c.Call(ctx, "count_records")
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("count_records: unexpected result %T", v)
	}
	return int(n), nil
}

// GetRecordByID calls get_record_by_id.
func (c *Client) GetRecordByID(ctx context.Context, id int) (string, error) {
	v, err := c.Call(ctx, "get_record_by_id", id)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("get_record_by_id: unexpected result %T", v)
	}
	return s, nil
}

// ExecuteXPath calls execute_xpath. A scalar result comes back as a single-element slice.
func (c *Client) ExecuteXPath(ctx context.Context, q string) ([]string, error) {
	v, err := c.Call(ctx, "execute_xpath", q)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case string:
		return []string{x}, nil
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, fmt.Sprint(item))
		}
		return out, nil
	}
	return nil, fmt.Errorf("execute_xpath: unexpected result %T", v)
}
