package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hyperjump/tabdoc/internal/config"
)

// ErrClientClosed is returned for calls on a closed connection.
var ErrClientClosed = errors.New("rpc: connection closed")

// Client multiplexes calls over one WebSocket connection.
type Client struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *Response
	err     error
	done    chan struct{}
}

// Dial connects to url, e.g. "ws://localhost:50051/rpc".
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   64 << 10,
		WriteBufferSize:  64 << 10,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	ws.SetReadLimit(config.DefaultMaxMessageBytes)
	c := &Client{
		ws:      ws,
		pending: make(map[string]chan *Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	var err error
	defer func() {
		c.mu.Lock()
		if c.err == nil {
			c.err = err
		}
		c.mu.Unlock()
		close(c.done)
	}()
	for {
		var data []byte
		if _, data, err = c.ws.ReadMessage(); err != nil {
			return
		}
		var resp Response
		if json.Unmarshal(data, &resp) != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

// Call sends one request and decodes its result into result, which may be nil.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	req := Request{ID: uuid.NewString(), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		req.Params = raw
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	ch := make(chan *Response, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	}
	err = c.ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			if resp.Error == ErrServerBusy.Error() {
				return ErrServerBusy
			}
			return &RemoteError{Message: resp.Error}
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Upload sends a document and an optional schema.
func (c *Client) Upload(ctx context.Context, xmlData, xsdData []byte) (*UploadResult, error) {
	var res UploadResult
	err := c.Call(ctx, MethodUpload, UploadParams{XMLData: string(xmlData), XSDData: string(xsdData)}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Count(ctx context.Context) (int, error) {
	var res CountResult
	if err := c.Call(ctx, MethodCount, nil, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (c *Client) GetByID(ctx context.Context, id int) (string, error) {
	var res GetByIDResult
	if err := c.Call(ctx, MethodGetByID, GetByIDParams{ID: id}, &res); err != nil {
		return "", err
	}
	return res.Text, nil
}

func (c *Client) ExecuteQuery(ctx context.Context, q string) (*ExecuteQueryResult, error) {
	var res ExecuteQueryResult
	if err := c.Call(ctx, MethodExecuteQuery, ExecuteQueryParams{Query: q}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Close closes the connection. Pending calls return ErrClientClosed.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.ws.Close()
	<-c.done
	return err
}
