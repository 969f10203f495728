package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/tabdoc/internal/config"
	"github.com/hyperjump/tabdoc/internal/docstore"
	"github.com/hyperjump/tabdoc/internal/metrics"
	"github.com/hyperjump/tabdoc/internal/query"
	"github.com/hyperjump/tabdoc/internal/service"
)

const propertiesXML = `<?xml version="1.0" encoding="UTF-8"?>
<properties>
<property property_id="1"><city>Lisbon</city><price>100000</price></property>
<property property_id="2"><city>Porto</city><price>250000</price></property>
<property property_id="3"><city>Lisbon</city><price>300000</price></property>
</properties>
`

type fixture struct {
	srv     *Server
	svc     *service.Service
	metrics *metrics.Metrics
	url     string
	xmlPath string
}

func newFixture(t *testing.T, doc string, cfg config.ServerConfig, tweak func(*Server)) *fixture {
	t.Helper()
	dir := t.TempDir()
	store := docstore.New()
	if doc != "" {
		require.NoError(t, store.Load([]byte(doc)))
	}
	m := metrics.New()
	xmlPath := filepath.Join(dir, "document.xml")
	svc := service.New(store, service.Options{
		XMLPath: xmlPath,
		XSDPath: filepath.Join(dir, "document.xsd"),
		Metrics: m,
	})
	srv := NewServer(svc, &cfg, m, nil)
	if tweak != nil {
		tweak(srv)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
		<-done
	})
	return &fixture{
		srv:     srv,
		svc:     svc,
		metrics: m,
		url:     "ws://" + ln.Addr().String() + Path,
		xmlPath: xmlPath,
	}
}

func defaultConfig() config.ServerConfig {
	return config.ServerConfig{Workers: 4, QueueSize: 16, MaxMessageBytes: 1 << 20, ShutdownTimeout: time.Second}
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	var c *Client
	require.Eventually(t, func() bool {
		var err error
		c, err = Dial(context.Background(), url)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestReadOperations(t *testing.T) {
	f := newFixture(t, propertiesXML, defaultConfig(), nil)
	c := dial(t, f.url)
	ctx := context.Background()

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	text, err := c.GetByID(ctx, 2)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, `<property property_id="2">`), text)

	text, err = c.GetByID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, query.NotFoundText, text)

	res, err := c.ExecuteQuery(ctx, "//property[city='Lisbon']/price/text()")
	require.NoError(t, err)
	assert.Equal(t, []string{"100000", "300000"}, res.Results)
	assert.Equal(t, "nodes", res.Kind)

	res, err = c.ExecuteQuery(ctx, "sum(//price)")
	require.NoError(t, err)
	assert.Equal(t, []string{"650000"}, res.Results)
	assert.Equal(t, "scalar", res.Kind)

	res, err = c.ExecuteQuery(ctx, "//price[")
	require.NoError(t, err)
	assert.Equal(t, "failed", res.Kind)
	require.Len(t, res.Results, 1)
}

func TestNotLoaded(t *testing.T) {
	f := newFixture(t, "", defaultConfig(), nil)
	c := dial(t, f.url)
	ctx := context.Background()

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	text, err := c.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, query.NotLoadedText, text)

	res, err := c.ExecuteQuery(ctx, "//city")
	require.NoError(t, err)
	assert.Equal(t, []string{query.NotLoadedText}, res.Results)
}

func TestUpload(t *testing.T) {
	f := newFixture(t, "", defaultConfig(), nil)
	c := dial(t, f.url)
	ctx := context.Background()

	res, err := c.Upload(ctx, []byte(propertiesXML), nil)
	require.NoError(t, err)
	assert.True(t, res.OK, res.Message)
	assert.Equal(t, 3, res.Records)
	assert.NotEmpty(t, res.UploadID)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	saved, err := os.ReadFile(f.xmlPath)
	require.NoError(t, err)
	assert.Equal(t, propertiesXML, string(saved))

	res, err = c.Upload(ctx, []byte("<properties><property"), nil)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Message)

	n, err = c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "failed upload keeps the previous document")
}

func TestEnvelopeErrors(t *testing.T) {
	f := newFixture(t, propertiesXML, defaultConfig(), nil)
	ws, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	defer ws.Close()

	roundTrip := func(msg string) Response {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(msg)))
		_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		var resp Response
		require.NoError(t, json.Unmarshal(data, &resp))
		return resp
	}

	resp := roundTrip("{not json")
	assert.Contains(t, resp.Error, "malformed request")

	resp = roundTrip(`{"id":"a","method":"DropTable"}`)
	assert.Equal(t, "a", resp.ID)
	assert.Equal(t, "unknown method: DropTable", resp.Error)

	resp = roundTrip(`{"id":"b","method":"GetByID","params":{"id":"two"}}`)
	assert.Equal(t, "b", resp.ID)
	assert.Contains(t, resp.Error, "invalid params")

	resp = roundTrip(`{"id":"c","method":"Count"}`)
	assert.Equal(t, "c", resp.ID)
	assert.Empty(t, resp.Error)
	assert.JSONEq(t, `{"count":3}`, string(resp.Result))
}

func TestRemoteError(t *testing.T) {
	f := newFixture(t, propertiesXML, defaultConfig(), nil)
	c := dial(t, f.url)
	err := c.Call(context.Background(), "Nope", nil, nil)
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "unknown method: Nope", remote.Message)
}

func TestServerBusy(t *testing.T) {
	release := make(chan struct{})
	cfg := config.ServerConfig{Workers: 1, QueueSize: 1, QueueWait: 50 * time.Millisecond, MaxMessageBytes: 1 << 20, ShutdownTimeout: time.Second}
	f := newFixture(t, propertiesXML, cfg, func(s *Server) {
		inner := s.handle
		s.handle = func(ctx context.Context, j *job) error {
			<-release
			return inner(ctx, j)
		}
	})
	defer close(release)
	c := dial(t, f.url)

	// one request occupies the worker, the next fills the queue
	results := make(chan error, 2)
	count := func() {
		_, err := c.Count(context.Background())
		results <- err
	}
	go count()
	require.Eventually(t, func() bool {
		st := f.srv.currentPool().Stats()
		return st.Submitted == 1 && st.QueueDepth == 0
	}, 5*time.Second, 10*time.Millisecond)
	go count()
	require.Eventually(t, func() bool {
		return f.srv.currentPool().Stats().Submitted == 2
	}, 5*time.Second, 10*time.Millisecond)

	_, err := c.Count(context.Background())
	assert.ErrorIs(t, err, ErrServerBusy)

	n, err := testutil.GatherAndCount(f.metrics.Registry(), "tabdoc_pool_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConcurrentCalls(t *testing.T) {
	f := newFixture(t, propertiesXML, defaultConfig(), nil)
	c := dial(t, f.url)

	var wg sync.WaitGroup
	errs := make(chan error, 60)
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := i%3 + 1
			text, err := c.GetByID(context.Background(), id)
			if err != nil {
				errs <- err
				return
			}
			if want := fmt.Sprintf(`property_id="%d"`, id); !strings.Contains(text, want) {
				errs <- fmt.Errorf("id %d: got %s", id, text)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestFullQueueWaitsForSlot(t *testing.T) {
	release := make(chan struct{})
	cfg := config.ServerConfig{Workers: 1, QueueSize: 1, QueueWait: 5 * time.Second, MaxMessageBytes: 1 << 20, ShutdownTimeout: time.Second}
	f := newFixture(t, propertiesXML, cfg, func(s *Server) {
		inner := s.handle
		s.handle = func(ctx context.Context, j *job) error {
			<-release
			return inner(ctx, j)
		}
	})
	c := dial(t, f.url)

	results := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := c.Count(context.Background())
			results <- err
		}()
	}
	require.Eventually(t, func() bool {
		return f.srv.currentPool().Stats().Submitted == 2
	}, 5*time.Second, 10*time.Millisecond)
	close(release)

	for i := 0; i < 4; i++ {
		select {
		case err := <-results:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("call did not complete")
		}
	}
	assert.Zero(t, f.srv.currentPool().Stats().Dropped)
}

func TestMessageTooLarge(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxMessageBytes = 1024
	f := newFixture(t, propertiesXML, cfg, nil)
	c := dial(t, f.url)

	_, err := c.Upload(context.Background(), []byte(strings.Repeat("x", 4096)), nil)
	assert.Error(t, err)
}

func TestStopClosesClients(t *testing.T) {
	f := newFixture(t, propertiesXML, defaultConfig(), nil)
	c := dial(t, f.url)
	_, err := c.Count(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.srv.Stop(ctx))

	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("client not disconnected")
	}
	_, err = c.Count(context.Background())
	assert.ErrorIs(t, err, ErrClientClosed)
}
