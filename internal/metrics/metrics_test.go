package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	m := New()
	m.ObserveRequest("xmlrpc", "count_records", OutcomeOK, time.Millisecond)
	m.ObserveRequest("xmlrpc", "count_records", OutcomeOK, time.Millisecond)
	m.ObserveRequest("ws", "Upload", OutcomeError, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("xmlrpc", "count_records", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("ws", "Upload", OutcomeError)))
}

func TestUploadsAndDocument(t *testing.T) {
	m := New()
	m.ObserveUpload(true)
	m.ObserveUpload(false)
	m.ObserveUpload(false)
	m.SetDocument(3, 512)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.uploads.WithLabelValues(OutcomeError)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.documentRecords))
	assert.Equal(t, 512.0, testutil.ToFloat64(m.documentBytes))
}

func TestPoolRecorder(t *testing.T) {
	m := New()
	p := m.Pool("rpc")
	p.Submitted(4)
	p.Processed(3, nil)
	p.Processed(2, errors.New("x"))
	p.Dropped()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.poolSubmitted.WithLabelValues("rpc")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.poolProcessed.WithLabelValues("rpc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.poolFailed.WithLabelValues("rpc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.poolDropped.WithLabelValues("rpc")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.poolQueueDepth.WithLabelValues("rpc")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("ws", "Count", OutcomeOK, time.Second)
	m.ObserveUpload(true)
	m.SetDocument(1, 1)
	p := m.Pool("x")
	p.Submitted(1)
	p.Dropped()
	p.Processed(0, nil)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveUpload(true)
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `tabdoc_uploads_total{outcome="ok"} 1`))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
