package metrics_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-consumer/metrics"
)

func TestCollectors_NilSafe(t *testing.T) {
	var c *metrics.Collectors

	c.MessageReceived("t", "c")
	c.JobDone("t", "h", time.Millisecond, nil)
	c.TransportError("t", "c")
	c.ListenerStarted()
	c.ListenerStopped()
}

func TestCollectors_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.New(reg)

	c.MessageReceived("hello", "test")
	c.MessageReceived("hello", "test")
	c.JobDone("hello", "WelcomeResponder", time.Millisecond, nil)
	c.JobDone("hello", "WelcomeResponder", time.Millisecond, errors.New("boom"))
	c.ListenerStarted()

	n, err := testutil.GatherAndCount(reg,
		"scg_consumer_messages_received_total",
		"scg_consumer_jobs_total",
		"scg_consumer_listeners_running",
	)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	expected := `
# HELP scg_consumer_messages_received_total messages received from the transport
# TYPE scg_consumer_messages_received_total counter
scg_consumer_messages_received_total{channel="test",topic="hello"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "scg_consumer_messages_received_total"))
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg).MessageReceived("hello", "test")

	var healthy atomic.Bool
	healthy.Store(true)

	srv := httptest.NewServer(metrics.NewRouter(reg, func() error {
		if !healthy.Load() {
			return errors.New("stopping")
		}

		return nil
	}))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "scg_consumer_messages_received_total")

	res, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	healthy.Store(false)

	res, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}
