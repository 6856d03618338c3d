package proxy

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utopia-dart/utopia-loadbalancer/internal/cluster"
	"github.com/utopia-dart/utopia-loadbalancer/internal/config"
)

type staticRoster struct {
	workers []*cluster.WorkerHandle
}

func (r *staticRoster) Snapshot() []*cluster.WorkerHandle {
	out := make([]*cluster.WorkerHandle, len(r.workers))
	copy(out, r.workers)
	return out
}

// startBackend runs an HTTP server and returns a worker handle bound to
// its port.
func startBackend(t *testing.T, id int, handler http.Handler) *cluster.WorkerHandle {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	port := ts.Listener.Addr().(*net.TCPAddr).Port
	return cluster.NewWorkerHandle(id, port)
}

// startProxy serves the proxy itself over httptest and returns its base
// URL.
func startProxy(t *testing.T, strategy config.Strategy, workers ...*cluster.WorkerHandle) (*Server, string) {
	t.Helper()
	s := New(&config.Config{Strategy: strategy}, &staticRoster{workers: workers})
	ts := httptest.NewServer(s.echo)
	t.Cleanup(ts.Close)
	return s, ts.URL
}

func TestRoundTripBody(t *testing.T) {
	echoHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	})
	w := startBackend(t, 0, echoHandler)
	_, base := startProxy(t, config.RoundRobin, w)

	resp, err := http.Post(base+"/echo", "application/octet-stream", strings.NewReader("hello"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestRoundTripEmptyBody(t *testing.T) {
	w := startBackend(t, 0, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fmt.Fprintf(w, "%d", len(body))
	}))
	_, base := startProxy(t, config.RoundRobin, w)

	resp, err := http.Get(base + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "0", string(body))
}

func TestRoundTripLargeBody(t *testing.T) {
	w := startBackend(t, 0, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(w, r.Body)
	}))
	_, base := startProxy(t, config.RoundRobin, w)

	for _, size := range []int{1, 1 << 20, 16 << 20} {
		t.Run(fmt.Sprintf("%dB", size), func(t *testing.T) {
			payload := make([]byte, size)
			_, err := rand.Read(payload)
			require.NoError(t, err)

			resp, err := http.Post(base+"/big", "application/octet-stream", bytes.NewReader(payload))
			require.NoError(t, err)
			defer resp.Body.Close()

			got, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(payload, got), "body must round-trip bit-identically")
		})
	}
}

func TestHeaderFidelity(t *testing.T) {
	var mu sync.Mutex
	var gotHost, gotA, gotB, gotTarget, gotMethod string

	w := startBackend(t, 0, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotHost = r.Host
		gotA = r.Header.Get("X-A")
		gotB = r.Header.Get("X-B")
		gotTarget = r.URL.RequestURI()
		gotMethod = r.Method
		mu.Unlock()
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusAccepted)
	}))
	_, base := startProxy(t, config.RoundRobin, w)

	req, err := http.NewRequest(http.MethodDelete, base+"/x?q=1", nil)
	require.NoError(t, err)
	req.Header.Set("X-A", "1")
	req.Header.Set("X-B", "2")
	req.Host = "example"

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "1", gotA)
	assert.Equal(t, "2", gotB)
	assert.Equal(t, "/x?q=1", gotTarget)
	assert.Equal(t, http.MethodDelete, gotMethod)
	// The upstream client sets its own Host from the loopback target;
	// the client's Host never crosses.
	assert.Equal(t, fmt.Sprintf("127.0.0.1:%d", w.Port), gotHost)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))
}

func TestEmptyRosterBadGateway(t *testing.T) {
	_, base := startProxy(t, config.RoundRobin)

	resp, err := http.Get(base + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "Bad Gateway", string(body))
}

func TestDeadUpstreamBadGateway(t *testing.T) {
	// Grab a port nothing listens on anymore.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	w := cluster.NewWorkerHandle(0, port)
	_, base := startProxy(t, config.RoundRobin, w)

	resp, err := http.Get(base + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "Bad Gateway", string(body))

	assert.Equal(t, int64(0), w.ActiveConnections(), "counter must be released on the error path")
}

func TestConnectionAccounting(t *testing.T) {
	release := make(chan struct{})
	w := startBackend(t, 0, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte("done"))
	}))
	_, base := startProxy(t, config.RoundRobin, w)

	done := make(chan error, 1)
	go func() {
		resp, err := http.Get(base + "/slow")
		if err == nil {
			resp.Body.Close()
		}
		done <- err
	}()

	require.Eventually(t, func() bool {
		return w.ActiveConnections() == 1
	}, 2*time.Second, 10*time.Millisecond, "in-flight request must be counted")

	close(release)
	require.NoError(t, <-done)

	require.Eventually(t, func() bool {
		return w.ActiveConnections() == 0
	}, 2*time.Second, 10*time.Millisecond, "counter must return to zero")
}

func TestRoundRobinAcrossBackends(t *testing.T) {
	// Each backend reports the Host it was addressed by, which carries
	// its own port.
	hostHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.Host)
	})
	w0 := startBackend(t, 0, hostHandler)
	w1 := startBackend(t, 1, hostHandler)

	_, base := startProxy(t, config.RoundRobin, w0, w1)

	var got []string
	for i := 0; i < 4; i++ {
		resp, err := http.Get(base + "/")
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		got = append(got, string(body))
	}

	addr := func(w *cluster.WorkerHandle) string {
		return fmt.Sprintf("127.0.0.1:%d", w.Port)
	}
	assert.Equal(t, []string{addr(w0), addr(w1), addr(w0), addr(w1)}, got)
}

func TestLeastConnectionsAvoidsBusyWorker(t *testing.T) {
	release := make(chan struct{})
	slow := startBackend(t, 0, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte("slow"))
	}))
	fast := startBackend(t, 1, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fast"))
	}))
	defer close(release)

	_, base := startProxy(t, config.LeastConnections, slow, fast)

	// Hold a request open against the slow worker (both are at zero, so
	// the first occurrence wins the tie).
	go func() {
		resp, err := http.Get(base + "/hold")
		if err == nil {
			resp.Body.Close()
		}
	}()
	require.Eventually(t, func() bool {
		return slow.ActiveConnections() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Every request while the slow worker is loaded must route to the
	// idle one.
	for i := 0; i < 3; i++ {
		resp, err := http.Get(base + "/")
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, "fast", string(body))
	}
}
