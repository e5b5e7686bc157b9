package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	s, err := New(cfg, zerolog.Nop(), prometheus.NewRegistry())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return s
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.Loops = 2
	return cfg
}

type testClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, s *Server) *testClient {
	t.Helper()

	conn, err := net.DialTimeout("tcp", s.Addr().String(), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))

	return &testClient{conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) roundTrip(t *testing.T, req string) string {
	t.Helper()

	_, err := c.conn.Write([]byte(req))
	require.NoError(t, err)

	line, err := c.r.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(line, "\r\n"), "response %q must end with CRLF", line)
	return strings.TrimSuffix(line, "\r\n")
}

func (c *testClient) handshake(t *testing.T, id int) string {
	t.Helper()

	resp := c.roundTrip(t, fmt.Sprintf("POST /session-%d\n", id))
	fields := strings.Fields(resp)
	require.Len(t, fields, 2)
	require.Equal(t, "jSessionId:", fields[0])
	require.NotEmpty(t, fields[1])
	return fields[1]
}

func TestServerEcho(t *testing.T) {
	s := startServer(t, testConfig())
	c := dial(t, s)

	token := c.handshake(t, 7)
	for i := 0; i < 3; i++ {
		resp := c.roundTrip(t, "Ping from client 7\n")
		assert.Equal(t, "["+token+"] Pong from server", resp)
	}

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(s.metrics.requests) == 3
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.handshakes))
}

func TestServerConcurrentHandshakes(t *testing.T) {
	s := startServer(t, testConfig())

	const clients = 32

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		tokens = make(map[string]int)
	)
	for i := 0; i < clients; i++ {
		c := dial(t, s)
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := c.conn.Write([]byte(fmt.Sprintf("POST /session-%d\n", i)))
			if !assert.NoError(t, err) {
				return
			}
			line, err := c.r.ReadString('\n')
			if !assert.NoError(t, err) {
				return
			}
			fields := strings.Fields(line)
			if !assert.Len(t, fields, 2) {
				return
			}

			mu.Lock()
			tokens[fields[1]]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, tokens, clients)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(s.metrics.connectionsAccepted) == clients
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServerReleasesBuffersOnClose(t *testing.T) {
	s := startServer(t, testConfig())

	c := dial(t, s)
	c.handshake(t, 1)
	require.NoError(t, c.conn.Close())

	assert.Eventually(t, func() bool {
		return s.ReadPool().Stats().InUse == 0 &&
			s.WritePool().Stats().InUse == 0 &&
			testutil.ToFloat64(s.metrics.connectionsActive) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServerHandshakeFailure(t *testing.T) {
	s := startServer(t, testConfig())

	c := dial(t, s)
	_, err := c.conn.Write([]byte("POST /sess"))
	require.NoError(t, err)
	require.NoError(t, c.conn.Close())

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(s.metrics.handshakesFailed) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServerFile(t *testing.T) {
	content := strings.Repeat("lorem ipsum dolor sit amet ", 4096)

	path := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := testConfig()
	cfg.Mode = ModeFile
	cfg.File = path
	s := startServer(t, cfg)

	c := dial(t, s)
	c.handshake(t, 1)

	for i := 0; i < 2; i++ {
		resp := c.roundTrip(t, "GET file\n")
		assert.Equal(t, content, resp)
	}
	assert.Eventually(t, func() bool {
		return s.WritePool().Stats().InUse == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Mode = "stream"
	assert.ErrorContains(t, cfg.Validate(), "unknown mode")

	cfg = DefaultConfig()
	cfg.Loops = 0
	assert.ErrorContains(t, cfg.Validate(), "loops")

	cfg = DefaultConfig()
	cfg.Mode = ModeFile
	cfg.MaxWriteBuffers = 4
	assert.ErrorContains(t, cfg.Validate(), "write buffers")
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"addr: \":9090\"\nmode: file\nloops: 4\nmetrics_interval: 2s\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, ModeFile, cfg.Mode)
	assert.Equal(t, 4, cfg.Loops)
	assert.Equal(t, 2*time.Second, cfg.MetricsInterval)
	assert.Equal(t, DefaultFile, cfg.File)
}
