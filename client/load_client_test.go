package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedServer answers the session protocol, every pong after delay.
type scriptedServer struct {
	ln    net.Listener
	delay time.Duration

	mu       sync.Mutex
	sessions int
	wg       sync.WaitGroup
}

func newScriptedServer(t *testing.T, delay time.Duration) *scriptedServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &scriptedServer{ln: ln, delay: delay}
	s.wg.Add(1)
	go s.serve()

	t.Cleanup(func() {
		_ = ln.Close()
		s.wg.Wait()
	})
	return s
}

func (s *scriptedServer) addr() string {
	return s.ln.Addr().String()
}

func (s *scriptedServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.session(conn)
		}()
	}
}

func (s *scriptedServer) session(conn net.Conn) {
	s.mu.Lock()
	s.sessions++
	token := fmt.Sprintf("token-%d", s.sessions)
	s.mu.Unlock()

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}

		var resp string
		if strings.HasPrefix(line, "POST ") {
			resp = "jSessionId: " + token + "\r\n"
		} else {
			time.Sleep(s.delay)
			resp = "[" + token + "] Pong from server\r\n"
		}
		if _, err := conn.Write([]byte(resp)); err != nil {
			return
		}
	}
}

func testClientConfig(addr string) Config {
	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.Delay = 5 * time.Millisecond
	cfg.Requests = 20
	cfg.Settle = 0
	cfg.Jitter = 0
	cfg.WindowStart = 25 * time.Millisecond // request 5
	cfg.WindowEnd = 70 * time.Millisecond   // request 14
	cfg.DialTimeout = 5 * time.Second
	cfg.ReadTimeout = 5 * time.Second
	return cfg
}

func TestLoadClientRun(t *testing.T) {
	const delay = 20 * time.Millisecond

	srv := newScriptedServer(t, delay)
	c := NewLoadClient("7", testClientConfig(srv.addr()), zerolog.Nop())

	res, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "7", res.ClientID)
	assert.Equal(t, "token-1", res.SessionID)
	assert.Equal(t, 20, res.Samples)
	assert.Equal(t, 10, res.WindowSamples)

	assert.GreaterOrEqual(t, res.Min, delay)
	assert.GreaterOrEqual(t, res.Max, res.Min)
	assert.GreaterOrEqual(t, res.Avg, res.Min)
	assert.LessOrEqual(t, res.Avg, res.Max)
	assert.Less(t, res.Min, delay+100*time.Millisecond)
	assert.GreaterOrEqual(t, res.P99, res.P50)

	fields := strings.Split(res.Line(), " \t ")
	assert.Len(t, fields, 3)
}

func TestLoadClientBadHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = bufio.NewReader(conn).ReadString('\n')
		_, _ = conn.Write([]byte("nope\r\n"))
		time.Sleep(100 * time.Millisecond)
	}()

	c := NewLoadClient("1", testClientConfig(ln.Addr().String()), zerolog.Nop())
	_, err = c.Run(context.Background())
	assert.ErrorIs(t, err, ErrBadHandshake)
}

func TestLoadClientServerGone(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := NewLoadClient("1", testClientConfig(addr), zerolog.Nop())
	_, err = c.Run(context.Background())
	assert.Error(t, err)
}

func TestLoadClientCancel(t *testing.T) {
	srv := newScriptedServer(t, 0)

	cfg := testClientConfig(srv.addr())
	cfg.Requests = 1000
	cfg.Delay = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	c := NewLoadClient("1", cfg, zerolog.Nop())
	res, err := c.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, res.Samples, 1000)
}

func TestRunClients(t *testing.T) {
	srv := newScriptedServer(t, time.Millisecond)

	cfg := testClientConfig(srv.addr())
	cfg.Requests = 5
	cfg.WindowStart = 0
	cfg.DialRate = 1000

	var out bytes.Buffer
	summary, err := RunClients(context.Background(), cfg, 8, &out, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 8, summary.Clients)
	assert.Equal(t, 8, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, int64(40), summary.Histogram.TotalCount())
	assert.Greater(t, summary.Averages.Avg, 0.0)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 8)

	report, err := ParseReport(&out)
	require.NoError(t, err)
	assert.Equal(t, 8, report.Clients)
}

func TestRunClientsFailuresAreIsolated(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	var out bytes.Buffer
	summary, err := RunClients(context.Background(), testClientConfig(addr), 4, &out, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Failed)
	assert.Equal(t, 0, summary.Succeeded)
	assert.Zero(t, out.Len())
}
