package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"
)

var ErrBadHandshake = errors.New("bad handshake response")

// Result is the outcome of one client run.
type Result struct {
	ClientID  string
	SessionID string

	Min time.Duration
	Max time.Duration
	Avg time.Duration

	P50 time.Duration
	P99 time.Duration

	Samples       int
	WindowSamples int
	Elapsed       time.Duration

	Histogram *hdrhistogram.Histogram
}

// Line formats the result as "<max> \t <min> \t <avg>", in milliseconds.
func (r Result) Line() string {
	return fmt.Sprintf("%s \t %s \t %s", ms(r.Max), ms(r.Min), ms(r.Avg))
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%.3f", float64(d)/float64(time.Millisecond))
}

// LoadClient drives one session: a handshake followed by paced pings over a
// blocking connection.
type LoadClient struct {
	id  string
	cfg Config
	log zerolog.Logger

	conn   net.Conn
	reader *ResponseReader
}

func NewLoadClient(id string, cfg Config, log zerolog.Logger) *LoadClient {
	return &LoadClient{
		id:  id,
		cfg: cfg,
		log: log.With().Str("client", id).Logger(),
	}
}

// Run connects, performs the handshake and sends every ping. Cancelling ctx
// stops the run between two requests. An I/O error ends the run; nothing is
// retried.
func (c *LoadClient) Run(ctx context.Context) (Result, error) {
	res := Result{ClientID: c.id}
	start := time.Now()

	if err := c.connect(ctx); err != nil {
		return res, err
	}
	defer c.close()

	sessionID, err := c.handshake()
	if err != nil {
		return res, err
	}
	res.SessionID = sessionID
	c.log.Debug().Str("session", sessionID).Msg("session opened")

	if err := sleep(ctx, c.cfg.Settle); err != nil {
		return res, err
	}

	minIndex, maxIndex := c.cfg.Window()
	stats := NewLatencyStats(minIndex, maxIndex)

	ping := bytebufferpool.Get()
	defer bytebufferpool.Put(ping)
	_, _ = ping.WriteString("Ping from client " + c.id + "\n")

	requests := c.cfg.RequestCount()
	for i := 0; i < requests; i++ {
		delay := c.cfg.Delay
		if i == 0 && c.cfg.Jitter > 0 {
			delay += rand.N(c.cfg.Jitter)
		}
		if err := sleep(ctx, delay); err != nil {
			return c.result(res, stats, start), err
		}

		t := time.Now()
		if _, err := c.conn.Write(ping.B); err != nil {
			return c.result(res, stats, start), fmt.Errorf("send ping %d: %w", i, err)
		}
		resp, err := c.read()
		if err != nil {
			return c.result(res, stats, start), fmt.Errorf("read pong %d: %w", i, err)
		}
		stats.Record(time.Since(t))

		c.log.Trace().Str("response", resp).Msg("received from server")
	}

	res = c.result(res, stats, start)
	c.log.Debug().
		Dur("elapsed", res.Elapsed).
		Int("samples", res.Samples).
		Msg("run finished")
	return res, nil
}

func (c *LoadClient) result(res Result, stats *LatencyStats, start time.Time) Result {
	res.Min = stats.Min()
	res.Max = stats.Max()
	res.Avg = stats.Avg()
	res.P50 = stats.Percentile(50)
	res.P99 = stats.Percentile(99)
	res.Samples = stats.Count()
	res.WindowSamples = stats.WindowCount()
	res.Elapsed = time.Since(start)
	res.Histogram = stats.Histogram()
	return res
}

func (c *LoadClient) connect(ctx context.Context) error {
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", c.cfg.Addr, err)
	}
	c.conn = conn
	c.reader = NewResponseReader(conn)
	return nil
}

func (c *LoadClient) close() {
	c.reader.Close()
	if err := c.conn.Close(); err != nil {
		c.log.Warn().Err(err).Msg("close failed")
	}
}

// handshake opens the session and returns the token issued by the server,
// the second field of its answer.
func (c *LoadClient) handshake() (string, error) {
	req := bytebufferpool.Get()
	defer bytebufferpool.Put(req)
	_, _ = req.WriteString("POST /session-" + c.id + "\n")

	if _, err := c.conn.Write(req.B); err != nil {
		return "", fmt.Errorf("send handshake: %w", err)
	}

	resp, err := c.read()
	if err != nil {
		return "", fmt.Errorf("read handshake: %w", err)
	}

	fields := strings.Fields(resp)
	if len(fields) < 2 {
		return "", fmt.Errorf("%w: %q", ErrBadHandshake, resp)
	}
	return fields[1], nil
}

func (c *LoadClient) read() (string, error) {
	if c.cfg.ReadTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return "", err
		}
	}
	return c.reader.ReadResponse()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
