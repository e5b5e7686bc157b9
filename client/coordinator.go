package client

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/benothman/xnio/util"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Summary aggregates the results of every client of a run.
type Summary struct {
	Clients   int
	Succeeded int
	Failed    int

	// Averages are the statistics of the per-client average latencies, in
	// milliseconds.
	Averages util.Result

	// Histogram holds the latencies of every request of every client, in
	// microseconds.
	Histogram *hdrhistogram.Histogram

	Elapsed time.Duration
}

// RunClients runs n clients concurrently, one goroutine each, and waits for
// all of them. The report line of every successful client is written to out
// as soon as it finishes. A failing client is logged and does not affect the
// others.
func RunClients(ctx context.Context, cfg Config, n int, out io.Writer, log zerolog.Logger) (Summary, error) {
	if err := cfg.Validate(); err != nil {
		return Summary{}, err
	}

	var limiter *rate.Limiter
	if cfg.DialRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.DialRate), 1)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		averages = util.NewOnlineStats()
		summary  = Summary{
			Clients:   n,
			Histogram: NewHistogram(),
		}
		start = time.Now()
	)

	for i := 1; i <= n; i++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				log.Warn().Err(err).Int("started", i-1).Msg("stopped starting clients")
				summary.Clients = i - 1
				break
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			c := NewLoadClient(strconv.Itoa(i), cfg, log)
			res, err := c.Run(ctx)

			mu.Lock()
			defer mu.Unlock()

			if res.Histogram != nil {
				summary.Histogram.Merge(res.Histogram)
			}
			if err != nil {
				summary.Failed++
				log.Error().Err(err).Str("client", res.ClientID).Msg("client failed")
				return
			}

			summary.Succeeded++
			averages.Add(float64(res.Avg) / float64(time.Millisecond))
			if _, err := fmt.Fprintln(out, res.Line()); err != nil {
				log.Error().Err(err).Msg("could not write report line")
			}
		}()
	}

	wg.Wait()

	summary.Averages = *averages.Result()
	summary.Elapsed = time.Since(start)
	return summary, nil
}
