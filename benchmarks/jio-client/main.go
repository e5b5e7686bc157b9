package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/benothman/xnio/benchmarks/internal/cli"
	"github.com/benothman/xnio/client"
	"github.com/benothman/xnio/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "jio-client host port [n] [delay-ms]",
	Short: "Runs n concurrent ping clients and prints one report line per client",
	Long: `Runs n concurrent clients against a session server. Every client
handshakes, waits for the others to connect, then pings the server every delay
milliseconds. Once done it prints "max \t min \t avg" in milliseconds.`,
	Args: cobra.RangeArgs(2, 4),
	RunE: runClients,
}

var flags struct {
	config string

	requests    int
	duration    time.Duration
	settle      time.Duration
	jitter      time.Duration
	windowStart time.Duration
	windowEnd   time.Duration
	dialRate    float64
	dialTimeout time.Duration
	readTimeout time.Duration

	histogram bool
	pprofAddr string
	logLevel  string
}

func init() {
	def := client.DefaultConfig()

	f := rootCmd.Flags()
	f.StringVar(&flags.config, "config", "", "YAML configuration file, overridden by arguments and explicit flags")
	f.IntVar(&flags.requests, "requests", 0, "pings per client, derived from duration and delay when zero")
	f.DurationVar(&flags.duration, "duration", def.Duration, "length of the ping phase")
	f.DurationVar(&flags.settle, "settle", def.Settle, "pause between the handshake and the first ping")
	f.DurationVar(&flags.jitter, "jitter", def.Jitter, "bound of the random sleep before the first ping")
	f.DurationVar(&flags.windowStart, "window-start", def.WindowStart, "start of the averaging window")
	f.DurationVar(&flags.windowEnd, "window-end", def.WindowEnd, "end of the averaging window")
	f.Float64Var(&flags.dialRate, "dial-rate", def.DialRate, "clients started per second, unlimited when zero")
	f.DurationVar(&flags.dialTimeout, "dial-timeout", def.DialTimeout, "connect timeout, none when zero")
	f.DurationVar(&flags.readTimeout, "read-timeout", def.ReadTimeout, "response timeout, none when zero")
	f.BoolVar(&flags.histogram, "histogram", false, "print the latency histogram of all clients to stderr")
	f.StringVar(&flags.pprofAddr, "pprof-addr", "", "address serving /debug profiles, disabled when empty")
	f.StringVar(&flags.logLevel, "log-level", "info", "log level")
}

func loadConfig(cmd *cobra.Command, args []string) (client.Config, int, error) {
	cfg := client.DefaultConfig()
	if flags.config != "" {
		var err error
		if cfg, err = client.LoadConfig(flags.config); err != nil {
			return cfg, 0, err
		}
	}

	cfg.Addr = net.JoinHostPort(args[0], args[1])

	n := client.DefaultClients
	if len(args) > 2 {
		v, err := strconv.Atoi(args[2])
		if err != nil || v <= 0 {
			return cfg, 0, fmt.Errorf("invalid number of clients %q", args[2])
		}
		n = v
	}
	if len(args) > 3 {
		v, err := strconv.Atoi(args[3])
		if err != nil || v <= 0 {
			return cfg, 0, fmt.Errorf("invalid delay %q", args[3])
		}
		cfg.Delay = time.Duration(v) * time.Millisecond
	}

	f := cmd.Flags()
	if f.Changed("requests") {
		cfg.Requests = flags.requests
	}
	if f.Changed("duration") {
		cfg.Duration = flags.duration
	}
	if f.Changed("settle") {
		cfg.Settle = flags.settle
	}
	if f.Changed("jitter") {
		cfg.Jitter = flags.jitter
	}
	if f.Changed("window-start") {
		cfg.WindowStart = flags.windowStart
	}
	if f.Changed("window-end") {
		cfg.WindowEnd = flags.windowEnd
	}
	if f.Changed("dial-rate") {
		cfg.DialRate = flags.dialRate
	}
	if f.Changed("dial-timeout") {
		cfg.DialTimeout = flags.dialTimeout
	}
	if f.Changed("read-timeout") {
		cfg.ReadTimeout = flags.readTimeout
	}

	return cfg, n, cfg.Validate()
}

func runClients(cmd *cobra.Command, args []string) error {
	cfg, n, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	logger, err := cli.SetupLogging(flags.logLevel)
	if err != nil {
		return err
	}
	cli.ServeProfiles(flags.pprofAddr)

	minIndex, maxIndex := cfg.Window()
	logger.Info().
		Str("addr", cfg.Addr).
		Int("clients", n).
		Dur("delay", cfg.Delay).
		Int("requests", cfg.RequestCount()).
		Int("window_min", minIndex).
		Int("window_max", maxIndex).
		Msg("starting clients")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := client.RunClients(ctx, cfg, n, os.Stdout, logger)
	if err != nil {
		return err
	}

	logger.Info().
		Int("clients", summary.Clients).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Float64("avg_ms", summary.Averages.Avg).
		Float64("min_avg_ms", summary.Averages.Min).
		Float64("max_avg_ms", summary.Averages.Max).
		Float64("stddev_ms", summary.Averages.StdDev).
		Dur("elapsed", summary.Elapsed).
		Msg("run finished")

	if flags.histogram {
		hist := util.NewTtyHist(util.TtyHistOpts{
			Name:      "latency",
			Scale:     "us",
			MinPct:    0.1,
			Min:       1,
			Max:       60_000_000,
			Precision: 3,
			Writer:    os.Stderr,
		})
		if dropped := hist.Merge(summary.Histogram); dropped > 0 {
			logger.Warn().Int64("dropped", dropped).Msg("latencies out of the histogram range")
		}
		hist.Report()
	}

	if summary.Succeeded == 0 && summary.Clients > 0 {
		return fmt.Errorf("all %d clients failed", summary.Clients)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("client run failed")
	}
}
