package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/benothman/xnio/benchmarks/internal/cli"
	"github.com/benothman/xnio/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "xnio-server [port]",
	Short: "Session server answering pings or streaming a file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runServer,
}

var flags struct {
	config string

	port  int
	host  string
	mode  string
	file  string
	loops int
	pin   bool

	readBuffer      int
	maxReadBuffers  int
	writeBuffer     int
	maxWriteBuffers int

	metricsAddr string
	pprofAddr   string
	logLevel    string
}

func init() {
	def := server.DefaultConfig()

	f := rootCmd.Flags()
	f.StringVar(&flags.config, "config", "", "YAML configuration file, overridden by explicit flags")
	f.IntVarP(&flags.port, "port", "p", server.DefaultPort, "port to listen on")
	f.StringVar(&flags.host, "host", "", "address to bind, all interfaces when empty")
	f.StringVar(&flags.mode, "mode", def.Mode, "responder: echo or file")
	f.StringVar(&flags.file, "file", def.File, "file streamed in file mode")
	f.IntVar(&flags.loops, "loops", def.Loops, "number of event loops serving connections")
	f.BoolVar(&flags.pin, "pin", def.Pin, "pin every event loop to a CPU")
	f.IntVar(&flags.readBuffer, "read-buffer", def.ReadBufferSize, "capacity of a request buffer")
	f.IntVar(&flags.maxReadBuffers, "max-read-buffers", def.MaxReadBuffers, "bound of the request buffer pool")
	f.IntVar(&flags.writeBuffer, "write-buffer", def.WriteBufferSize, "capacity of a response buffer")
	f.IntVar(&flags.maxWriteBuffers, "max-write-buffers", def.MaxWriteBuffers, "bound of the response buffer pool")
	f.StringVar(&flags.metricsAddr, "metrics-addr", def.MetricsAddr, "address serving /metrics, disabled when empty")
	f.StringVar(&flags.pprofAddr, "pprof-addr", def.PprofAddr, "address serving /debug profiles, disabled when empty")
	f.StringVar(&flags.logLevel, "log-level", def.LogLevel, "log level")
}

func loadConfig(cmd *cobra.Command, args []string) (server.Config, error) {
	cfg := server.DefaultConfig()
	if flags.config != "" {
		var err error
		if cfg, err = server.LoadConfig(flags.config); err != nil {
			return cfg, err
		}
	}

	f := cmd.Flags()
	if len(args) == 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return cfg, fmt.Errorf("invalid port %q: %w", args[0], err)
		}
		flags.port = port
		cfg.Addr = fmt.Sprintf("%s:%d", flags.host, port)
	} else if f.Changed("port") || f.Changed("host") {
		cfg.Addr = fmt.Sprintf("%s:%d", flags.host, flags.port)
	}

	if f.Changed("mode") {
		cfg.Mode = flags.mode
	}
	if f.Changed("file") {
		cfg.File = flags.file
	}
	if f.Changed("loops") {
		cfg.Loops = flags.loops
	}
	if f.Changed("pin") {
		cfg.Pin = flags.pin
	}
	if f.Changed("read-buffer") {
		cfg.ReadBufferSize = flags.readBuffer
	}
	if f.Changed("max-read-buffers") {
		cfg.MaxReadBuffers = flags.maxReadBuffers
	}
	if f.Changed("write-buffer") {
		cfg.WriteBufferSize = flags.writeBuffer
	}
	if f.Changed("max-write-buffers") {
		cfg.MaxWriteBuffers = flags.maxWriteBuffers
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr = flags.metricsAddr
	}
	if f.Changed("pprof-addr") {
		cfg.PprofAddr = flags.pprofAddr
	}
	if f.Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}

	return cfg, cfg.Validate()
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	logger, err := cli.SetupLogging(cfg.LogLevel)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := server.New(cfg, logger, reg)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	cli.Serve(cfg.MetricsAddr, map[string]http.Handler{
		"/metrics": promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	})
	cli.ServeProfiles(cfg.PprofAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}
