// Package cli holds what the benchmark commands share: console logging and
// the profiling endpoints.
package cli

import (
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/felixge/fgprof"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging points the global logger at stderr and returns it.
func SetupLogging(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return log.Logger, err
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	return log.Logger, nil
}

// ServeProfiles exposes the pprof handlers and an fgprof wall clock profile
// under /debug on addr. Nothing is served when addr is empty.
func ServeProfiles(addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/fgprof", fgprof.Handler())

	go func() {
		log.Info().Str("addr", addr).Msg("serving profiles")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("profile server stopped")
		}
	}()
}

// Serve exposes handlers on addr in the background. Nothing is served when
// addr is empty.
func Serve(addr string, handlers map[string]http.Handler) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	for pattern, h := range handlers {
		mux.Handle(pattern, h)
	}

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("http server stopped")
		}
	}()
}
