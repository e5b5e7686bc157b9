package server

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"time"

	"github.com/benothman/xnio"
	"github.com/benothman/xnio/util"
	"github.com/benothman/xnio/xnioopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Server is the composition root of the session server: the buffer pools,
// one accept loop and Config.Loops worker loops.
type Server struct {
	cfg     Config
	log     zerolog.Logger
	metrics *Metrics

	readPool  *xnio.BufferPool
	writePool *xnio.BufferPool

	acceptIO *xnio.IO
	loops    []*xnio.IO
	acceptor *Acceptor
	addr     net.Addr
}

// New builds a server listening on cfg.Addr. Metrics are registered with reg
// when it is not nil.
func New(cfg Config, log zerolog.Logger, reg prometheus.Registerer) (s *Server, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s = &Server{
		cfg: cfg,
		log: log,
	}
	if reg != nil {
		s.metrics = NewMetrics(reg)
	}

	defer func() {
		if err != nil {
			s.closeLoops()
		}
	}()

	if s.readPool, err = xnio.NewBufferPool(cfg.ReadBufferSize, cfg.MaxReadBuffers); err != nil {
		return nil, err
	}
	if s.writePool, err = xnio.NewBufferPool(cfg.WriteBufferSize, cfg.MaxWriteBuffers); err != nil {
		return nil, err
	}

	responder, err := s.newResponder()
	if err != nil {
		return nil, err
	}

	if s.acceptIO, err = xnio.NewIO(); err != nil {
		return nil, err
	}
	for i := 0; i < cfg.Loops; i++ {
		ioc, err := xnio.NewIO()
		if err != nil {
			return nil, err
		}
		s.loops = append(s.loops, ioc)
	}

	ln, err := xnio.Listen(
		s.acceptIO, "tcp", cfg.Addr,
		xnioopts.ReuseAddr(true),
		xnioopts.NoDelay(cfg.NoDelay),
	)
	if err != nil {
		return nil, err
	}
	s.addr = ln.Addr()

	s.acceptor, err = NewAcceptor(ln, s.loops, HandlerOptions{
		ReadPool:  s.readPool,
		WritePool: s.writePool,
		Responder: responder,
		Delimiter: xnio.CRLF,
		Logger:    log,
		Metrics:   s.metrics,
	})
	if err != nil {
		_ = ln.Close()
		return nil, err
	}

	return s, nil
}

func (s *Server) newResponder() (Responder, error) {
	switch s.cfg.Mode {
	case ModeFile:
		r, err := NewFileResponder(s.cfg.File, s.cfg.MaxFileSize)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", s.cfg.File, err)
		}
		s.log.Info().Str("file", r.Path()).Int("bytes", r.Size()).Msg("serving file")
		return r, nil
	default:
		return EchoResponder{}, nil
	}
}

// Addr is the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// ReadPool returns the pool request scratch buffers are drawn from.
func (s *Server) ReadPool() *xnio.BufferPool {
	return s.readPool
}

// WritePool returns the pool response buffers are drawn from.
func (s *Server) WritePool() *xnio.BufferPool {
	return s.writePool
}

// Run serves connections until ctx is done or a loop fails. Every
// connection is closed when it returns. A Server runs only once.
func (s *Server) Run(ctx context.Context) error {
	defer s.closeLoops()

	g, ctx := errgroup.WithContext(ctx)

	s.acceptor.Start()
	g.Go(func() error {
		defer func() { _ = s.acceptor.Stop() }()
		return s.acceptIO.RunContext(ctx)
	})

	for i, w := range s.acceptor.workers {
		g.Go(func() error {
			defer w.closeAll()

			if s.cfg.Pin {
				runtime.LockOSThread()
				defer runtime.UnlockOSThread()

				cpu := i % runtime.NumCPU()
				if err := util.PinTo(cpu); err != nil {
					s.log.Warn().Err(err).Int("cpu", cpu).Msg("could not pin event loop")
				}
			}

			return w.ioc.RunContext(ctx)
		})
	}

	if s.metrics != nil && s.cfg.MetricsInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(s.cfg.MetricsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					s.metrics.observePool("read", s.readPool)
					s.metrics.observePool("write", s.writePool)
				}
			}
		})
	}

	s.log.Info().
		Str("addr", s.addr.String()).
		Str("mode", s.cfg.Mode).
		Int("loops", len(s.loops)).
		Msg("server started")

	err := g.Wait()
	s.log.Info().Msg("server stopped")
	return err
}

func (s *Server) closeLoops() {
	if s.acceptIO != nil {
		_ = s.acceptIO.Close()
	}
	for _, ioc := range s.loops {
		_ = ioc.Close()
	}
}
