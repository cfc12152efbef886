// Package main implements the webpilot reference driver daemon. It serves
// the driver protocol against the in-memory simulator, over TCP or stdio,
// so workflows can be driven end-to-end without a browser. Every session
// gets its own simulated site; sessions never share state.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/webpilot/webpilot/pkg/driver/remote"
	"github.com/webpilot/webpilot/pkg/driver/sim"
)

// Version is set via ldflags during build.
var Version = "dev"

const driverName = "simdriver"

func main() {
	var (
		listenAddr = flag.String("listen", ":7070", "TCP listen address")
		stdio      = flag.Bool("stdio", false, "serve one session over stdin/stdout instead of TCP")
		latency    = flag.Duration("latency", 0, "artificial latency per backend call")
		logLevel   = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	logger := newLogger(*logLevel, *stdio)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("Received interrupt signal, shutting down")
		cancel()
	}()

	server := remote.NewServer(driverName, Version, logger)
	opts := sim.Options{Latency: *latency}

	if *stdio {
		if err := serveStdio(ctx, server, logger, opts); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Session failed")
			os.Exit(1)
		}
		return
	}

	if err := serveTCP(ctx, server, logger, *listenAddr, opts); err != nil {
		logger.Error().Err(err).Msg("Daemon failed")
		os.Exit(1)
	}
}

// serveStdio answers one session on stdin/stdout. Logs go to stderr so they
// never corrupt the protocol stream.
func serveStdio(ctx context.Context, server *remote.Server, logger zerolog.Logger, opts sim.Options) error {
	logger.Info().Str("mode", "stdio").Msg("Serving driver session")
	backend := sim.NewDemo(logger, opts)
	return server.ServeConn(ctx, stdioConn{}, backend)
}

// serveTCP accepts connections until the context is canceled, answering each
// with a fresh simulated site.
func serveTCP(ctx context.Context, server *remote.Server, logger zerolog.Logger, addr string, opts sim.Options) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.Info().Str("addr", listener.Addr().String()).Msg("Listening for driver sessions")

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Warn().Err(err).Msg("Accept failed")
			continue
		}

		logger.Info().Str("peer", conn.RemoteAddr().String()).Msg("Session connected")
		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			backend := sim.NewDemo(logger, opts)
			if err := server.ServeConn(ctx, conn, backend); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Msg("Session ended with error")
			} else {
				logger.Info().Str("peer", conn.RemoteAddr().String()).Msg("Session closed")
			}
		}(conn)
	}

	wg.Wait()
	return nil
}

// stdioConn adapts stdin/stdout into the io.ReadWriteCloser ServeConn wants.
type stdioConn struct{}

func (stdioConn) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioConn) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdioConn) Close() error                { return nil }

func newLogger(level string, stdio bool) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(writer).Level(parsed).With().Timestamp().Logger()
}
