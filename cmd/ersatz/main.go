// Command ersatz runs the scriptable HTTP(S) mocking and mutation engine
// as a plain-HTTP forward proxy. Flag layout and graceful-shutdown
// structure follow the teacher's cmd/tartuffe/main.go (stdlib flag, one
// FlagSet, signal.Notify + context.WithTimeout for shutdown).
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ersatzhttp/ersatz/internal/engine"
	"github.com/ersatzhttp/ersatz/internal/hostproxy"
)

func main() {
	addr := flag.String("addr", ":8080", "address for the proxy to listen on")
	mockFile := flag.String("mock", "mock.json", "path to the JSON mock configuration file")
	allowScript := flag.Bool("allowscript", false, "allow the 'script' action to execute JavaScript")
	metricsAddr := flag.String("metricsaddr", "", "address to serve Prometheus metrics on (empty disables it)")
	logLevel := flag.String("loglevel", "info", "level for logging (debug, info, warn, error)")
	logFile := flag.String("logfile", "", "path to also log to, in addition to stdout")
	pidFile := flag.String("pidfile", "", "where to write the process id")

	flag.Parse()

	logger := setupLogging(*logLevel, *logFile)

	if *pidFile != "" {
		if err := os.WriteFile(*pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
			logger.Printf("warning: failed to write pid file: %v", err)
		}
	}

	eng, err := engine.New(engine.Options{
		ConfigPath:      *mockFile,
		AllowScript:     *allowScript,
		ResponseFactory: hostproxy.NewResponseFactory(),
		Logger:          logger,
	})
	if err != nil {
		logger.Fatalf("failed to load mock config %s: %v", *mockFile, err)
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics server error: %v", err)
			}
		}()
	}

	srv := hostproxy.New(*addr, eng, logger)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("ersatz listening on %s (mock=%s)", *addr, *mockFile)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	<-done
	logger.Println("shutting down...")

	if *pidFile != "" {
		os.Remove(*pidFile)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("shutdown error: %v", err)
	}
	logger.Println("server stopped")
}

// setupLogging mirrors the teacher's own cmd/tartuffe/main.go setupLogging:
// level filtering is not yet implemented (a custom logger would be needed
// for that), so -loglevel is accepted but currently advisory only.
func setupLogging(level, file string) *log.Logger {
	out := io.Writer(os.Stdout)
	if file != "" {
		f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			out = io.MultiWriter(os.Stdout, f)
		}
	}
	_ = level
	return log.New(out, "", log.LstdFlags)
}
