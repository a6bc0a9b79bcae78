// Command kvs-server launches the TCP key-value server. Argument parsing,
// the engine-selection marker file, and signal handling are explicitly out
// of core scope (spec.md §1); this launcher is the "external collaborator"
// that supplies them. It deliberately uses the standard library's flag
// package rather than a third-party CLI library: spec.md §1 places CLI
// argument parsing outside the core's dependency-maximization mandate, and
// the launcher's needs (four flags, no subcommands) don't warrant one.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	kvs "github.com/lucasalj/kvs"
	"github.com/lucasalj/kvs/boltengine"
	"github.com/lucasalj/kvs/kvserver"
	"github.com/lucasalj/kvs/pool"
)

const markerFileName = ".kvs-engine.json"

type engineMarker struct {
	Engine string `json:"engine"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "127.0.0.1:4000", "bind address IP:PORT")
	engineName := flag.String("engine", "kvs", "storage engine: kvs|sled")
	dir := flag.String("dir", ".", "data directory")
	workers := flag.Int("workers", 4, "thread pool worker count")
	flag.Parse()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = level.NewFilter(logger, level.AllowInfo())

	if err := checkEngineMarker(*dir, *engineName); err != nil {
		return err
	}

	var eng kvserver.Engine
	switch *engineName {
	case "kvs":
		e, err := kvs.Open(*dir, kvs.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("open kvs engine: %w", err)
		}
		defer e.Close()
		eng = e
	case "sled":
		e, err := boltengine.Open(*dir)
		if err != nil {
			return fmt.Errorf("open sled-compatible engine: %w", err)
		}
		defer e.Close()
		eng = &e
	default:
		return fmt.Errorf("unknown engine %q: must be kvs or sled", *engineName)
	}

	p := pool.NewSharedQueue(*workers, pool.WithLogger(logger))
	defer p.Close()

	srv, trigger, err := kvserver.New(*addr, eng, p, kvserver.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sigCh
		level.Info(logger).Log("msg", "shutdown signal received")
		trigger.Trigger()
	}()

	level.Info(logger).Log("msg", "listening", "addr", srv.Addr().String(), "engine", *engineName)
	return srv.Serve(trigger)
}

// checkEngineMarker enforces that a data directory, once opened with one
// engine, is never reopened with a different one. This is the launcher-side
// check spec.md §6 describes; the core itself never reads or writes this
// file.
func checkEngineMarker(dir, engineName string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	path := filepath.Join(dir, markerFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		var m engineMarker
		if jsonErr := json.Unmarshal(data, &m); jsonErr == nil && m.Engine != "" {
			if m.Engine != engineName {
				return fmt.Errorf("data directory %q was previously opened with engine %q, refusing to open with %q", dir, m.Engine, engineName)
			}
			return nil
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read engine marker: %w", err)
	}

	data, err = json.Marshal(engineMarker{Engine: engineName})
	if err != nil {
		return fmt.Errorf("marshal engine marker: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
