// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command conductord is the long-running orchestrator daemon: it starts
// the engine's worker pool, recovers workflows left incomplete by a prior
// crash, and (optionally) watches a directory for workflow definitions to
// submit, until signalled to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gleitzeit/gleitzeit/internal/log"
	"github.com/gleitzeit/gleitzeit/pkg/gleitzeit"
	"github.com/gleitzeit/gleitzeit/pkg/persistence/sqlite"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// shutdownGracePeriod bounds how long Close waits for in-flight task
// dispatch to drain before giving up.
const shutdownGracePeriod = 30 * time.Second

func main() {
	var (
		storeKind    = flag.String("store", "sqlite", "persistence backend: memory, sqlite, s3")
		dbPath       = flag.String("db", "conductord.db", "sqlite database path (with -store=sqlite)")
		s3Bucket     = flag.String("s3-bucket", "", "S3 bucket name (with -store=s3)")
		workflowsDir = flag.String("workflows-dir", "", "directory to watch for workflow definitions (optional)")
		watchPattern = flag.String("watch-pattern", "*.yaml", "glob pattern matched against -workflows-dir")
		noRecover    = flag.Bool("no-recover", false, "skip crash recovery of incomplete workflows on startup")
		showVersion  = flag.Bool("version", false, "show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("conductord %s (commit: %s, built: %s)\n", version, commit, buildDate)
		return
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	opts := []gleitzeit.Option{gleitzeit.WithLogger(logger)}
	if !*noRecover {
		opts = append(opts, gleitzeit.WithCrashRecovery())
	}

	switch *storeKind {
	case "memory":
		logger.Warn("running with an in-memory store; workflows will not survive a restart")
	case "sqlite":
		opts = append(opts, gleitzeit.WithSQLiteStore(sqlite.Config{Path: *dbPath, WAL: true}))
	case "s3":
		if *s3Bucket == "" {
			logger.Error("-s3-bucket is required for -store=s3")
			os.Exit(1)
		}
	default:
		logger.Error("unknown -store value", slog.String("store", *storeKind))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *storeKind == "s3" {
		opts = append(opts, gleitzeit.WithS3Store(ctx, *s3Bucket))
	}

	c, err := gleitzeit.New(opts...)
	if err != nil {
		logger.Error("create client failed", log.Error(err))
		os.Exit(1)
	}

	if err := c.Start(ctx); err != nil {
		logger.Error("start engine failed", log.Error(err))
		os.Exit(1)
	}
	logger.Info("conductord started", slog.String("version", version), slog.String("store", *storeKind))

	if *workflowsDir != "" {
		events, err := c.WatchDirectory(ctx, *workflowsDir, *watchPattern)
		if err != nil {
			logger.Error("watch directory failed", log.Error(err))
			os.Exit(1)
		}
		go func() {
			for ev := range events {
				if ev.Err != nil {
					logger.Error("workflow file rejected", slog.String("path", ev.Path), log.Error(ev.Err))
					continue
				}
				logger.Info("workflow submitted from directory watch",
					slog.String("path", ev.Path), slog.String("workflow_id", ev.Workflow.ID))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", slog.String("signal", sig.String()))

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer shutdownCancel()
	if err := c.Close(shutdownCtx); err != nil {
		logger.Error("shutdown error", log.Error(err))
		os.Exit(1)
	}
}
