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

// Command conductor is a one-shot CLI over the orchestrator's public API:
// submit a workflow, poll its status, cancel it, or run a batch job against
// a directory of inputs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/gleitzeit/gleitzeit/internal/log"
	"github.com/gleitzeit/gleitzeit/pkg/batch"
	"github.com/gleitzeit/gleitzeit/pkg/gleitzeit"
	"github.com/gleitzeit/gleitzeit/pkg/persistence/sqlite"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "submit":
		err = runSubmit(logger, os.Args[2:])
	case "status":
		err = runStatus(logger, os.Args[2:])
	case "cancel":
		err = runCancel(logger, os.Args[2:])
	case "batch":
		err = runBatchCmd(logger, os.Args[2:])
	case "version":
		fmt.Printf("conductor %s (commit: %s, built: %s)\n", version, commit, buildDate)
		return
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		logger.Error("command failed", log.Error(err))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: conductor <submit|status|cancel|batch|version> [flags]")
}

// clientFromFlags wires a gleitzeit.Client against the store backend named
// by -store, sharing the flag surface across subcommands.
func clientFromFlags(ctx context.Context, logger *slog.Logger, storeKind, storePath, s3Bucket string) (*gleitzeit.Client, error) {
	opts := []gleitzeit.Option{gleitzeit.WithLogger(logger)}

	switch storeKind {
	case "", "memory":
	case "sqlite":
		opts = append(opts, gleitzeit.WithSQLiteStore(sqlite.Config{Path: storePath, WAL: true}))
	case "s3":
		if s3Bucket == "" {
			return nil, fmt.Errorf("-s3-bucket is required for -store=s3")
		}
		opts = append(opts, gleitzeit.WithS3Store(ctx, s3Bucket))
	default:
		return nil, fmt.Errorf("unknown -store %q (want memory, sqlite, or s3)", storeKind)
	}

	c, err := gleitzeit.New(opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func runSubmit(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	file := fs.String("file", "", "path to a YAML or JSON workflow definition")
	storeKind := fs.String("store", "memory", "persistence backend: memory, sqlite, s3")
	storePath := fs.String("db", "conductor.db", "sqlite database path (with -store=sqlite)")
	s3Bucket := fs.String("s3-bucket", "", "S3 bucket name (with -store=s3)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("-file is required")
	}

	definition, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read definition: %w", err)
	}

	ctx := context.Background()
	c, err := clientFromFlags(ctx, logger, *storeKind, *storePath, *s3Bucket)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	wf, err := c.Submit(ctx, definition)
	if err != nil {
		return fmt.Errorf("submit workflow: %w", err)
	}

	return printJSON(map[string]string{"workflow_id": wf.ID, "state": string(wf.State)})
}

func runStatus(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	id := fs.String("id", "", "workflow ID")
	storeKind := fs.String("store", "memory", "persistence backend: memory, sqlite, s3")
	storePath := fs.String("db", "conductor.db", "sqlite database path (with -store=sqlite)")
	s3Bucket := fs.String("s3-bucket", "", "S3 bucket name (with -store=s3)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	ctx := context.Background()
	c, err := clientFromFlags(ctx, logger, *storeKind, *storePath, *s3Bucket)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	wf, err := c.Status(ctx, *id)
	if err != nil {
		return fmt.Errorf("get workflow status: %w", err)
	}
	return printJSON(wf)
}

func runCancel(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	id := fs.String("id", "", "workflow ID")
	storeKind := fs.String("store", "memory", "persistence backend: memory, sqlite, s3")
	storePath := fs.String("db", "conductor.db", "sqlite database path (with -store=sqlite)")
	s3Bucket := fs.String("s3-bucket", "", "S3 bucket name (with -store=s3)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	ctx := context.Background()
	c, err := clientFromFlags(ctx, logger, *storeKind, *storePath, *s3Bucket)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	if err := c.Cancel(ctx, *id); err != nil {
		return fmt.Errorf("cancel workflow: %w", err)
	}
	return printJSON(map[string]bool{"cancelled": true})
}

func runBatchCmd(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	pattern := fs.String("pattern", "", "glob pattern, e.g. ./inputs/*.txt")
	protocolID := fs.String("protocol", "", "protocol/version, e.g. llm/v1")
	method := fs.String("method", "", "method name, e.g. llm/chat")
	paramsJSON := fs.String("params", "{}", "JSON params template, interpolated per matched file")
	storeKind := fs.String("store", "memory", "persistence backend: memory, sqlite, s3")
	storePath := fs.String("db", "conductor.db", "sqlite database path (with -store=sqlite)")
	s3Bucket := fs.String("s3-bucket", "", "S3 bucket name (with -store=s3)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pattern == "" || *protocolID == "" || *method == "" {
		return fmt.Errorf("-pattern, -protocol, and -method are required")
	}

	var params map[string]interface{}
	if err := json.Unmarshal([]byte(*paramsJSON), &params); err != nil {
		return fmt.Errorf("parse -params: %w", err)
	}

	ctx := context.Background()
	c, err := clientFromFlags(ctx, logger, *storeKind, *storePath, *s3Bucket)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	var aggregator *batch.AggregatorSpec
	result, err := c.RunBatch(ctx, *pattern, *protocolID, *method, params, aggregator)
	if err != nil {
		return fmt.Errorf("run batch: %w", err)
	}
	return printJSON(result)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
