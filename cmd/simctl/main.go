// Command simctl is a flag-based CLI for driving and inspecting traffic
// simulation runs: "run" executes a run to completion locally (optionally
// persisting the artifact to Postgres), "status" and "artifact" query a
// running simserver instance over HTTP, and "inspect" extracts a field
// from an artifact file already saved to disk.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	root := flag.NewFlagSet("simctl", flag.ContinueOnError)
	root.SetOutput(io.Discard)
	if err := root.Parse(args); err != nil {
		return usageError(err)
	}

	remaining := root.Args()
	if len(remaining) == 0 {
		return usageError(errors.New("no command specified"))
	}

	switch remaining[0] {
	case "run":
		return handleRun(ctx, remaining[1:])
	case "status":
		return handleStatus(ctx, remaining[1:])
	case "artifact":
		return handleArtifact(ctx, remaining[1:])
	case "inspect":
		return handleInspect(ctx, remaining[1:])
	default:
		return usageError(fmt.Errorf("unknown command %q", remaining[0]))
	}
}

func usageError(err error) error {
	fmt.Fprintln(os.Stderr, "usage: simctl <run|status|artifact|inspect> [flags]")
	return err
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
