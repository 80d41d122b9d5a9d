package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tidwall/gjson"
)

// handleInspect reads a run artifact already saved to disk (e.g. via
// "simctl run --out run.json") and extracts one field from it with a
// gjson path, without needing a running simserver.
func handleInspect(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	query := fs.String("query", "", "gjson path to extract (e.g. anomaly_logs.0.position_km); empty prints the whole document")
	if err := fs.Parse(args); err != nil {
		return usageError(err)
	}

	remaining := fs.Args()
	if len(remaining) == 0 {
		return usageError(fmt.Errorf("inspect requires a path to an artifact file"))
	}
	path := remaining[0]

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}

	if *query == "" {
		fmt.Println(gjson.ParseBytes(data).String())
		return nil
	}
	result := gjson.GetBytes(data, *query)
	if !result.Exists() {
		return fmt.Errorf("field not found in artifact: %s", *query)
	}
	fmt.Println(result.String())
	return nil
}
