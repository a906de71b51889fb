package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"driftpursuit/worldclient/internal/config"
	"driftpursuit/worldclient/internal/logging"
	capturecheck "driftpursuit/worldclient/tools/capture_check"
)

func main() {
	root := flag.String("root", "", "Capture root holding bundle directories")
	bundle := flag.String("bundle", "", "Single bundle directory to check")
	parallel := flag.Int("parallel", 4, "Bundles replayed concurrently")
	flag.Parse()

	var dirs []string
	switch {
	case *bundle != "":
		dirs = []string{*bundle}
	case *root != "":
		found, err := capturecheck.Discover(*root)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(2)
		}
		dirs = found
	default:
		fmt.Fprintln(os.Stderr, "root or bundle flag is required")
		os.Exit(1)
	}

	results := capturecheck.CheckAll(context.Background(), dirs, capturecheck.Options{
		Parallel:   *parallel,
		Prediction: config.FullPrediction(),
		MaxOpcodes: config.DefaultMaxOpcodesPerTick,
		Logger:     logging.NewTestLogger(),
	})

	//1.- Render the report as JSON so callers can pipe the output elsewhere.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
	for _, result := range results {
		if !result.OK() {
			os.Exit(4)
		}
	}
}
