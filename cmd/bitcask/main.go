// Command bitcask runs the storage engine as a stdin-driven process: every
// line read from standard input is a command dispatched against a single
// Segment Store, with merges triggered on a timer in the background.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/abhiw/bitcask/internal/eventloop"
	"github.com/abhiw/bitcask/internal/store"
)

func main() {
	dir := flag.String("dir", "./storage", "storage directory")
	maxSegmentBytes := flag.Int64("max-segment-bytes", store.DefaultMaxSegmentBytes, "active segment rotation threshold, in bytes")
	mergeInterval := flag.Duration("merge-interval", eventloop.DefaultAutoMergeInterval, "automatic merge interval")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	s, err := store.Open(*dir,
		store.WithMaxSegmentBytes(*maxSegmentBytes),
		store.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to open storage directory", zap.String("dir", *dir), zap.Error(err))
		os.Exit(1)
	}

	loop := eventloop.New(s,
		eventloop.WithAutoMergeInterval(*mergeInterval),
		eventloop.WithLogger(logger),
	)

	os.Exit(loop.Run())
}
