// Command shardlift-cli uploads files to a shardlift server in chunks.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/shardlift/shardlift/uploader"
)

func main() {
	endpoint := flag.String("endpoint", "http://localhost:8080/api/upload", "upload endpoint URL")
	chunkSize := flag.String("chunk-size", "1MiB", "chunk size (e.g. 512KiB, 4MiB)")
	concurrency := flag.Int("concurrency", 3, "concurrent chunk uploads per file")
	retries := flag.Int("retries", 3, "retry attempts per chunk")
	timeout := flag.Duration("timeout", 30*time.Second, "per-chunk request timeout")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: shardlift-cli [flags] file...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	size, err := units.RAMInBytes(*chunkSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid chunk size %q: %v\n", *chunkSize, err)
		os.Exit(2)
	}

	session, err := uploader.NewSession(uploader.Config{
		Endpoint:             *endpoint,
		ChunkSize:            size,
		MaxConcurrentUploads: *concurrency,
		MaxRetries:           *retries,
		Timeout:              *timeout,
	}, uploader.Callbacks{
		OnProgress: printProgress,
		OnFileComplete: func(p uploader.Progress) {
			fmt.Printf("\n%s: done (%s)\n", p.FileName, units.BytesSize(float64(p.TotalBytes)))
		},
		OnFileError: func(p uploader.Progress, err error) {
			fmt.Fprintf(os.Stderr, "\n%s: failed: %v\n", p.FileName, err)
		},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	for _, path := range flag.Args() {
		if _, err := session.AddFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			os.Exit(2)
		}
	}

	if err := session.Start(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	stats := session.Stats()
	fmt.Printf("uploaded %d/%d files, %s in %s (%s/s)\n",
		stats.CompletedFiles,
		stats.TotalFiles,
		units.BytesSize(float64(stats.UploadedBytes)),
		stats.Duration.Round(time.Millisecond),
		units.BytesSize(stats.AverageSpeed),
	)

	if stats.FailedFiles > 0 {
		os.Exit(1)
	}
}

// printProgress renders one line per update with the busiest file's figures.
func printProgress(files []uploader.Progress) {
	for _, p := range files {
		if p.Status != uploader.StatusUploading {
			continue
		}
		eta := "--"
		if p.RemainingTime > 0 {
			eta = p.RemainingTime.Round(time.Second).String()
		}
		fmt.Printf("\r%s: %3d%% (%s/%s) %s/s eta %s   ",
			p.FileName,
			p.Percentage,
			units.BytesSize(float64(p.UploadedBytes)),
			units.BytesSize(float64(p.TotalBytes)),
			units.BytesSize(p.Speed),
			eta,
		)
		return
	}
}
