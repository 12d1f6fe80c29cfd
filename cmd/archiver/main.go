// Command archiver uploads one UTC day of snapshot history and trade journal
// to S3. Days already present in the bucket are skipped.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"okx-funding-bot/internal/archive"
	"okx-funding-bot/internal/config"
	"okx-funding-bot/internal/logging"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.example.yaml", "path to config file")
	dayFlag := flag.String("day", "", "UTC day to archive (YYYY-MM-DD); defaults to yesterday")
	bucketFlag := flag.String("bucket", "", "override archive.bucket")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	day := archive.LastClosedDayUTC(time.Now())
	if *dayFlag != "" {
		day, err = archive.ParseDay(*dayFlag)
		if err != nil {
			log.Error("invalid -day", zap.String("day", *dayFlag), zap.Error(err))
			os.Exit(2)
		}
	}
	bucket := cfg.Archive.Bucket
	if *bucketFlag != "" {
		bucket = *bucketFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink, err := archive.NewS3Sink(ctx, bucket, cfg.Archive.Region)
	if err != nil {
		log.Error("s3 sink init failed", zap.Error(err))
		os.Exit(1)
	}
	runner := &archive.Runner{
		Sink:          sink,
		Prefix:        cfg.Archive.Prefix,
		SnapshotsPath: cfg.History.SnapshotsPath,
		TradesPath:    cfg.History.TradesPath,
		Log:           log,
	}
	results, err := runner.ArchiveDay(ctx, day)
	for _, res := range results {
		log.Info("archive result",
			zap.String("dataset", res.Dataset),
			zap.String("key", res.Key),
			zap.Int("rows", res.Rows),
			zap.Bool("uploaded", res.Uploaded),
			zap.String("skipped", res.Reason),
		)
	}
	if err != nil {
		log.Error("archive failed", zap.String("day", day.Format("2006-01-02")), zap.Error(err))
		os.Exit(1)
	}
}
