package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"

	"okx-funding-bot/internal/history"
	"okx-funding-bot/internal/market"

	"go.uber.org/zap"
)

const dayLayout = "2006-01-02"

// Sink stores archive objects. S3Sink is the production implementation.
type Sink interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key, contentType string, body io.Reader) error
}

type Result struct {
	Dataset  string
	Key      string
	Rows     int
	Skipped  bool
	Reason   string
	Uploaded bool
}

// Runner uploads one UTC day of the snapshot log and trade journal as gzip
// objects. A day that is already archived is left alone.
type Runner struct {
	Sink          Sink
	Prefix        string
	SnapshotsPath string
	TradesPath    string
	Log           *zap.Logger
}

// LastClosedDayUTC returns the start of the day before now.
func LastClosedDayUTC(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

func ParseDay(raw string) (time.Time, error) {
	return time.ParseInLocation(dayLayout, strings.TrimSpace(raw), time.UTC)
}

func (r *Runner) ArchiveDay(ctx context.Context, day time.Time) ([]Result, error) {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	y, m, d := day.UTC().Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	var results []Result
	snapResult, err := r.archive(ctx, "snapshots", "csv", "text/csv", start, func(w io.Writer) (int, error) {
		return r.dumpSnapshots(w, start, end)
	})
	if err != nil {
		return results, fmt.Errorf("archive snapshots: %w", err)
	}
	results = append(results, snapResult)
	tradeResult, err := r.archive(ctx, "trades", "ndjson", "application/x-ndjson", start, func(w io.Writer) (int, error) {
		return r.dumpTrades(w, start, end)
	})
	if err != nil {
		return results, fmt.Errorf("archive trades: %w", err)
	}
	results = append(results, tradeResult)
	for _, res := range results {
		log.Info("archive dataset",
			zap.String("dataset", res.Dataset),
			zap.String("key", res.Key),
			zap.Int("rows", res.Rows),
			zap.Bool("uploaded", res.Uploaded),
			zap.String("skip_reason", res.Reason),
		)
	}
	return results, nil
}

func (r *Runner) key(dataset, ext string, day time.Time) string {
	prefix := strings.Trim(r.Prefix, "/")
	return path.Join(prefix, dataset, "dt="+day.Format(dayLayout), "part-00000."+ext+".gz")
}

func (r *Runner) archive(ctx context.Context, dataset, ext, contentType string, day time.Time, dump func(io.Writer) (int, error)) (Result, error) {
	res := Result{Dataset: dataset, Key: r.key(dataset, ext, day)}
	exists, err := r.Sink.Exists(ctx, res.Key)
	if err != nil {
		return res, err
	}
	if exists {
		res.Skipped, res.Reason = true, "already archived"
		return res, nil
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	rows, err := dump(gz)
	if err != nil {
		return res, err
	}
	if err := gz.Close(); err != nil {
		return res, err
	}
	res.Rows = rows
	if rows == 0 {
		res.Skipped, res.Reason = true, "no rows"
		return res, nil
	}
	if err := r.Sink.Put(ctx, res.Key, contentType, &buf); err != nil {
		return res, err
	}
	res.Uploaded = true
	return res, nil
}

func (r *Runner) dumpSnapshots(w io.Writer, start, end time.Time) (int, error) {
	snaps, err := history.ReadSnapshots(r.SnapshotsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	var day []market.Snapshot
	for _, snap := range snaps {
		if inWindow(snap.Timestamp, start, end) {
			day = append(day, snap)
		}
	}
	if len(day) == 0 {
		return 0, nil
	}
	return len(day), history.WriteSnapshotsCSV(w, day)
}

func (r *Runner) dumpTrades(w io.Writer, start, end time.Time) (int, error) {
	events, err := history.ReadTrades(r.TradesPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	enc := json.NewEncoder(w)
	rows := 0
	for _, ev := range events {
		if !inWindow(ev.Timestamp, start, end) {
			continue
		}
		if err := enc.Encode(ev); err != nil {
			return rows, err
		}
		rows++
	}
	return rows, nil
}

func inWindow(ts, start, end time.Time) bool {
	return !ts.Before(start) && ts.Before(end)
}
