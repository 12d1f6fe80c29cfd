package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"okx-funding-bot/internal/history"
	"okx-funding-bot/internal/market"
	"okx-funding-bot/internal/strategy"

	"github.com/shopspring/decimal"
)

type memorySink struct {
	objects map[string][]byte
	types   map[string]string
	headErr error
}

func (m *memorySink) Exists(ctx context.Context, key string) (bool, error) {
	if m.headErr != nil {
		return false, m.headErr
	}
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memorySink) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
		m.types = make(map[string]string)
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func gunzip(t *testing.T, data []byte) string {
	t.Helper()
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("gunzip: %v", err)
	}
	return string(out)
}

func seedHistory(t *testing.T, dir string) (string, string) {
	t.Helper()
	snapsPath := filepath.Join(dir, "okx_btc_data.csv")
	tradesPath := filepath.Join(dir, "trades.ndjson")
	snaps, err := history.OpenSnapshotLog(snapsPath)
	if err != nil {
		t.Fatalf("open snapshots: %v", err)
	}
	days := []time.Time{
		time.Date(2025, 11, 25, 23, 55, 0, 0, time.UTC),
		time.Date(2025, 11, 26, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 11, 26, 12, 0, 0, 0, time.UTC),
		time.Date(2025, 11, 27, 0, 0, 0, 0, time.UTC),
	}
	for _, ts := range days {
		err := snaps.Append(market.Snapshot{Timestamp: ts, Price: decimal.NewFromInt(91000), FundingRate: decimal.RequireFromString("0.001")})
		if err != nil {
			t.Fatalf("append snapshot: %v", err)
		}
	}
	_ = snaps.Close()
	journal, err := history.OpenTradeJournal(tradesPath)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	_, err = journal.Append(strategy.TradeEvent{
		ID:        "open-1",
		Kind:      strategy.EventOpen,
		Side:      strategy.SideShort,
		Price:     decimal.NewFromInt(91000),
		Timestamp: time.Date(2025, 11, 26, 12, 0, 0, 0, time.UTC),
		Reason:    strategy.DecisionOpenShort,
	})
	if err != nil {
		t.Fatalf("append trade: %v", err)
	}
	_ = journal.Close()
	return snapsPath, tradesPath
}

func TestArchiveDayUploadsOnlyThatDay(t *testing.T) {
	snapsPath, tradesPath := seedHistory(t, t.TempDir())
	sink := &memorySink{}
	runner := &Runner{Sink: sink, Prefix: "okx-funding/", SnapshotsPath: snapsPath, TradesPath: tradesPath}

	results, err := runner.ArchiveDay(context.Background(), time.Date(2025, 11, 26, 15, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(results) != 2 || !results[0].Uploaded || !results[1].Uploaded {
		t.Fatalf("unexpected results %+v", results)
	}
	snapKey := "okx-funding/snapshots/dt=2025-11-26/part-00000.csv.gz"
	csvBody := gunzip(t, sink.objects[snapKey])
	if strings.Count(csvBody, "\n") != 3 {
		t.Fatalf("expected header and 2 rows, got:\n%s", csvBody)
	}
	if results[0].Rows != 2 {
		t.Fatalf("expected 2 snapshot rows, got %d", results[0].Rows)
	}
	if sink.types[snapKey] != "text/csv" {
		t.Fatalf("unexpected content type %q", sink.types[snapKey])
	}
	tradeBody := gunzip(t, sink.objects["okx-funding/trades/dt=2025-11-26/part-00000.ndjson.gz"])
	if !strings.Contains(tradeBody, `"id":"open-1"`) {
		t.Fatalf("expected trade in archive, got %s", tradeBody)
	}
}

func TestArchiveDayIsIdempotent(t *testing.T) {
	snapsPath, tradesPath := seedHistory(t, t.TempDir())
	sink := &memorySink{}
	runner := &Runner{Sink: sink, Prefix: "p", SnapshotsPath: snapsPath, TradesPath: tradesPath}
	day := time.Date(2025, 11, 26, 0, 0, 0, 0, time.UTC)
	if _, err := runner.ArchiveDay(context.Background(), day); err != nil {
		t.Fatalf("first archive: %v", err)
	}
	results, err := runner.ArchiveDay(context.Background(), day)
	if err != nil {
		t.Fatalf("second archive: %v", err)
	}
	for _, res := range results {
		if res.Uploaded || !res.Skipped || res.Reason != "already archived" {
			t.Fatalf("expected skip on second run, got %+v", res)
		}
	}
}

func TestArchiveDaySkipsEmptyDay(t *testing.T) {
	snapsPath, tradesPath := seedHistory(t, t.TempDir())
	sink := &memorySink{}
	runner := &Runner{Sink: sink, Prefix: "p", SnapshotsPath: snapsPath, TradesPath: tradesPath}
	results, err := runner.ArchiveDay(context.Background(), time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(sink.objects) != 0 {
		t.Fatalf("expected no uploads, got %d", len(sink.objects))
	}
	if results[0].Reason != "no rows" {
		t.Fatalf("expected no rows reason, got %+v", results[0])
	}
}

func TestArchiveDayMissingFiles(t *testing.T) {
	dir := t.TempDir()
	runner := &Runner{Sink: &memorySink{}, SnapshotsPath: filepath.Join(dir, "none.csv"), TradesPath: filepath.Join(dir, "none.ndjson")}
	if _, err := runner.ArchiveDay(context.Background(), time.Now()); err != nil {
		t.Fatalf("expected missing files to archive nothing, got %v", err)
	}
}

func TestArchiveDayHeadError(t *testing.T) {
	runner := &Runner{Sink: &memorySink{headErr: errors.New("forbidden")}, Prefix: "p"}
	if _, err := runner.ArchiveDay(context.Background(), time.Now()); err == nil {
		t.Fatalf("expected head error to surface")
	}
}

func TestLastClosedDayUTC(t *testing.T) {
	now := time.Date(2025, 11, 26, 0, 30, 0, 0, time.FixedZone("CST", 8*3600))
	want := time.Date(2025, 11, 24, 0, 0, 0, 0, time.UTC)
	if got := LastClosedDayUTC(now); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
	day, err := ParseDay("2025-11-26")
	if err != nil || !day.Equal(time.Date(2025, 11, 26, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected parsed day %s err=%v", day, err)
	}
}
