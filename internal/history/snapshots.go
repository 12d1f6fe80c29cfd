package history

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"okx-funding-bot/internal/market"

	"github.com/shopspring/decimal"
)

const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

var snapshotHeader = []string{"timestamp", "price", "funding_rate", "open_interest", "open_interest_usd", "next_funding_time"}

// ErrNotIncreasing rejects an entry whose timestamp is not after the last one
// in the log.
var ErrNotIncreasing = errors.New("timestamp not after last entry")

// SnapshotLog is the append-only CSV of fetched snapshots.
type SnapshotLog struct {
	path string

	mu   sync.Mutex
	out  *appendFile
	last time.Time
}

func OpenSnapshotLog(path string) (*SnapshotLog, error) {
	existing, err := ReadSnapshots(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	out, err := newAppendFile(path)
	if err != nil {
		return nil, err
	}
	log := &SnapshotLog{path: path, out: out}
	if out.size == 0 {
		if err := log.writeRecord(snapshotHeader); err != nil {
			_ = out.Close()
			return nil, err
		}
	}
	if n := len(existing); n > 0 {
		log.last = existing[n-1].Timestamp
	}
	return log, nil
}

func (l *SnapshotLog) Path() string {
	return l.path
}

// Last returns the timestamp of the newest entry.
func (l *SnapshotLog) Last() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Append writes one snapshot and syncs it to disk.
func (l *SnapshotLog) Append(snap market.Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !snap.Timestamp.After(l.last) {
		return fmt.Errorf("%w: %s", ErrNotIncreasing, snap.Timestamp.Format(TimeLayout))
	}
	if err := l.writeRecord(snapshotRecord(snap)); err != nil {
		return err
	}
	l.last = snap.Timestamp
	return nil
}

// writeRecord encodes one row in memory and appends it in a single write.
func (l *SnapshotLog) writeRecord(record []string) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(record); err != nil {
		return err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return l.out.writeLine(buf.Bytes())
}

func (l *SnapshotLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}

func snapshotRecord(snap market.Snapshot) []string {
	record := []string{
		snap.Timestamp.UTC().Format(TimeLayout),
		snap.Price.String(),
		snap.FundingRate.String(),
		"",
		"",
		"",
	}
	if snap.OpenInterest.Valid {
		record[3] = snap.OpenInterest.Decimal.String()
	}
	if snap.OpenInterestUSD.Valid {
		record[4] = snap.OpenInterestUSD.Decimal.String()
	}
	if !snap.NextFundingTime.IsZero() {
		record[5] = snap.NextFundingTime.UTC().Format(TimeLayout)
	}
	return record
}

// ReadSnapshots parses the CSV log. Rows that do not parse, such as a line
// torn by a crash, are skipped.
func ReadSnapshots(path string) ([]market.Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	var out []market.Snapshot
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return nil, err
		}
		snap, ok := parseSnapshotRecord(record)
		if !ok {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func parseSnapshotRecord(record []string) (market.Snapshot, bool) {
	if len(record) != len(snapshotHeader) {
		return market.Snapshot{}, false
	}
	ts, err := time.Parse(TimeLayout, record[0])
	if err != nil {
		return market.Snapshot{}, false
	}
	price, err := decimal.NewFromString(record[1])
	if err != nil {
		return market.Snapshot{}, false
	}
	rate, err := decimal.NewFromString(record[2])
	if err != nil {
		return market.Snapshot{}, false
	}
	snap := market.Snapshot{Timestamp: ts, Price: price, FundingRate: rate}
	if record[3] != "" {
		if oi, err := decimal.NewFromString(record[3]); err == nil {
			snap.OpenInterest = decimal.NewNullDecimal(oi)
		}
	}
	if record[4] != "" {
		if usd, err := decimal.NewFromString(record[4]); err == nil {
			snap.OpenInterestUSD = decimal.NewNullDecimal(usd)
		}
	}
	if record[5] != "" {
		if next, err := time.Parse(TimeLayout, record[5]); err == nil {
			snap.NextFundingTime = next
		}
	}
	return snap, true
}

// WriteSnapshotsCSV encodes snapshots with the log's header.
func WriteSnapshotsCSV(w io.Writer, snaps []market.Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(snapshotHeader); err != nil {
		return err
	}
	for _, snap := range snaps {
		if err := cw.Write(snapshotRecord(snap)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
