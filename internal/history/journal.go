package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"okx-funding-bot/internal/strategy"
)

const maxLineBytes = 1 << 20

// TradeJournal is the append-only NDJSON trade history. Appends are synced
// and deduplicated by event ID so replaying pending events is safe.
type TradeJournal struct {
	path string

	mu   sync.Mutex
	out  *appendFile
	seen map[string]bool
	last time.Time
}

func OpenTradeJournal(path string) (*TradeJournal, error) {
	existing, err := ReadTrades(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	out, err := newAppendFile(path)
	if err != nil {
		return nil, err
	}
	j := &TradeJournal{
		path: path,
		out:  out,
		seen: make(map[string]bool, len(existing)),
	}
	for _, ev := range existing {
		j.seen[ev.ID] = true
		if ev.Timestamp.After(j.last) {
			j.last = ev.Timestamp
		}
	}
	return j, nil
}

func (j *TradeJournal) Path() string {
	return j.path
}

func (j *TradeJournal) Has(id string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seen[id]
}

// Append writes ev unless an event with the same ID is already journaled. It
// reports whether a line was written.
func (j *TradeJournal) Append(ev strategy.TradeEvent) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if strings.TrimSpace(ev.ID) == "" {
		return false, errors.New("trade event id is required")
	}
	if j.seen[ev.ID] {
		return false, nil
	}
	if !ev.Timestamp.After(j.last) {
		return false, fmt.Errorf("%w: trade %s at %s", ErrNotIncreasing, ev.ID, ev.Timestamp.Format(TimeLayout))
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return false, err
	}
	if err := j.out.writeLine(append(payload, '\n')); err != nil {
		return false, err
	}
	j.seen[ev.ID] = true
	j.last = ev.Timestamp
	return true, nil
}

func (j *TradeJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.out.Close()
}

// ReadTrades returns the journaled events in file order. Lines that do not
// decode are skipped.
func ReadTrades(path string) ([]strategy.TradeEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var out []strategy.TradeEvent
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev strategy.TradeEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.ID == "" {
			continue
		}
		out = append(out, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
