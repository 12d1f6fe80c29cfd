package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"okx-funding-bot/internal/okx/rest"

	"go.uber.org/zap"
)

const (
	tickerPath       = "/api/v5/market/ticker"
	fundingRatePath  = "/api/v5/public/funding-rate"
	openInterestPath = "/api/v5/public/open-interest"
)

var (
	ErrUnavailable = errors.New("snapshot unavailable")
	ErrMalformed   = errors.New("snapshot malformed")
)

// OKX codes for system busy and rate limiting.
var transientCodes = map[string]bool{
	"50001": true,
	"50004": true,
	"50011": true,
	"50013": true,
}

type FetchErrorKind int

const (
	Unavailable FetchErrorKind = iota
	Malformed
)

func (k FetchErrorKind) String() string {
	switch k {
	case Unavailable:
		return "unavailable"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// FetchError is the classified failure of one logical poll.
type FetchError struct {
	Kind     FetchErrorKind
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch snapshot %s after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrUnavailable:
		return e.Kind == Unavailable
	case ErrMalformed:
		return e.Kind == Malformed
	default:
		return false
	}
}

// RetryPolicy bounds the attempts of one poll. MaxRetries counts retries after
// the first attempt. The delay before retry n is Backoff*2^(n-1), capped at
// MaxBackoff when set.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry <= 0 || p.Backoff <= 0 {
		return 0
	}
	delay := p.Backoff
	for i := 1; i < retry; i++ {
		delay *= 2
		if p.MaxBackoff > 0 && delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}

// Getter is the subset of the REST client the fetcher needs.
type Getter interface {
	Get(ctx context.Context, path string, params url.Values) ([]json.RawMessage, error)
}

type Fetcher struct {
	client              Getter
	instID              string
	includeOpenInterest bool
	policy              RetryPolicy
	log                 *zap.Logger

	sleep   func(ctx context.Context, d time.Duration) error
	onRetry func(attempt int, err error)
}

func NewFetcher(client Getter, instID string, includeOpenInterest bool, policy RetryPolicy, log *zap.Logger) *Fetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{
		client:              client,
		instID:              instID,
		includeOpenInterest: includeOpenInterest,
		policy:              policy,
		log:                 log,
		sleep:               sleepContext,
	}
}

// OnRetry registers a hook called before each retry.
func (f *Fetcher) OnRetry(fn func(attempt int, err error)) {
	f.onRetry = fn
}

// Fetch performs one logical poll, retrying transient failures per the policy.
func (f *Fetcher) Fetch(ctx context.Context) (Snapshot, error) {
	var lastErr error
	attempts := 0
	for retry := 0; retry <= f.policy.MaxRetries; retry++ {
		if retry > 0 {
			delay := f.policy.Delay(retry)
			f.log.Warn("snapshot fetch failed, retrying",
				zap.Int("retry", retry),
				zap.Int("max_retries", f.policy.MaxRetries),
				zap.Duration("backoff", delay),
				zap.Error(lastErr),
			)
			if f.onRetry != nil {
				f.onRetry(retry, lastErr)
			}
			if err := f.sleep(ctx, delay); err != nil {
				return Snapshot{}, err
			}
		}
		attempts++
		snap, err := f.fetchOnce(ctx)
		if err == nil {
			return snap, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Snapshot{}, ctxErr
		}
		if !isTransient(err) {
			return Snapshot{}, &FetchError{Kind: Malformed, Attempts: attempts, Err: err}
		}
		lastErr = err
	}
	return Snapshot{}, &FetchError{Kind: Unavailable, Attempts: attempts, Err: lastErr}
}

func (f *Fetcher) fetchOnce(ctx context.Context) (Snapshot, error) {
	params := url.Values{"instId": {f.instID}}
	tickerData, err := f.client.Get(ctx, tickerPath, params)
	if err != nil {
		return Snapshot{}, fmt.Errorf("ticker: %w", err)
	}
	ticker, err := firstEntry(tickerData, "ticker")
	if err != nil {
		return Snapshot{}, err
	}
	price, ok := decimalFromMap(ticker, "last")
	if !ok || !price.IsPositive() {
		return Snapshot{}, malformed("ticker: invalid last price %q", stringFromMap(ticker, "last"))
	}
	ts, ok := timeFromMap(ticker, "ts")
	if !ok {
		return Snapshot{}, malformed("ticker: invalid ts %q", stringFromMap(ticker, "ts"))
	}

	fundingData, err := f.client.Get(ctx, fundingRatePath, params)
	if err != nil {
		return Snapshot{}, fmt.Errorf("funding rate: %w", err)
	}
	funding, err := firstEntry(fundingData, "funding rate")
	if err != nil {
		return Snapshot{}, err
	}
	rate, ok := decimalFromMap(funding, "fundingRate")
	if !ok {
		return Snapshot{}, malformed("funding rate: invalid fundingRate %q", stringFromMap(funding, "fundingRate"))
	}
	snap := Snapshot{
		InstID:      f.instID,
		Timestamp:   ts,
		Price:       price,
		FundingRate: rate,
	}
	if next, ok := timeFromMap(funding, "nextFundingTime", "fundingTime"); ok {
		snap.NextFundingTime = next
	}

	if f.includeOpenInterest {
		oiParams := url.Values{"instType": {"SWAP"}, "instId": {f.instID}}
		oiData, err := f.client.Get(ctx, openInterestPath, oiParams)
		if err != nil {
			return Snapshot{}, fmt.Errorf("open interest: %w", err)
		}
		oi, err := firstEntry(oiData, "open interest")
		if err != nil {
			return Snapshot{}, err
		}
		ccy, ok := decimalFromMap(oi, "oiCcy")
		if !ok {
			return Snapshot{}, malformed("open interest: invalid oiCcy %q", stringFromMap(oi, "oiCcy"))
		}
		snap.OpenInterest.Decimal, snap.OpenInterest.Valid = ccy, true
		if usd, ok := decimalFromMap(oi, "oiUsd"); ok {
			snap.OpenInterestUSD.Decimal = usd
		} else {
			snap.OpenInterestUSD.Decimal = ccy.Mul(price)
		}
		snap.OpenInterestUSD.Valid = true
	}
	return snap, nil
}

// isTransient reports whether a retry may succeed. Unclassified errors come
// from the transport (timeouts, resets, TLS) and are retried.
func isTransient(err error) bool {
	var pe *parseError
	if errors.As(err, &pe) {
		return false
	}
	var decodeErr *rest.DecodeError
	if errors.As(err, &decodeErr) {
		return false
	}
	var httpErr *rest.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}
	var apiErr *rest.APIError
	if errors.As(err, &apiErr) {
		return transientCodes[apiErr.Code]
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
