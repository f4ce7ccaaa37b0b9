package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oiunwind/engine/internal/config"
	"github.com/oiunwind/engine/internal/models"
)

// CSVAdapter serves a backtest from two CSV files under dir: a spot file
// (date,open,high,low,close,volume) and an options file
// (timestamp,strike,expiry,option_type,open,high,low,close,volume,
// underlying_price,futures_price,iv,time_to_expiry,delta,oi).
// CE/PE in the file map to CALL/PUT at this boundary only.
type CSVAdapter struct {
	dir string

	mu          sync.RWMutex
	spotBars    map[string]spotBar // keyed by minute-truncated RFC3339
	snapshots   map[string]*models.OptionsSnapshot
	expiriesErr error
	expiries    []time.Time
	loaded      bool
}

type spotBar struct {
	close float64
}

// NewCSVAdapter returns an adapter reading from dir. Files are read lazily
// and cached on first use.
func NewCSVAdapter(dir string) *CSVAdapter {
	return &CSVAdapter{
		dir:       dir,
		spotBars:  make(map[string]spotBar),
		snapshots: make(map[string]*models.OptionsSnapshot),
	}
}

func (a *CSVAdapter) ensureLoaded() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loaded {
		return a.expiriesErr
	}
	a.loaded = true

	if err := a.loadSpot(); err != nil {
		a.expiriesErr = err
		return err
	}
	if err := a.loadOptions(); err != nil {
		a.expiriesErr = err
		return err
	}
	return nil
}

func (a *CSVAdapter) loadSpot() error {
	f, err := os.Open(filepath.Join(a.dir, "spot.csv")) // #nosec G304 -- dir is operator-configured
	if err != nil {
		return fmt.Errorf("open spot.csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("read spot.csv: %w", err)
	}
	for i, row := range records {
		if i == 0 || len(row) < 5 {
			continue // header
		}
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(row[0]))
		if err != nil {
			continue
		}
		closePx, err := strconv.ParseFloat(strings.TrimSpace(row[4]), 64)
		if err != nil {
			continue
		}
		a.spotBars[minuteKey(ts)] = spotBar{close: closePx}
	}
	return nil
}

func (a *CSVAdapter) loadOptions() error {
	f, err := os.Open(filepath.Join(a.dir, "options.csv")) // #nosec G304 -- dir is operator-configured
	if err != nil {
		return fmt.Errorf("open options.csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("read options.csv: %w", err)
	}

	byTimestamp := make(map[string][]models.OptionQuote)
	expirySet := make(map[string]time.Time)

	for i, row := range records {
		if i == 0 || len(row) < 15 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(row[0]))
		if err != nil {
			continue
		}
		strike, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			continue
		}
		expiry, err := time.Parse("2006-01-02", strings.TrimSpace(row[2]))
		if err != nil {
			continue
		}
		optType, ok := models.ParseBrokerOptionType(strings.TrimSpace(row[3]))
		if !ok {
			continue
		}
		open, _ := strconv.ParseFloat(strings.TrimSpace(row[4]), 64)
		high, _ := strconv.ParseFloat(strings.TrimSpace(row[5]), 64)
		low, _ := strconv.ParseFloat(strings.TrimSpace(row[6]), 64)
		closePx, _ := strconv.ParseFloat(strings.TrimSpace(row[7]), 64)
		volume, _ := strconv.ParseInt(strings.TrimSpace(row[8]), 10, 64)
		underlying, _ := strconv.ParseFloat(strings.TrimSpace(row[9]), 64)
		iv, _ := strconv.ParseFloat(strings.TrimSpace(row[11]), 64)
		delta, _ := strconv.ParseFloat(strings.TrimSpace(row[13]), 64)
		oi, _ := strconv.ParseInt(strings.TrimSpace(row[14]), 10, 64)

		q := models.OptionQuote{
			Strike: strike, OptionType: optType, Expiry: expiry,
			Open: open, High: high, Low: low, Close: closePx,
			Volume: volume, OI: oi, Spot: underlying, IV: iv, Delta: delta,
		}
		key := minuteKey(ts)
		byTimestamp[key] = append(byTimestamp[key], q)
		expirySet[expiry.Format("2006-01-02")] = expiry
	}

	for key, quotes := range byTimestamp {
		ts, _ := time.Parse(time.RFC3339, key)
		spot := 0.0
		if len(quotes) > 0 {
			spot = quotes[0].Spot
		}
		a.snapshots[key] = models.NewOptionsSnapshot(ts, spot, quotes)
	}
	for _, e := range expirySet {
		a.expiries = append(a.expiries, e)
	}
	return nil
}

func minuteKey(t time.Time) string {
	return t.Truncate(time.Minute).Format(time.RFC3339)
}

// Spot returns the close of the spot bar at t.
func (a *CSVAdapter) Spot(ctx context.Context, t time.Time) (float64, error) {
	if err := a.ensureLoaded(); err != nil {
		return 0, models.ErrNoData
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	bar, ok := a.spotBars[minuteKey(t)]
	if !ok {
		return 0, models.ErrNoData
	}
	return bar.close, nil
}

// Chain returns the pre-indexed snapshot for t, unfiltered by strike band —
// the OI analyzer itself narrows to the configured band.
func (a *CSVAdapter) Chain(ctx context.Context, t time.Time, spot float64, strikesBelow, strikesAbove int, policy config.ExpiryPolicy) (*models.OptionsSnapshot, error) {
	if err := a.ensureLoaded(); err != nil {
		return nil, models.ErrNoData
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	snap, ok := a.snapshots[minuteKey(t)]
	if !ok {
		return nil, models.ErrNoData
	}
	return snap, nil
}

// LTP looks up the close of the quote for (strike, optionType, expiry) at t.
func (a *CSVAdapter) LTP(ctx context.Context, t time.Time, strike float64, optionType models.OptionType, expiry time.Time) (float64, error) {
	snap, err := a.Chain(ctx, t, 0, 0, 0, "")
	if err != nil {
		return 0, err
	}
	q, ok := snap.Get(strike, optionType, expiry)
	if !ok {
		return 0, models.ErrNoData
	}
	return q.Close, nil
}

// IsMarketOpen reports true whenever a spot bar exists for t — a backtest
// has no separate market-hours feed.
func (a *CSVAdapter) IsMarketOpen(ctx context.Context, t time.Time) (bool, error) {
	_, err := a.Spot(ctx, t)
	return err == nil, nil
}

// ResolveExpiry picks the closest loaded expiry on/after t per the shared
// rule in adapter.go. The backtest ignores expiry_policy distinctions
// since the fixture data is assumed pre-filtered to the policy in use.
func (a *CSVAdapter) ResolveExpiry(ctx context.Context, t time.Time, policy config.ExpiryPolicy, skipMonTue bool) (time.Time, error) {
	if err := a.ensureLoaded(); err != nil {
		return time.Time{}, models.ErrNoFeasibleExpiry
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return ResolveExpiryFromCandidates(t, a.expiries, skipMonTue)
}
