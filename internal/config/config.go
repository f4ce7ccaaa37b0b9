// Package config provides configuration management for the OI-unwinding
// momentum engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Default values applied by Normalize when the corresponding field is left
// at its zero value.
const (
	defaultTimeframeMinutes     = 5
	defaultStrikesBelow         = 5
	defaultStrikesAbove         = 5
	defaultProfitThresholdRatio = 1.10
	defaultMaxPositions         = 1
	defaultMaxTradesPerDay      = 1
	defaultCommission           = 20.0
	defaultStateDir             = "state"
)

// Mode is the execution context the engine runs under.
type Mode string

// ExpiryPolicy selects how the market-data adapter resolves the trading
// expiry for a given timestamp.
type ExpiryPolicy string

// ExecutionMode selects how a triggered stop is converted into a fill
// price.
type ExecutionMode string

// EntryTimePrecision controls whether the entry-window comparison ignores
// seconds (Minute, the default) or honors them (Second).
type EntryTimePrecision string

const (
	ModeBacktest Mode = "backtest"
	ModePaper    Mode = "paper"
	ModeLive     Mode = "live"

	ExpiryWeekly  ExpiryPolicy = "weekly"
	ExpiryMonthly ExpiryPolicy = "monthly"
	ExpiryClosest ExpiryPolicy = "closest"

	ExecStrict ExecutionMode = "STRICT"
	ExecMarket ExecutionMode = "MARKET"

	PrecisionMinute EntryTimePrecision = "minute"
	PrecisionSecond EntryTimePrecision = "second"
)

// Config is the complete, immutable-after-load configuration surface.
type Config struct {
	Mode       Mode             `yaml:"mode"`
	Instrument InstrumentConfig `yaml:"instrument"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Strategy   StrategyConfig   `yaml:"strategy"`
	Risk       RiskConfig       `yaml:"risk"`
	Storage    StorageConfig    `yaml:"storage"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Backtest   BacktestConfig   `yaml:"backtest"`
}

// InstrumentConfig identifies the traded instrument and expiry policy.
type InstrumentConfig struct {
	Symbol           string       `yaml:"symbol"`
	ExpiryPolicy     ExpiryPolicy `yaml:"expiry_policy"`
	SkipMonTueExpiry bool         `yaml:"skip_mon_tue_expiry"`
	LotSize          int          `yaml:"lot_size"`
}

// ScheduleConfig defines candle timeframe and the entry/EOD windows, all in
// market local time.
type ScheduleConfig struct {
	Timezone           string             `yaml:"timezone"`
	TimeframeMinutes   int                `yaml:"timeframe_minutes"`
	EntryStart         string             `yaml:"entry_start"` // "HH:MM"
	EntryEnd           string             `yaml:"entry_end"`
	ExitStart          string             `yaml:"exit_start"`
	ExitEnd            string             `yaml:"exit_end"`
	EntryTimePrecision EntryTimePrecision `yaml:"entry_time_precision"`
}

// StrategyConfig defines strike-selection band, stop-loss, and execution
// parameters for the OI-unwinding momentum strategy.
type StrategyConfig struct {
	StrikesBelow         int           `yaml:"strikes_below"`
	StrikesAbove         int           `yaml:"strikes_above"`
	InitialStopPct       float64       `yaml:"initial_stop_pct"`
	VWAPStopPct          float64       `yaml:"vwap_stop_pct"`
	OIIncreaseStopPct    float64       `yaml:"oi_increase_stop_pct"`
	TrailingStopPct      float64       `yaml:"trailing_stop_pct"`
	ProfitThresholdRatio float64       `yaml:"profit_threshold_ratio"`
	ExecutionMode        ExecutionMode `yaml:"execution_mode"`
	SlippagePct          float64       `yaml:"slippage_pct"` // MARKET only
	Commission           float64       `yaml:"commission"`
}

// RiskConfig defines position sizing and per-day/per-session caps.
type RiskConfig struct {
	InitialCapital  float64 `yaml:"initial_capital"`
	RiskPerTradePct float64 `yaml:"risk_per_trade_pct"`
	MaxPositions    int     `yaml:"max_positions"`
	MaxTradesPerDay int     `yaml:"max_trades_per_day"`
}

// StorageConfig defines where per-day state files and trade logs live.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the read-only operational dashboard.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// BacktestConfig bounds a backtest run; ignored in paper/live mode.
type BacktestConfig struct {
	StartDate string `yaml:"start_date"` // "YYYY-MM-DD"
	EndDate   string `yaml:"end_date"`
}

// Load reads, expands, parses, normalizes, and validates a YAML config file.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", configPath, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", configPath, err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Normalize fills unset fields with their defaults. Must run before
// Validate so zero-valued-but-legal fields don't fail validation.
func (c *Config) Normalize() {
	if c.Mode == "" {
		c.Mode = ModeBacktest
	}
	if c.Instrument.ExpiryPolicy == "" {
		c.Instrument.ExpiryPolicy = ExpiryWeekly
	}
	if c.Instrument.LotSize == 0 {
		c.Instrument.LotSize = 1
	}
	if strings.TrimSpace(c.Schedule.Timezone) == "" {
		c.Schedule.Timezone = "Asia/Kolkata"
	}
	if c.Schedule.TimeframeMinutes == 0 {
		c.Schedule.TimeframeMinutes = defaultTimeframeMinutes
	}
	if c.Schedule.EntryTimePrecision == "" {
		c.Schedule.EntryTimePrecision = PrecisionMinute
	}
	if c.Strategy.StrikesBelow == 0 {
		c.Strategy.StrikesBelow = defaultStrikesBelow
	}
	if c.Strategy.StrikesAbove == 0 {
		c.Strategy.StrikesAbove = defaultStrikesAbove
	}
	if c.Strategy.ProfitThresholdRatio == 0 {
		c.Strategy.ProfitThresholdRatio = defaultProfitThresholdRatio
	}
	if c.Strategy.ExecutionMode == "" {
		c.Strategy.ExecutionMode = ExecStrict
	}
	if c.Strategy.Commission == 0 {
		c.Strategy.Commission = defaultCommission
	}
	if c.Risk.MaxPositions == 0 {
		c.Risk.MaxPositions = defaultMaxPositions
	}
	if c.Risk.MaxTradesPerDay == 0 {
		c.Risk.MaxTradesPerDay = defaultMaxTradesPerDay
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = defaultStateDir
	}
	if c.Dashboard.Enabled && c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8787
	}
}

// resolveLocation returns the configured timezone location.
func (c *Config) resolveLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", c.Schedule.Timezone, err)
	}
	return loc, nil
}

// Validate checks ordered/disjoint time windows and percentages in [0,1].
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Instrument.Symbol) == "" {
		return fmt.Errorf("instrument.symbol is required")
	}
	switch c.Instrument.ExpiryPolicy {
	case ExpiryWeekly, ExpiryMonthly, ExpiryClosest:
	default:
		return fmt.Errorf("instrument.expiry_policy must be one of: weekly, monthly, closest")
	}
	if c.Instrument.LotSize <= 0 {
		return fmt.Errorf("instrument.lot_size must be > 0")
	}

	switch c.Mode {
	case ModeBacktest, ModePaper, ModeLive:
	default:
		return fmt.Errorf("mode must be one of: backtest, paper, live")
	}

	if _, err := c.resolveLocation(); err != nil {
		return err
	}

	loc, _ := c.resolveLocation()
	entryStart, err1 := time.ParseInLocation("15:04", c.Schedule.EntryStart, loc)
	entryEnd, err2 := time.ParseInLocation("15:04", c.Schedule.EntryEnd, loc)
	exitStart, err3 := time.ParseInLocation("15:04", c.Schedule.ExitStart, loc)
	exitEnd, err4 := time.ParseInLocation("15:04", c.Schedule.ExitEnd, loc)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return fmt.Errorf("schedule windows must be HH:MM")
	}
	if !entryStart.Before(entryEnd) {
		return fmt.Errorf("schedule.entry_start must be before entry_end")
	}
	if !exitStart.Before(exitEnd) {
		return fmt.Errorf("schedule.exit_start must be before exit_end")
	}
	if !entryEnd.Before(exitStart) && entryEnd != exitStart {
		return fmt.Errorf("entry window and EOD window must be disjoint")
	}
	if c.Schedule.TimeframeMinutes <= 0 {
		return fmt.Errorf("schedule.timeframe_minutes must be > 0")
	}
	switch c.Schedule.EntryTimePrecision {
	case PrecisionMinute, PrecisionSecond:
	default:
		return fmt.Errorf("schedule.entry_time_precision must be one of: minute, second")
	}

	if c.Strategy.StrikesBelow <= 0 || c.Strategy.StrikesAbove <= 0 {
		return fmt.Errorf("strategy.strikes_below/strikes_above must be > 0")
	}
	for name, pct := range map[string]float64{
		"strategy.initial_stop_pct":     c.Strategy.InitialStopPct,
		"strategy.vwap_stop_pct":        c.Strategy.VWAPStopPct,
		"strategy.oi_increase_stop_pct": c.Strategy.OIIncreaseStopPct,
		"strategy.trailing_stop_pct":    c.Strategy.TrailingStopPct,
	} {
		if pct < 0 || pct > 1 {
			return fmt.Errorf("%s must be in [0,1]", name)
		}
	}
	if c.Strategy.ProfitThresholdRatio <= 1 {
		return fmt.Errorf("strategy.profit_threshold_ratio must be > 1")
	}
	switch c.Strategy.ExecutionMode {
	case ExecStrict:
	case ExecMarket:
		if c.Strategy.SlippagePct < 0 || c.Strategy.SlippagePct > 1 {
			return fmt.Errorf("strategy.slippage_pct must be in [0,1] in MARKET mode")
		}
	default:
		return fmt.Errorf("strategy.execution_mode must be STRICT or MARKET")
	}
	if c.Strategy.Commission < 0 {
		return fmt.Errorf("strategy.commission must be >= 0")
	}

	if c.Risk.InitialCapital <= 0 {
		return fmt.Errorf("risk.initial_capital must be > 0")
	}
	if c.Risk.RiskPerTradePct <= 0 || c.Risk.RiskPerTradePct > 1 {
		return fmt.Errorf("risk.risk_per_trade_pct must be in (0,1]")
	}
	if c.Risk.MaxPositions <= 0 {
		return fmt.Errorf("risk.max_positions must be > 0")
	}
	if c.Risk.MaxTradesPerDay <= 0 {
		return fmt.Errorf("risk.max_trades_per_day must be > 0")
	}

	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}

	if c.Dashboard.Enabled {
		if c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535 {
			return fmt.Errorf("dashboard.port must be between 1 and 65535")
		}
	}

	if c.Mode == ModeBacktest {
		if strings.TrimSpace(c.Backtest.StartDate) == "" || strings.TrimSpace(c.Backtest.EndDate) == "" {
			return fmt.Errorf("backtest.start_date and backtest.end_date are required in backtest mode")
		}
		start, err := time.Parse("2006-01-02", c.Backtest.StartDate)
		if err != nil {
			return fmt.Errorf("backtest.start_date invalid: %w", err)
		}
		end, err := time.Parse("2006-01-02", c.Backtest.EndDate)
		if err != nil {
			return fmt.Errorf("backtest.end_date invalid: %w", err)
		}
		if end.Before(start) {
			return fmt.Errorf("backtest.end_date must not be before start_date")
		}
	}

	return nil
}

// Location returns the resolved trading-session timezone.
func (c *Config) Location() *time.Location {
	loc, err := c.resolveLocation()
	if err != nil {
		return time.UTC
	}
	return loc
}

// windowBounds parses "HH:MM" into hour/minute for in-day comparisons.
func windowBounds(s string) (hour, minute int) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0
	}
	return t.Hour(), t.Minute()
}

// InEntryWindow reports whether t falls in [entry_start, entry_end], at the
// configured precision.
func (c *Config) InEntryWindow(t time.Time) bool {
	return c.inWindow(t, c.Schedule.EntryStart, c.Schedule.EntryEnd)
}

// InEODWindow reports whether t falls in [exit_start, exit_end].
func (c *Config) InEODWindow(t time.Time) bool {
	return c.inWindow(t, c.Schedule.ExitStart, c.Schedule.ExitEnd)
}

func (c *Config) inWindow(t time.Time, startStr, endStr string) bool {
	loc := c.Location()
	local := t.In(loc)
	if c.Schedule.EntryTimePrecision == PrecisionMinute {
		local = local.Truncate(time.Minute)
	}
	sh, sm := windowBounds(startStr)
	eh, em := windowBounds(endStr)
	start := time.Date(local.Year(), local.Month(), local.Day(), sh, sm, 0, 0, loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), eh, em, 0, 0, loc)
	return !local.Before(start) && !local.After(end)
}
