// Package config loads the bot configuration from the environment and an
// optional YAML file. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/vitos/perp_trader/internal/domain"
	"github.com/vitos/perp_trader/internal/strategy"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type BinanceConfig struct {
	APIKey            string
	APISecret         string
	RESTURL           string
	WSURL             string
	RateLimitInterval time.Duration
	TickerStale       time.Duration
}

type TelegramConfig struct {
	Token  string
	ChatID int64
}

type TradingConfig struct {
	Leverage              int
	MaxPositions          int
	MaxExposure           float64
	AnalysisInterval      time.Duration
	PositionCheckInterval time.Duration
	MaxTradeDuration      time.Duration
	EmergencyPeriod       time.Duration
	EmergencyDropPercent  float64
	UniverseSize          int
	UniverseRefresh       time.Duration
	KlineDelay            time.Duration
	ExitGrace             time.Duration
	Strategies            []string
}

type Config struct {
	Binance      BinanceConfig
	Telegram     TelegramConfig
	Trading      TradingConfig
	Strategy     strategy.Settings
	SummaryTimes []strategy.ClockTime
	Location     *time.Location

	LogLevel    string
	LogFile     string
	HTTPAddr    string
	SQLitePath  string
	PostgresDSN string
	RedisAddr   string
}

// Load reads path (when non-empty) and the environment, applies defaults
// and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	for _, o := range options() {
		v.SetDefault(o.key, o.def)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
		}
	}
	v.AutomaticEnv()

	r := reader{v: v}
	cfg := &Config{
		Binance: BinanceConfig{
			APIKey:            r.str("BINANCE_API_KEY"),
			APISecret:         r.str("BINANCE_API_SECRET"),
			RESTURL:           r.str("BINANCE_REST_URL"),
			WSURL:             r.str("BINANCE_WS_URL"),
			RateLimitInterval: r.dur("RATE_LIMIT_INTERVAL_MS", time.Millisecond),
			TickerStale:       r.dur("TICKER_STALE_SEC", time.Second),
		},
		Telegram: TelegramConfig{
			Token:  r.str("TELEGRAM_BOT_TOKEN"),
			ChatID: r.integer64("TELEGRAM_CHAT_ID"),
		},
		Trading: TradingConfig{
			Leverage:              r.integer("LEVERAGE"),
			MaxPositions:          r.integer("MAX_POSITIONS"),
			MaxExposure:           r.float("MAX_EXPOSURE"),
			AnalysisInterval:      r.dur("ANALYSIS_INTERVAL_SEC", time.Second),
			PositionCheckInterval: r.dur("POSITION_CHECK_INTERVAL", time.Second),
			MaxTradeDuration:      r.dur("MAX_TRADE_DURATION", time.Second),
			EmergencyPeriod:       r.dur("EMERGENCY_PERIOD", time.Second),
			EmergencyDropPercent:  r.float("EMERGENCY_DROP_PERCENT"),
			UniverseSize:          r.integer("UNIVERSE_SIZE"),
			UniverseRefresh:       r.dur("UNIVERSE_REFRESH_MIN", time.Minute),
			KlineDelay:            r.dur("KLINE_DELAY_MS", time.Millisecond),
			ExitGrace:             r.dur("EXIT_GRACE_SEC", time.Second),
			Strategies:            r.list("STRATEGIES"),
		},
		Strategy:    r.strategies(),
		LogLevel:    r.str("LOG_LEVEL"),
		LogFile:     r.str("LOG_FILE"),
		HTTPAddr:    r.str("HTTP_ADDR"),
		SQLitePath:  r.str("SQLITE_PATH"),
		PostgresDSN: r.str("POSTGRES_DSN"),
		RedisAddr:   r.str("REDIS_ADDR"),
	}

	for _, s := range r.list("SUMMARY_TIMES") {
		ct, err := strategy.ParseClockTime(s)
		if err != nil {
			r.fail("SUMMARY_TIMES", err)
			continue
		}
		cfg.SummaryTimes = append(cfg.SummaryTimes, ct)
	}
	loc, err := time.LoadLocation(r.str("TIMEZONE"))
	if err != nil {
		r.fail("TIMEZONE", err)
		loc = time.UTC
	}
	cfg.Location = loc

	if len(r.errs) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, errors.Join(r.errs...))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Binance.APIKey != "" && c.Binance.APISecret != "", "BINANCE_API_KEY and BINANCE_API_SECRET are required")
	check(c.Trading.Leverage >= 1 && c.Trading.Leverage <= 125, "LEVERAGE must be in [1,125], got %d", c.Trading.Leverage)
	check(c.Trading.MaxPositions >= 1, "MAX_POSITIONS must be positive, got %d", c.Trading.MaxPositions)
	check(c.Trading.MaxExposure > 0 && c.Trading.MaxExposure <= 1, "MAX_EXPOSURE must be in (0,1], got %g", c.Trading.MaxExposure)
	check(c.Trading.AnalysisInterval > 0, "ANALYSIS_INTERVAL_SEC must be positive")
	check(c.Trading.PositionCheckInterval > 0, "POSITION_CHECK_INTERVAL must be positive")
	check(c.Trading.MaxTradeDuration > 0, "MAX_TRADE_DURATION must be positive")
	check(c.Trading.EmergencyPeriod > 0, "EMERGENCY_PERIOD must be positive")
	check(c.Trading.EmergencyDropPercent > 0 && c.Trading.EmergencyDropPercent < 100,
		"EMERGENCY_DROP_PERCENT must be in (0,100), got %g", c.Trading.EmergencyDropPercent)
	check(c.Trading.UniverseSize > 0, "UNIVERSE_SIZE must be positive")
	check(c.Trading.UniverseRefresh > 0, "UNIVERSE_REFRESH_MIN must be positive")
	check(c.Binance.RateLimitInterval >= 0, "RATE_LIMIT_INTERVAL_MS must not be negative")
	check(c.Binance.TickerStale > 0, "TICKER_STALE_SEC must be positive")
	check(len(c.Trading.Strategies) > 0, "STRATEGIES must name at least one strategy")

	if _, err := strategy.Build(c.Trading.Strategies, c.Strategy, c.Location); err != nil {
		errs = append(errs, err)
	}
	for _, tf := range []domain.Timeframe{c.Strategy.ATRBreakout.Timeframe, c.Strategy.PrevDay.TriggerTF,
		c.Strategy.ORB.Timeframe, c.Strategy.NR7.Timeframe, c.Strategy.EMAPullback.Timeframe, c.Strategy.MAPullback.Timeframe} {
		if err := tf.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// reader wraps viper lookups and collects parse errors.
type reader struct {
	v    *viper.Viper
	errs []error
}

func (r *reader) fail(key string, err error) {
	r.errs = append(r.errs, fmt.Errorf("%s: %v", key, err))
}

func (r *reader) str(key string) string {
	return strings.TrimSpace(r.v.GetString(key))
}

func (r *reader) integer(key string) int {
	n, err := strconv.Atoi(r.str(key))
	if err != nil {
		r.fail(key, err)
	}
	return n
}

func (r *reader) integer64(key string) int64 {
	s := r.str(key)
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		r.fail(key, err)
	}
	return n
}

func (r *reader) float(key string) float64 {
	f, err := strconv.ParseFloat(r.str(key), 64)
	if err != nil {
		r.fail(key, err)
	}
	return f
}

// dur accepts a bare number in unit or a Go duration string such as "90s".
func (r *reader) dur(key string, unit time.Duration) time.Duration {
	s := r.str(key)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(unit))
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		r.fail(key, err)
	}
	return d
}

// list accepts a YAML sequence or a comma separated string.
func (r *reader) list(key string) []string {
	var raw []string
	switch val := r.v.Get(key).(type) {
	case []any:
		for _, item := range val {
			raw = append(raw, fmt.Sprint(item))
		}
	case []string:
		raw = val
	default:
		raw = strings.Split(r.str(key), ",")
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (r *reader) params(prefix string) strategy.Params {
	return strategy.Params{
		TPPct:   r.float(prefix + "_TP_PCT"),
		SLPct:   r.float(prefix + "_SL_PCT"),
		Timecut: r.dur(prefix+"_TIMECUT_MIN", time.Minute),
	}
}

func (r *reader) strategies() strategy.Settings {
	s := strategy.DefaultSettings()

	s.Confluence.Params = r.params("CONFLUENCE")
	s.Confluence.SignalThreshold = r.integer("SIGNAL_COUNT_THRESHOLD")
	s.Confluence.AuxThreshold = r.integer("AUX_COUNT_THRESHOLD")
	s.Confluence.RSILow = r.float("CONFLUENCE_RSI_LOW")
	s.Confluence.RSIHigh = r.float("CONFLUENCE_RSI_HIGH")
	s.Confluence.ADXMin = r.float("CONFLUENCE_ADX_MIN")

	s.ATRBreakout.Params = r.params("ATR_BREAKOUT")
	s.ATRBreakout.Timeframe = domain.Timeframe(r.str("ATR_BREAKOUT_TF"))
	s.ATRBreakout.Multiplier = r.float("ATR_BREAKOUT_MULTIPLIER")
	s.ATRBreakout.RiskReward = r.float("ATR_BREAKOUT_RISK_REWARD")
	s.ATRBreakout.MaxStopPct = r.float("ATR_BREAKOUT_MAX_SL_PCT")

	s.PrevDay.Params = r.params("PREV_DAY_BREAKOUT")
	s.PrevDay.TriggerTF = domain.Timeframe(r.str("PREV_DAY_BREAKOUT_TF"))
	s.PrevDay.Buffer = r.float("PREV_DAY_BREAKOUT_BUFFER")
	s.PrevDay.RiskReward = r.float("PREV_DAY_BREAKOUT_RISK_REWARD")
	s.PrevDay.MaxStopPct = r.float("PREV_DAY_BREAKOUT_MAX_SL_PCT")

	s.ORB.Params = r.params("ORB")
	s.ORB.Sessions = r.list("ORB_SESSIONS")
	s.ORB.RangeMinutes = r.integer("ORB_RANGE_MINUTES")
	s.ORB.WindowMinutes = r.integer("ORB_WINDOW_MINUTES")
	s.ORB.RiskReward = r.float("ORB_RISK_REWARD")
	s.ORB.DailyCap = r.integer("ORB_DAILY_CAP")

	s.NR7.Params = r.params("NR7")
	s.NR7.Windows = r.list("NR7_WINDOWS")
	s.NR7.RiskReward = r.float("NR7_RISK_REWARD")
	s.NR7.DailyCap = r.integer("NR7_DAILY_CAP")

	s.EMAPullback.Params = r.params("EMA_PULLBACK")
	s.EMAPullback.Tolerance = r.float("EMA_PULLBACK_TOLERANCE")
	s.EMAPullback.RiskReward = r.float("EMA_PULLBACK_RISK_REWARD")

	s.MAPullback.Params = r.params("MA_PULLBACK")
	s.MAPullback.Tolerance = r.float("MA_PULLBACK_TOLERANCE")
	return s
}
