package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/vitos/perp_trader/internal/strategy"
	"gopkg.in/yaml.v3"
)

type option struct {
	key string
	def any
	doc string
}

func strategyOptions(prefix string, p strategy.Params) []option {
	return []option{
		{prefix + "_TP_PCT", p.TPPct, ""},
		{prefix + "_SL_PCT", p.SLPct, ""},
		{prefix + "_TIMECUT_MIN", p.Timecut.Minutes(), ""},
	}
}

// options lists every recognised key in template order.
func options() []option {
	d := strategy.DefaultSettings()
	out := []option{
		{"BINANCE_API_KEY", "", "Binance USD-M futures credentials"},
		{"BINANCE_API_SECRET", "", ""},
		{"BINANCE_REST_URL", "https://fapi.binance.com", ""},
		{"BINANCE_WS_URL", "wss://fstream.binance.com", ""},
		{"RATE_LIMIT_INTERVAL_MS", 100, "minimum spacing between REST calls"},
		{"TICKER_STALE_SEC", 30, "ticker prices older than this are ignored"},

		{"TELEGRAM_BOT_TOKEN", "", "empty token logs notifications instead of sending them"},
		{"TELEGRAM_CHAT_ID", "", ""},

		{"LEVERAGE", 5, "trading"},
		{"MAX_POSITIONS", 3, ""},
		{"MAX_EXPOSURE", 0.1, "fraction of the balance committed per position"},
		{"ANALYSIS_INTERVAL_SEC", 60, ""},
		{"POSITION_CHECK_INTERVAL", "5s", ""},
		{"MAX_TRADE_DURATION", "4h", ""},
		{"EMERGENCY_PERIOD", "1h", "drawdown window"},
		{"EMERGENCY_DROP_PERCENT", 15.0, ""},
		{"UNIVERSE_SIZE", 100, ""},
		{"UNIVERSE_REFRESH_MIN", 30, ""},
		{"KLINE_DELAY_MS", 200, "pause between kline requests during a scan"},
		{"EXIT_GRACE_SEC", 60, "no strategy exits before a position is this old"},
		{"SUMMARY_TIMES", "09:00,21:00", "wall-clock times in TIMEZONE"},
		{"TIMEZONE", "UTC", ""},
		{"STRATEGIES", strings.Join(strategy.Names(), ","), "evaluation order, first valid signal wins"},

		{"SIGNAL_COUNT_THRESHOLD", d.Confluence.SignalThreshold, "strategies"},
		{"AUX_COUNT_THRESHOLD", d.Confluence.AuxThreshold, ""},
		{"CONFLUENCE_RSI_LOW", d.Confluence.RSILow, ""},
		{"CONFLUENCE_RSI_HIGH", d.Confluence.RSIHigh, ""},
		{"CONFLUENCE_ADX_MIN", d.Confluence.ADXMin, ""},
	}
	out = append(out, strategyOptions("CONFLUENCE", d.Confluence.Params)...)

	out = append(out,
		option{"ATR_BREAKOUT_TF", string(d.ATRBreakout.Timeframe), ""},
		option{"ATR_BREAKOUT_MULTIPLIER", d.ATRBreakout.Multiplier, ""},
		option{"ATR_BREAKOUT_RISK_REWARD", d.ATRBreakout.RiskReward, ""},
		option{"ATR_BREAKOUT_MAX_SL_PCT", d.ATRBreakout.MaxStopPct, ""},
	)
	out = append(out, strategyOptions("ATR_BREAKOUT", d.ATRBreakout.Params)...)

	out = append(out,
		option{"PREV_DAY_BREAKOUT_TF", string(d.PrevDay.TriggerTF), ""},
		option{"PREV_DAY_BREAKOUT_BUFFER", d.PrevDay.Buffer, ""},
		option{"PREV_DAY_BREAKOUT_RISK_REWARD", d.PrevDay.RiskReward, ""},
		option{"PREV_DAY_BREAKOUT_MAX_SL_PCT", d.PrevDay.MaxStopPct, ""},
	)
	out = append(out, strategyOptions("PREV_DAY_BREAKOUT", d.PrevDay.Params)...)

	out = append(out,
		option{"ORB_SESSIONS", strings.Join(d.ORB.Sessions, ","), "session opens in TIMEZONE"},
		option{"ORB_RANGE_MINUTES", d.ORB.RangeMinutes, ""},
		option{"ORB_WINDOW_MINUTES", d.ORB.WindowMinutes, ""},
		option{"ORB_RISK_REWARD", d.ORB.RiskReward, ""},
		option{"ORB_DAILY_CAP", d.ORB.DailyCap, ""},
	)
	out = append(out, strategyOptions("ORB", d.ORB.Params)...)

	out = append(out,
		option{"NR7_WINDOWS", strings.Join(d.NR7.Windows, ","), ""},
		option{"NR7_RISK_REWARD", d.NR7.RiskReward, ""},
		option{"NR7_DAILY_CAP", d.NR7.DailyCap, ""},
	)
	out = append(out, strategyOptions("NR7", d.NR7.Params)...)

	out = append(out,
		option{"EMA_PULLBACK_TOLERANCE", d.EMAPullback.Tolerance, ""},
		option{"EMA_PULLBACK_RISK_REWARD", d.EMAPullback.RiskReward, ""},
	)
	out = append(out, strategyOptions("EMA_PULLBACK", d.EMAPullback.Params)...)
	out = append(out, option{"MA_PULLBACK_TOLERANCE", d.MAPullback.Tolerance, ""})
	out = append(out, strategyOptions("MA_PULLBACK", d.MAPullback.Params)...)

	out = append(out,
		option{"LOG_LEVEL", "info", "infrastructure"},
		option{"LOG_FILE", "", "optional JSON log file in addition to stdout"},
		option{"HTTP_ADDR", ":8080", "ops server; empty disables it"},
		option{"SQLITE_PATH", "trades.db", "trade journal; empty disables it"},
		option{"POSTGRES_DSN", "", "optional Postgres trade journal"},
		option{"REDIS_ADDR", "", "optional Redis position mirror"},
	)
	return out
}

// WriteTemplate writes a commented YAML file holding every default.
func WriteTemplate(w io.Writer) error {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, o := range options() {
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: strings.ToLower(o.key), HeadComment: o.doc}
		val := &yaml.Node{}
		if err := val.Encode(o.def); err != nil {
			return fmt.Errorf("encode %s: %w", o.key, err)
		}
		doc.Content = append(doc.Content, key, val)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("write config template: %w", err)
	}
	return enc.Close()
}
