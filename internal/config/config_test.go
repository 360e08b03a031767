package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/perp_trader/internal/strategy"
)

func setCredentials(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_API_SECRET", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	setCredentials(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Trading.Leverage)
	assert.Equal(t, 3, cfg.Trading.MaxPositions)
	assert.Equal(t, 5*time.Second, cfg.Trading.PositionCheckInterval)
	assert.Equal(t, 60*time.Second, cfg.Trading.AnalysisInterval)
	assert.Equal(t, 30*time.Minute, cfg.Trading.UniverseRefresh)
	assert.Equal(t, 100*time.Millisecond, cfg.Binance.RateLimitInterval)
	assert.Equal(t, strategy.Names(), cfg.Trading.Strategies)
	assert.Equal(t, []strategy.ClockTime{{Hour: 9}, {Hour: 21}}, cfg.SummaryTimes)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, strategy.DefaultSettings(), cfg.Strategy)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	setCredentials(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
leverage: 10
max_positions: 4
strategies:
  - orb
  - confluence
summary_times: ["08:30"]
`), 0o600))
	t.Setenv("MAX_POSITIONS", "2")
	t.Setenv("CONFLUENCE_TIMECUT_MIN", "90")
	t.Setenv("ORB_SESSIONS", "10:00, 15:30")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Trading.Leverage)
	assert.Equal(t, 2, cfg.Trading.MaxPositions)
	assert.Equal(t, []string{"orb", "confluence"}, cfg.Trading.Strategies)
	assert.Equal(t, []strategy.ClockTime{{Hour: 8, Minute: 30}}, cfg.SummaryTimes)
	assert.Equal(t, 90*time.Minute, cfg.Strategy.Confluence.Timecut)
	assert.Equal(t, []string{"10:00", "15:30"}, cfg.Strategy.ORB.Sessions)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing credentials", map[string]string{"BINANCE_API_KEY": ""}},
		{"leverage", map[string]string{"LEVERAGE": "0"}},
		{"exposure", map[string]string{"MAX_EXPOSURE": "1.5"}},
		{"not a number", map[string]string{"MAX_POSITIONS": "many"}},
		{"unknown strategy", map[string]string{"STRATEGIES": "confluence,grid"}},
		{"timezone", map[string]string{"TIMEZONE": "Mars/Olympus"}},
		{"summary time", map[string]string{"SUMMARY_TIMES": "9am"}},
		{"duration", map[string]string{"MAX_TRADE_DURATION": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setCredentials(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	setCredentials(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWriteTemplate_LoadsBack(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTemplate(&buf))
	assert.Contains(t, buf.String(), "evaluation order, first valid signal wins")
	assert.Contains(t, buf.String(), "max_positions: 3")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	setCredentials(t)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, strategy.DefaultSettings(), cfg.Strategy)
	assert.Equal(t, 4*time.Hour, cfg.Trading.MaxTradeDuration)
}
