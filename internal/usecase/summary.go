package usecase

import (
	"encoding/json"
	"fmt"
	"html"
	"math"
	"strings"
	"time"

	"github.com/vitos/perp_trader/internal/domain"
)

// Summary aggregates a trade-log snapshot.
type Summary struct {
	Count        int                     `json:"count"`
	Wins         int                     `json:"wins"`
	Losses       int                     `json:"losses"`
	WinRate      float64                 `json:"win_rate"`
	AvgPnLPct    float64                 `json:"avg_pnl_pct"`
	ProfitFactor float64                 `json:"profit_factor"`
	TotalUSDT    float64                 `json:"total_usdt"`
	ByExit       map[domain.ExitType]int `json:"by_exit"`
}

// Summarize computes totals over entries. Profit factor is gains over
// absolute losses in pnl percent, +Inf when there are gains and no losses.
func Summarize(entries []domain.TradeLogEntry) Summary {
	s := Summary{ByExit: make(map[domain.ExitType]int)}
	var gains, losses, pctSum float64
	for _, e := range entries {
		s.Count++
		pctSum += e.PnLPct
		s.TotalUSDT += e.PnLUSDT
		s.ByExit[e.ExitType]++
		switch {
		case e.PnLPct > 0:
			s.Wins++
			gains += e.PnLPct
		case e.PnLPct < 0:
			s.Losses++
			losses += -e.PnLPct
		}
	}
	if s.Count == 0 {
		return s
	}
	s.WinRate = float64(s.Wins) / float64(s.Count) * 100
	s.AvgPnLPct = pctSum / float64(s.Count)
	switch {
	case losses > 0:
		s.ProfitFactor = gains / losses
	case gains > 0:
		s.ProfitFactor = math.Inf(1)
	}
	return s
}

// MarshalJSON writes an infinite profit factor as null.
func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	out := struct {
		plain
		ProfitFactor *float64 `json:"profit_factor"`
	}{plain: plain(s)}
	if !math.IsInf(s.ProfitFactor, 0) && !math.IsNaN(s.ProfitFactor) {
		pf := s.ProfitFactor
		out.ProfitFactor = &pf
	}
	return json.Marshal(out)
}

func (s Summary) profitFactorText() string {
	if math.IsInf(s.ProfitFactor, 1) {
		return "∞"
	}
	return fmt.Sprintf("%.2f", s.ProfitFactor)
}

// HTML renders the chat report.
func (s Summary) HTML(at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>📊 Trading summary</b> %s\n", html.EscapeString(at.Format("2006-01-02 15:04 MST")))
	if s.Count == 0 {
		b.WriteString("No closed trades yet.")
		return b.String()
	}
	fmt.Fprintf(&b, "Trades: <b>%d</b> (wins %d / losses %d)\n", s.Count, s.Wins, s.Losses)
	fmt.Fprintf(&b, "Win rate: <b>%.1f%%</b>\n", s.WinRate)
	fmt.Fprintf(&b, "Avg PnL: <b>%+.2f%%</b>\n", s.AvgPnLPct)
	fmt.Fprintf(&b, "Profit factor: <b>%s</b>\n", s.profitFactorText())
	fmt.Fprintf(&b, "Total: <b>%+.2f USDT</b>\n", s.TotalUSDT)
	b.WriteString("Exits:")
	for _, et := range domain.ExitTypes {
		if n := s.ByExit[et]; n > 0 {
			fmt.Fprintf(&b, " %s=%d", et, n)
		}
	}
	return b.String()
}
