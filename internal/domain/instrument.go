package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

const QuoteAsset = "USDT"

// Instrument is a tradable futures contract as listed by the exchange.
type Instrument struct {
	Symbol       string `json:"symbol"`
	QuoteAsset   string `json:"quote_asset"`
	ContractType string `json:"contract_type"`
	Status       string `json:"status"`
}

// Eligible reports whether the instrument is a trading perpetual quoted in USDT.
func (i Instrument) Eligible() bool {
	return i.ContractType == "PERPETUAL" && i.Status == "TRADING" && strings.HasSuffix(i.Symbol, QuoteAsset)
}

// Ticker is a 24h rolling statistic for one symbol.
type Ticker struct {
	Symbol      string  `json:"symbol"`
	LastPrice   float64 `json:"last_price"`
	QuoteVolume float64 `json:"quote_volume"`
}

// Precision is required before sizing or placing an order for a symbol.
type Precision struct {
	PriceDecimals int32           `json:"price_decimals"`
	QtyDecimals   int32           `json:"qty_decimals"`
	TickSize      decimal.Decimal `json:"tick_size"`
	StepSize      decimal.Decimal `json:"step_size"`
	MinQty        decimal.Decimal `json:"min_qty"`
	MinNotional   decimal.Decimal `json:"min_notional"`
}
