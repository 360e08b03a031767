package domain

import (
	"fmt"
	"time"
)

type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF3m  Timeframe = "3m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF2h  Timeframe = "2h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF3m:  3 * time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1h:  time.Hour,
	TF2h:  2 * time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
}

func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

func (tf Timeframe) Validate() error {
	if _, ok := timeframeDurations[tf]; !ok {
		return fmt.Errorf("%w: unknown timeframe %q", ErrValidation, string(tf))
	}
	return nil
}

// Candle is one OHLCV bar. OpenTime is in milliseconds since epoch.
type Candle struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

func (c Candle) Time() time.Time {
	return time.UnixMilli(c.OpenTime)
}

func (c Candle) Range() float64 {
	return c.High - c.Low
}

func (c Candle) Bullish() bool {
	return c.Close > c.Open
}
