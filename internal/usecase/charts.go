package usecase

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"github.com/vitos/perp_trader/internal/domain"
)

const (
	chartWidth  = 800
	chartHeight = 400
	chartMargin = 30
	histBins    = 20
)

var (
	chartBackground = color.RGBA{R: 0x1e, G: 0x22, B: 0x2b, A: 0xff}
	chartAxis       = color.RGBA{R: 0x6b, G: 0x72, B: 0x80, A: 0xff}
	chartLine       = color.RGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 0xff}
	chartGain       = color.RGBA{R: 0x22, G: 0xc5, B: 0x5e, A: 0xff}
	chartLoss       = color.RGBA{R: 0xef, G: 0x44, B: 0x44, A: 0xff}
)

func newCanvas() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, chartWidth, chartHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: chartBackground}, image.Point{}, draw.Src)
	return img
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderEquityCurve plots cumulative PnL in USDT over the trade sequence.
func RenderEquityCurve(entries []domain.TradeLogEntry) ([]byte, error) {
	img := newCanvas()

	equity := make([]float64, len(entries)+1)
	for i, e := range entries {
		equity[i+1] = equity[i] + e.PnLUSDT
	}
	lo, hi := equity[0], equity[0]
	for _, v := range equity {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi == lo {
		hi, lo = hi+1, lo-1
	}

	plotW := float64(chartWidth - 2*chartMargin)
	plotH := float64(chartHeight - 2*chartMargin)
	toY := func(v float64) int {
		return chartMargin + int(math.Round((hi-v)/(hi-lo)*plotH))
	}
	toX := func(i int) int {
		if len(equity) == 1 {
			return chartMargin
		}
		return chartMargin + int(math.Round(float64(i)/float64(len(equity)-1)*plotW))
	}

	zero := toY(0)
	drawLine(img, chartMargin, zero, chartWidth-chartMargin, zero, chartAxis)
	drawLine(img, chartMargin, chartMargin, chartMargin, chartHeight-chartMargin, chartAxis)
	for i := 1; i < len(equity); i++ {
		drawLine(img, toX(i-1), toY(equity[i-1]), toX(i), toY(equity[i]), chartLine)
	}
	return encodePNG(img)
}

// RenderPnLHistogram buckets trade PnL percent into equal-width bins.
func RenderPnLHistogram(entries []domain.TradeLogEntry) ([]byte, error) {
	img := newCanvas()
	base := chartHeight - chartMargin
	drawLine(img, chartMargin, base, chartWidth-chartMargin, base, chartAxis)
	if len(entries) == 0 {
		return encodePNG(img)
	}

	counts, lo, width := histogram(entries, histBins)
	peak := 0
	for _, c := range counts {
		peak = max(peak, c)
	}
	barW := (chartWidth - 2*chartMargin) / histBins
	plotH := float64(chartHeight - 2*chartMargin)
	for i, c := range counts {
		if c == 0 {
			continue
		}
		h := int(math.Round(float64(c) / float64(peak) * plotH))
		x0 := chartMargin + i*barW
		col := chartGain
		if lo+float64(i+1)*width <= 0 {
			col = chartLoss
		}
		draw.Draw(img, image.Rect(x0+1, base-h, x0+barW-1, base), &image.Uniform{C: col}, image.Point{}, draw.Src)
	}
	return encodePNG(img)
}

func histogram(entries []domain.TradeLogEntry, bins int) (counts []int, lo, width float64) {
	lo, hi := entries[0].PnLPct, entries[0].PnLPct
	for _, e := range entries {
		lo = math.Min(lo, e.PnLPct)
		hi = math.Max(hi, e.PnLPct)
	}
	if hi == lo {
		lo, hi = lo-0.5, hi+0.5
	}
	width = (hi - lo) / float64(bins)
	counts = make([]int, bins)
	for _, e := range entries {
		i := int((e.PnLPct - lo) / width)
		if i >= bins {
			i = bins - 1
		}
		counts[i]++
	}
	return counts, lo, width
}

func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
