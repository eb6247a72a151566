// Package stats provides the pure time-series primitives the scoring
// and fusion layers are built on. All functions tolerate sparse input
// by returning neutral values (0 correlation, stable trend, lag 0)
// instead of erroring, so aggregation never aborts on thin data.
package stats

import (
	"math"

	"github.com/quantmesh/signal-engine/pkg/models"
)

const (
	// MinCorrelationPoints is the minimum number of aligned points
	// required before a correlation is considered meaningful
	MinCorrelationPoints = 3

	// DefaultTrendThreshold is the pct-change band treated as stable
	DefaultTrendThreshold = 0.05

	// DefaultAvgPeriods is the window used for trend averages
	DefaultAvgPeriods = 3

	// DefaultMaxLag bounds the optimal-lag scan
	DefaultMaxLag = 7
)

// Mean returns the arithmetic mean, 0 for empty input
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation around mean,
// 0 for empty input
func StdDev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

// Correlation returns the Pearson coefficient over the first
// n = min(len(x), len(y)) elements. Returns 0 when fewer than
// MinCorrelationPoints align or either side has zero variance.
func Correlation(x, y []float64) float64 {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	if n < MinCorrelationPoints {
		return 0
	}

	meanX := Mean(x[:n])
	meanY := Mean(y[:n])

	var numerator, varX, varY float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		numerator += dx * dy
		varX += dx * dx
		varY += dy * dy
	}

	if varX == 0 || varY == 0 {
		return 0
	}

	return numerator / math.Sqrt(varX*varY)
}

// Trend classifies a newest-first series as rising, falling or stable
// by comparing the average of the newest avgPeriods values against the
// average of the oldest avgPeriods values. A zero older average is
// stable (division guard).
func Trend(values []float64, threshold float64, avgPeriods int) models.Trend {
	if len(values) < 2 {
		return models.TrendStable
	}

	w := avgPeriods
	if half := len(values) / 2; half < w {
		w = half
	}

	recentAvg := Mean(values[:w])
	olderAvg := Mean(values[len(values)-w:])

	if olderAvg == 0 {
		return models.TrendStable
	}

	pctChange := (recentAvg - olderAvg) / olderAvg
	switch {
	case pctChange > threshold:
		return models.TrendRising
	case pctChange < -threshold:
		return models.TrendFalling
	default:
		return models.TrendStable
	}
}

// OptimalLag scans lags from -maxLag to +maxLag ascending and returns
// the lag whose aligned pairs (series1[i], series2[i+lag]) show the
// strongest absolute correlation. The ascending scan keeps the FIRST
// strictly greater correlation it meets, so ties resolve to the
// earliest (most negative) lag. That tie-break is a contract: lag
// results must be reproducible across runs. Returns 0 when no lag
// yields at least MinCorrelationPoints pairs.
func OptimalLag(series1, series2 []float64, maxLag int) int {
	bestLag := 0
	bestCorr := -1.0

	for lag := -maxLag; lag <= maxLag; lag++ {
		var s1, s2 []float64
		for i := range series1 {
			j := i + lag
			if j < 0 || j >= len(series2) {
				continue
			}
			s1 = append(s1, series1[i])
			s2 = append(s2, series2[j])
		}

		if len(s1) < MinCorrelationPoints {
			continue
		}

		corr := math.Abs(Correlation(s1, s2))
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}

	if bestCorr < 0 {
		return 0
	}
	return bestLag
}

// Returns computes period-over-period returns from a newest-first
// price series: (newer - older) / older. Zero-priced periods are
// skipped.
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 0; i < len(prices)-1; i++ {
		older := prices[i+1]
		if older == 0 {
			continue
		}
		returns = append(returns, (prices[i]-older)/older)
	}
	return returns
}

// Clamp bounds v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Round1 rounds to 1 decimal place
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Round2 rounds to 2 decimal places
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
