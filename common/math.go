package common

import (
	"math"
	"time"
)

// DecimalToFixed rounds num half away from zero to precision decimals.
func DecimalToFixed(num float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Round(num*p) / p
}

// Rate is n per second over d, to one decimal. Zero for a zero duration.
func Rate(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return DecimalToFixed(float64(n)/d.Seconds(), 1)
}
