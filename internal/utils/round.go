package utils

import "math"

// Round2 rounds half away from zero to cents.
func Round2(f float64) float64 { return math.Round(f*100) / 100 }

// Round3 rounds half away from zero to three decimals.
func Round3(f float64) float64 { return math.Round(f*1000) / 1000 }
