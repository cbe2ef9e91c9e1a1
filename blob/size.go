package blob

import (
	"math"
	"strconv"
)

var sizeUnits = []string{"Bytes", "KB", "MB", "GB", "TB"}

// FormatSize formats a byte count in binary units rounded to at most two decimals, e.g. "1.5 KB".
// Sizes beyond the largest unit are expressed in TB.
func FormatSize(n int64) (string, error) {
	if n < 0 {
		return "", &ValidationError{Field: "size", Reason: strconv.FormatInt(n, 10) + " is negative"}
	}
	if n == 0 {
		return "0 Bytes", nil
	}
	i := 0
	divisor := 1.0
	for i < len(sizeUnits)-1 && float64(n) >= divisor*1024 {
		divisor *= 1024
		i++
	}
	v := math.Round(float64(n)/divisor*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + sizeUnits[i], nil
}

// SizeString is like FormatSize but clamps negative sizes to zero.
func SizeString(n int64) string {
	if n < 0 {
		n = 0
	}
	s, _ := FormatSize(n)
	return s
}
