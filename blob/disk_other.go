//go:build !unix

package blob

import "math"

// FreeSpace reports unlimited space on platforms where it cannot be determined.
func FreeSpace(_ string) (uint64, error) {
	logger.Debug("Free space checks are not supported on this platform")
	return math.MaxUint64, nil
}
