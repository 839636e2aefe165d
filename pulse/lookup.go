package pulse

import "math"

// NumberLookup maps a requested pulse count to its device encoding.
//
// The returned hi and lo bytes realize the count as hi*lo on the device. When the
// requested count is not exactly representable, adjusted is true and actual holds the
// closest representable count.
type NumberLookup func(n int) (adjusted bool, actual int, hi, lo byte)

// DelayLookup maps a requested fibre delay (nanoseconds) to its device setting byte.
//
// When the requested delay is not exactly representable, adjusted is true and actual
// holds the closest representable delay.
type DelayLookup func(delay float64) (adjusted bool, actual float64, setting byte)

// DefaultPulseNumber is the stock pulse-count encoding table.
//
// The device fires hi*lo pulses with hi in [1, 255] and lo in [0, 255]. For each hi
// the best lo is the nearest integer to n/hi; scanning all hi values finds the product
// closest to the requested count. Exact factorizations (including every n <= 255,
// which encode as 1*n) come back unadjusted.
func DefaultPulseNumber(n int) (adjusted bool, actual int, hi, lo byte) {
	if n <= 0 {
		return n < 0, 0, 1, 0
	}

	bestHi, bestLo := 1, 0
	bestDiff := math.MaxInt

	for h := 1; h <= 255; h++ {
		l := (n + h/2) / h // nearest integer to n/h
		if l > 255 {
			l = 255
		}

		// The rounded quotient and its neighbor below bracket the best product
		// for this hi.
		for _, cand := range [2]int{l, l - 1} {
			if cand < 0 {
				continue
			}
			diff := h*cand - n
			if diff < 0 {
				diff = -diff
			}
			if diff < bestDiff {
				bestDiff = diff
				bestHi = h
				bestLo = cand
			}
		}

		if bestDiff == 0 {
			break
		}
	}

	actual = bestHi * bestLo

	return actual != n, actual, byte(bestHi), byte(bestLo)
}

// DefaultFibreDelay is the stock fibre-delay encoding table: the setting byte counts
// 0.5ns steps, covering [0, 127.5] in 256 settings.
func DefaultFibreDelay(delay float64) (adjusted bool, actual float64, setting byte) {
	steps := math.Round(delay * 2)
	if steps < 0 {
		steps = 0
	}
	if steps > 255 {
		steps = 255
	}

	actual = steps / 2

	return actual != delay, actual, byte(steps)
}
