package converge

// NetLots converts a signed unit position into whole lots in the leg's direction.
// A BUY leg counts long units, a SELL leg counts short units. Partial lots are floored.
func NetLots(netUnits, sign, lotSize int64) int64 {
	if lotSize <= 0 {
		lotSize = 1
	}
	return netUnits * sign / lotSize
}

// RemainingLots is the whole number of lots still needed to reach targetLots.
// Residual units below one lot do not count.
func RemainingLots(targetLots, netUnits, sign, lotSize int64) int64 {
	if lotSize <= 0 {
		lotSize = 1
	}
	rem := targetLots*lotSize - netUnits*sign
	if rem <= 0 {
		return 0
	}
	return rem / lotSize
}

// Abs returns |v|.
func Abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Min returns the smaller of a and b.
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// GCD returns the greatest common divisor of |a| and |b|.
func GCD(a, b int64) int64 {
	a, b = Abs(a), Abs(b)
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
