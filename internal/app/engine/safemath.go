package engine

// Checked uint64 arithmetic. Silent wraparound in fee or counter math is a
// monetary bug, so every overflow surfaces ErrArithmeticOverflow and aborts
// the surrounding operation.

// CheckedAdd returns a+b or ErrArithmeticOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b or ErrArithmeticOverflow on underflow.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrArithmeticOverflow
	}
	return a - b, nil
}

// CheckedMul returns a*b or ErrArithmeticOverflow.
func CheckedMul(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	prod := a * b
	if prod/a != b {
		return 0, ErrArithmeticOverflow
	}
	return prod, nil
}

// Fee computes floor(amount * feeBasisPoints / 10000) with overflow checks.
func Fee(amount, feeBasisPoints uint64) (uint64, error) {
	scaled, err := CheckedMul(amount, feeBasisPoints)
	if err != nil {
		return 0, err
	}
	return scaled / 10000, nil
}
