package domain

import (
	"fmt"
	"math"
	"math/bits"
)

// MaxStored is the largest amount or quantity the ledger can persist.
// SQLite integers are signed 64-bit.
const MaxStored uint64 = math.MaxInt64

// CheckedAdd returns a + b or ErrArithmeticOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

// CheckedSub returns a - b or ErrArithmeticOverflow when b > a.
func CheckedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrArithmeticOverflow
	}
	return diff, nil
}

// CheckedMul returns a * b or ErrArithmeticOverflow.
func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrArithmeticOverflow
	}
	return lo, nil
}

// CheckStored rejects values above MaxStored before they reach storage.
func CheckStored(v uint64) error {
	if v > MaxStored {
		return fmt.Errorf("%w: %d exceeds %d", ErrArithmeticOverflow, v, MaxStored)
	}
	return nil
}

// CheckedAddStored is CheckedAdd bounded by MaxStored.
func CheckedAddStored(a, b uint64) (uint64, error) {
	sum, err := CheckedAdd(a, b)
	if err != nil {
		return 0, err
	}
	return sum, CheckStored(sum)
}
