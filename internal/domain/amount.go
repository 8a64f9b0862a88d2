package domain

import "math/bits"

// Amounts are unsigned 64-bit integers in the smallest unit.
// All arithmetic on balances goes through these helpers so that wrap-around is an error.

// AddAmount returns a+b or ErrAmountOverflow.
func AddAmount(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrAmountOverflow
	}
	return sum, nil
}

// MulAmount returns a*b or ErrAmountOverflow.
func MulAmount(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrAmountOverflow
	}
	return lo, nil
}

// Debit returns balance-amount or ErrInsufficientBalance.
func Debit(balance, amount uint64) (uint64, error) {
	if amount > balance {
		return 0, ErrInsufficientBalance
	}
	return balance - amount, nil
}
