package market

import (
	"fmt"
	"math/big"
	"math/bits"
)

// MaxAmountBits bounds every amount handled by the engine (U512).
const MaxAmountBits = 512

func checkAmount(v *big.Int) error {
	if v == nil {
		return nil
	}
	if v.Sign() < 0 {
		return fmt.Errorf("%w: negative amount %s", ErrInvalidArgument, v)
	}
	if v.BitLen() > MaxAmountBits {
		return fmt.Errorf("%w: amount exceeds %d bits", ErrAmountOverflow, MaxAmountBits)
	}
	return nil
}

// expiryAfter returns now + minutes expressed in block time, failing instead of
// wrapping when the result does not fit.
func expiryAfter(now, minutes uint64) (uint64, error) {
	hi, span := bits.Mul64(minutes, MillisecondsInMinute)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %d minutes", ErrTimeOverflow, minutes)
	}
	return addTime(now, span)
}

func addTime(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d", ErrTimeOverflow, a, b)
	}
	return sum, nil
}
