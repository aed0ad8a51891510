package wallet

import (
	"math/big"
	"strconv"
	"time"
)

// RetryPolicy bounds how long a wallet waits for a transaction outcome.
type RetryPolicy struct {
	// Interval between polls.
	Interval time.Duration
	// Timeout is the length of one confirmation window for local sends, and
	// the final receipt wait for custodial sends.
	Timeout     time.Duration
	MaxAttempts int
	// Escalation multiplies the fee after each expired window. Values <= 1
	// leave the fee unchanged.
	Escalation float64
}

// LocalConfirmationPolicy waits five 40 second windows, raising the fee by
// 20% after each one.
func LocalConfirmationPolicy() RetryPolicy {
	return RetryPolicy{
		Interval:    time.Second,
		Timeout:     40 * time.Second,
		MaxAttempts: 5,
		Escalation:  1.2,
	}
}

// CustodialPollingPolicy polls the engine every 2 seconds for up to 60 times
// and then waits up to two minutes for the on-chain receipt.
func CustodialPollingPolicy() RetryPolicy {
	return RetryPolicy{
		Interval:    2 * time.Second,
		Timeout:     2 * time.Minute,
		MaxAttempts: 60,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Escalate returns fee multiplied by the escalation factor, rounded down.
func (p RetryPolicy) Escalate(fee *big.Int) *big.Int {
	if fee == nil {
		return nil
	}
	if p.Escalation <= 1 {
		return new(big.Int).Set(fee)
	}
	factor, ok := new(big.Rat).SetString(strconv.FormatFloat(p.Escalation, 'f', -1, 64))
	if !ok {
		return new(big.Int).Set(fee)
	}
	scaled := new(big.Rat).Mul(new(big.Rat).SetInt(fee), factor)
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}
