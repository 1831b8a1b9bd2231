package retry

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"golang.org/x/exp/constraints"
)

// Strategy reports the wait before the retryCount-th retry, or true once retries are exhausted.
type Strategy interface {
	Sleep(retryCount uint) (time.Duration, bool)
}

type never struct{}

func NewNever() *never {
	return &never{}
}

func (*never) Sleep(uint) (time.Duration, bool) {
	return 0, true
}

// Entropy jitters a delay ceiling. It is only called with a positive ceiling.
type Entropy func(ceiling int64) int64

type exponentialBackOff struct {
	base          time.Duration
	max           time.Duration
	maxRetryCount uint
	entropy       Entropy
}

// NewExponentialBackOff doubles base on every retry, capped at max, for at most maxRetryCount retries.
// A nil entropy draws a uniform delay in [0, ceiling).
func NewExponentialBackOff(base time.Duration, max time.Duration, maxRetryCount uint, entropy Entropy) *exponentialBackOff {
	return &exponentialBackOff{
		base:          base,
		max:           max,
		maxRetryCount: maxRetryCount,
		entropy:       entropy,
	}
}

func (eb *exponentialBackOff) Sleep(retryCount uint) (time.Duration, bool) {
	if retryCount >= eb.maxRetryCount {
		return 0, true
	}

	ceiling := eb.ceiling(retryCount)
	if ceiling <= 0 {
		return 0, false
	}
	return time.Duration(eb.jitter(ceiling)), false
}

func (eb *exponentialBackOff) ceiling(retryCount uint) int64 {
	limit := int64(eb.max)
	if retryCount >= 63 {
		return limit
	}
	delay, err := checkedMulInt64(1<<retryCount, int64(eb.base))
	if err != nil {
		return limit
	}
	return atMost(delay, limit)
}

func (eb *exponentialBackOff) jitter(ceiling int64) int64 {
	if eb.entropy == nil {
		return rand.Int63n(ceiling)
	}
	return eb.entropy(ceiling)
}

func atMost[T constraints.Ordered](v T, limit T) T {
	if v > limit {
		return limit
	}
	return v
}

var OverflowError = errors.New("overflow")

func checkedMulInt64(l int64, r int64) (int64, error) {
	if l == 0 || r == 0 {
		return 0, nil
	}
	if l > math.MaxInt64/r {
		return 0, OverflowError
	}
	return l * r, nil
}
