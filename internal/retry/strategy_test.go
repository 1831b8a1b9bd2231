package retry_test

import (
	"fmt"
	"math"
	"runtime"
	"testing"
	"time"

	"visual-regression/internal/retry"

	"github.com/google/go-cmp/cmp"
)

func TestRetrySleep(t *testing.T) {
	type in struct {
		first uint
	}

	type want struct {
		first  time.Duration
		second bool
	}

	tests := []struct {
		name     string
		receiver retry.Strategy
		in       in
		want     want
	}{
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			retry.NewNever(),
			in{
				0,
			},
			want{
				0,
				true,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			retry.NewExponentialBackOff(0, math.MaxInt64, 0, nil),
			in{
				0,
			},
			want{
				0,
				true,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			retry.NewExponentialBackOff(0, math.MaxInt64, 1, func(i int64) int64 {
				return i
			}),
			in{
				0,
			},
			want{
				0,
				false,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			retry.NewExponentialBackOff(0, math.MaxInt64, 1, func(i int64) int64 {
				return i
			}),
			in{
				1,
			},
			want{
				0,
				true,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			retry.NewExponentialBackOff(1*time.Second, math.MaxInt64, 2, func(i int64) int64 {
				return i
			}),
			in{
				0,
			},
			want{
				1 * time.Second,
				false,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			retry.NewExponentialBackOff(1*time.Second, math.MaxInt64, 2, func(i int64) int64 {
				return i
			}),
			in{
				1,
			},
			want{
				2 * time.Second,
				false,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			retry.NewExponentialBackOff(1*time.Second, 1*time.Second, 2, func(i int64) int64 {
				return i
			}),
			in{
				1,
			},
			want{
				1 * time.Second,
				false,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			retry.NewExponentialBackOff(1*time.Second, math.MaxInt64, 64, func(i int64) int64 {
				return i
			}),
			in{
				63,
			},
			want{
				time.Duration(math.MaxInt64),
				false,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			retry.NewExponentialBackOff(100*time.Second, math.MaxInt64, 32, func(i int64) int64 {
				return i
			}),
			in{
				31,
			},
			want{
				time.Duration(math.MaxInt64),
				false,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			retry.NewExponentialBackOff(0, time.Second, 3, nil),
			in{
				0,
			},
			want{
				0,
				false,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			retry.NewExponentialBackOff(10*time.Millisecond, 50*time.Millisecond, 5, func(i int64) int64 {
				return i / 2
			}),
			in{
				4,
			},
			want{
				25 * time.Millisecond,
				false,
			},
		},
	}
	for _, tt := range tests {
		name := tt.name
		receiver := tt.receiver
		in := tt.in
		want := tt.want
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			gotFirst, gotSecond := receiver.Sleep(in.first)
			if diff := cmp.Diff(want.first, gotFirst); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(want.second, gotSecond); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestExponentialBackOff_DefaultEntropy(t *testing.T) {
	strategy := retry.NewExponentialBackOff(10*time.Millisecond, 40*time.Millisecond, 8, nil)
	for retryCount := uint(0); retryCount < 8; retryCount++ {
		ceiling := 10 * time.Millisecond << retryCount
		if ceiling > 40*time.Millisecond {
			ceiling = 40 * time.Millisecond
		}
		for i := 0; i < 100; i++ {
			got, exceeded := strategy.Sleep(retryCount)
			if exceeded {
				t.Fatalf("retry %d: unexpectedly exhausted", retryCount)
			}
			if got < 0 || got >= ceiling {
				t.Fatalf("retry %d: expected [0, %s), got %s", retryCount, ceiling, got)
			}
		}
	}
}
