package clock

import "time"

// Clock abstracts time so expiry, lockout and rate windows can be driven
// deterministically in tests.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

func New() Real {
	return Real{}
}

func (Real) Now() time.Time {
	return time.Now()
}

// NowMillis returns the clock reading as UTC epoch milliseconds, the unit
// every persisted OTP timestamp uses.
func NowMillis(c Clock) int64 {
	return c.Now().UTC().UnixMilli()
}

var _ Clock = Real{}
