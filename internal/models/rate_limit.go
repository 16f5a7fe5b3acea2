package models

import "time"

type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// Windows lists the rate windows in evaluation order.
var Windows = []Window{WindowMinute, WindowHour, WindowDay}

func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

type WindowCounter struct {
	Count     int   `json:"count"`
	ResetTime int64 `json:"reset_time"`
}

// RateLimitCounter tracks sends per phone, independent of purpose.
type RateLimitCounter struct {
	Minute WindowCounter `json:"minute"`
	Hour   WindowCounter `json:"hour"`
	Day    WindowCounter `json:"day"`
}

func NewRateLimitCounter(nowMs int64) *RateLimitCounter {
	c := &RateLimitCounter{}
	for _, w := range Windows {
		*c.Window(w) = WindowCounter{ResetTime: nowMs + w.Duration().Milliseconds()}
	}
	return c
}

func (c *RateLimitCounter) Window(w Window) *WindowCounter {
	switch w {
	case WindowMinute:
		return &c.Minute
	case WindowHour:
		return &c.Hour
	default:
		return &c.Day
	}
}

// Roll resets every window whose reset time has passed.
func (c *RateLimitCounter) Roll(nowMs int64) {
	for _, w := range Windows {
		wc := c.Window(w)
		if nowMs > wc.ResetTime {
			wc.Count = 0
			wc.ResetTime = nowMs + w.Duration().Milliseconds()
		}
	}
}

// RateLimits are the per-window caps.
type RateLimits struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

func (l RateLimits) For(w Window) int {
	switch w {
	case WindowMinute:
		return l.PerMinute
	case WindowHour:
		return l.PerHour
	default:
		return l.PerDay
	}
}

// Elapsed is true when every window has passed its reset time, i.e. the
// counter carries no information any more.
func (c *RateLimitCounter) Elapsed(nowMs int64) bool {
	for _, w := range Windows {
		if nowMs <= c.Window(w).ResetTime {
			return false
		}
	}
	return true
}
