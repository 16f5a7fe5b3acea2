// Package store defines the keyed storage the OTP provider runs on. Every
// check-then-act sequence is a single Store call so that a multi-process
// backend can make it atomic without changing call sites.
package store

import (
	"context"
	"errors"

	"otp-service/internal/models"
)

var ErrNotFound = errors.New("otp record not found")

type Action int

const (
	// Keep leaves the stored record untouched.
	Keep Action = iota
	// Save writes the (mutated) record back.
	Save
	// Delete removes the record.
	Delete
)

// MutateFunc receives a copy of the current record, or nil when none
// exists. Backends may call it more than once when an optimistic write
// conflicts, so it must only compute, never perform side effects.
type MutateFunc func(rec *models.OTPRecord) (Action, error)

// Reservation is the outcome of ReserveSend. When Allowed is false, Window
// and ResetTime describe the first exhausted window.
type Reservation struct {
	Phone      string
	Allowed    bool
	Window     models.Window
	ResetTime  int64
	ResetTimes map[models.Window]int64
}

type SweepStats struct {
	Records  int `json:"records"`
	Counters int `json:"counters"`
}

type Store interface {
	GetRecord(ctx context.Context, key string) (*models.OTPRecord, error)
	PutRecord(ctx context.Context, key string, rec *models.OTPRecord) error
	DeleteRecord(ctx context.Context, key string) (bool, error)
	MutateRecord(ctx context.Context, key string, fn MutateFunc) error

	// ReserveSend checks minute, hour and day windows in that order and,
	// only if none is exhausted, increments all three.
	ReserveSend(ctx context.Context, phone string, limits models.RateLimits, nowMs int64) (*Reservation, error)
	// ReleaseSend undoes an allowed reservation, as long as the windows it
	// counted against have not rolled over since.
	ReleaseSend(ctx context.Context, res *Reservation) error

	Sweep(ctx context.Context, nowMs int64) (SweepStats, error)
	Ping(ctx context.Context) error
}

// Reserve applies the reserve-or-reject rule to an in-hand counter. Backends
// that hold the counter under a lock share it.
func Reserve(counter *models.RateLimitCounter, phone string, limits models.RateLimits, nowMs int64) *Reservation {
	counter.Roll(nowMs)

	for _, w := range models.Windows {
		wc := counter.Window(w)
		if wc.Count >= limits.For(w) {
			return &Reservation{Phone: phone, Allowed: false, Window: w, ResetTime: wc.ResetTime}
		}
	}

	res := &Reservation{Phone: phone, Allowed: true, ResetTimes: make(map[models.Window]int64, len(models.Windows))}
	for _, w := range models.Windows {
		wc := counter.Window(w)
		wc.Count++
		res.ResetTimes[w] = wc.ResetTime
	}
	return res
}

// Release is the counterpart of Reserve.
func Release(counter *models.RateLimitCounter, res *Reservation) {
	for _, w := range models.Windows {
		wc := counter.Window(w)
		if wc.ResetTime == res.ResetTimes[w] && wc.Count > 0 {
			wc.Count--
		}
	}
}
