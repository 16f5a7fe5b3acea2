package models

import "fmt"

type Purpose string

const (
	PurposeLogin         Purpose = "login"
	PurposeRegister      Purpose = "register"
	PurposePasswordReset Purpose = "password_reset"
	PurposeDeviceChange  Purpose = "device_change"
)

var purposes = map[Purpose]struct{}{
	PurposeLogin:         {},
	PurposeRegister:      {},
	PurposePasswordReset: {},
	PurposeDeviceChange:  {},
}

func (p Purpose) Valid() bool {
	_, ok := purposes[p]
	return ok
}

func (p Purpose) String() string {
	return string(p)
}

// OTPRecord is the pending state of one issued code. The code itself is
// never stored; Hash binds phone, code, purpose and Salt under the server
// secret. Instants are UTC epoch milliseconds.
type OTPRecord struct {
	Hash          string  `json:"hash"`
	Salt          string  `json:"salt"`
	HashAlgorithm string  `json:"hash_algorithm"`
	Purpose       Purpose `json:"purpose"`
	CreatedAt     int64   `json:"created_at"`
	ExpiresAt     int64   `json:"expires_at"`
	Attempts      int     `json:"attempts"`
	Locked        bool    `json:"locked"`
	LockedUntil   int64   `json:"locked_until"`
}

func (r *OTPRecord) Expired(nowMs int64) bool {
	return nowMs > r.ExpiresAt
}

// LockActive reports a lock that has not yet elapsed.
func (r *OTPRecord) LockActive(nowMs int64) bool {
	return r.Locked && nowMs <= r.LockedUntil
}

// Stale is true once a record can be garbage-collected.
func (r *OTPRecord) Stale(nowMs int64) bool {
	return r.Expired(nowMs) || (r.Locked && nowMs > r.LockedUntil)
}

// HorizonMs is the last instant at which the record still matters.
func (r *OTPRecord) HorizonMs() int64 {
	if r.Locked && r.LockedUntil > r.ExpiresAt {
		return r.LockedUntil
	}
	return r.ExpiresAt
}

// RecordKey is the storage key for a (phone, purpose) pair. phone must
// already be normalized.
func RecordKey(normalizedPhone string, purpose Purpose) string {
	return fmt.Sprintf("%s:%s", normalizedPhone, purpose)
}
