package provider

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"otp-service/internal/audit"
	"otp-service/internal/models"
	"otp-service/internal/store"
)

const (
	codeMin = 100000
	codeMax = 999999
)

// generateCode draws a uniform six digit code without a leading zero.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+codeMin), nil
}

type attemptPolicy struct {
	maxAttempts int
	lockoutMs   int64
}

// verdict is what one verify call decided about a record.
type verdict struct {
	action store.Action
	result *Result
	event  audit.EventType
}

// judge applies the verification state machine to rec at nowMs: expiry,
// then the lock gate, then one counted attempt. matches is only consulted
// once the attempt has been counted.
func judge(rec *models.OTPRecord, nowMs int64, policy attemptPolicy, matches func() (bool, error)) (verdict, error) {
	if rec == nil {
		return verdict{
			action: store.Keep,
			result: fail(ErrOTPNotFound, "No pending verification code for this number", nil),
			event:  audit.EventVerifyFailed,
		}, nil
	}

	if rec.Expired(nowMs) {
		return verdict{
			action: store.Delete,
			result: fail(ErrOTPExpired, "Verification code has expired, request a new one", nil),
			event:  audit.EventExpired,
		}, nil
	}

	if rec.Locked {
		if nowMs <= rec.LockedUntil {
			return verdict{
				action: store.Keep,
				result: fail(ErrOTPLocked, "Too many failed attempts, try again later", map[string]interface{}{
					"lockedUntil":      rec.LockedUntil,
					"remainingSeconds": remainingSeconds(rec.LockedUntil - nowMs),
				}),
				event: audit.EventVerifyFailed,
			}, nil
		}
		rec.Locked = false
		rec.LockedUntil = 0
		rec.Attempts = 0
	}

	rec.Attempts++

	ok, err := matches()
	if err != nil {
		return verdict{}, err
	}
	if ok {
		return verdict{
			action: store.Delete,
			result: succeed("Verification successful", nil),
			event:  audit.EventVerified,
		}, nil
	}

	if rec.Attempts >= policy.maxAttempts {
		rec.Attempts = policy.maxAttempts
		rec.Locked = true
		rec.LockedUntil = nowMs + policy.lockoutMs
		return verdict{
			action: store.Save,
			result: fail(ErrMaxAttemptsExceeded, "Too many failed attempts, verification is locked", map[string]interface{}{
				"lockedUntil":       rec.LockedUntil,
				"remainingAttempts": 0,
			}),
			event: audit.EventLocked,
		}, nil
	}

	return verdict{
		action: store.Save,
		result: fail(ErrInvalidOTP, "Invalid verification code", map[string]interface{}{
			"remainingAttempts": policy.maxAttempts - rec.Attempts,
		}),
		event: audit.EventVerifyFailed,
	}, nil
}

// remainingSeconds rounds a millisecond span up to whole seconds.
func remainingSeconds(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return (ms + 999) / 1000
}
