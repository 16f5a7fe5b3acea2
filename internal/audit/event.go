// Package audit publishes OTP lifecycle events to analytics sinks. Events
// never carry a code or a raw phone number.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"otp-service/internal/util"
)

type EventType string

const (
	EventSent         EventType = "otp_sent"
	EventSendFailed   EventType = "otp_send_failed"
	EventVerified     EventType = "otp_verified"
	EventVerifyFailed EventType = "otp_verify_failed"
	EventLocked       EventType = "otp_locked"
	EventCancelled    EventType = "otp_cancelled"
	EventExpired      EventType = "otp_expired"
)

type Event struct {
	ID          uuid.UUID `json:"id"`
	Type        EventType `json:"type"`
	Provider    string    `json:"provider"`
	Purpose     string    `json:"purpose"`
	PhoneHash   string    `json:"phone_hash"`
	PhoneMasked string    `json:"phone_masked"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewEvent derives the privacy-safe phone fields from a normalized phone.
func NewEvent(eventType EventType, provider, purpose, phone, errorKind string) Event {
	return Event{
		Type:        eventType,
		Provider:    provider,
		Purpose:     purpose,
		PhoneHash:   HashPhone(phone),
		PhoneMasked: util.MaskPhone(phone),
		ErrorKind:   errorKind,
	}
}

func HashPhone(phone string) string {
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:])
}
