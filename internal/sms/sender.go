// Package sms delivers rendered OTP messages to a phone through an external
// SMS gateway.
package sms

import (
	"context"
	"errors"
	"fmt"
)

const (
	TransportNetgsm = "netgsm"
	TransportSNS    = "sns"
)

var (
	ErrMissingCredentials = errors.New("sms credentials are not configured")
	ErrUnknownTransport   = errors.New("unknown sms transport")
)

// Sender dispatches one message. phoneDigits is the E.164 number without the
// leading "+". On success the gateway's response (usually a message id) is
// returned.
type Sender interface {
	Name() string
	Send(ctx context.Context, phoneDigits, message string) (string, error)
	// Validate checks configuration only; it never touches the network.
	Validate() error
}

// GatewayError is a rejection reported by the gateway itself, as opposed to
// a transport failure.
type GatewayError struct {
	Gateway     string
	Code        string
	Description string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s rejected message (code %s): %s", e.Gateway, e.Code, e.Description)
}
