package service

import (
	"errors"
	"fmt"

	"github.com/JimiYounger/connect-sub001/internal/client"
)

var (
	ErrEmptyContent       = errors.New("content is empty")
	ErrRecipientNotFound  = errors.New("recipient not found")
	ErrRecipientOptedOut  = errors.New("recipient has opted out")
	ErrMissingPhoneNumber = errors.New("recipient has no phone number")
	ErrContentOverLimit   = errors.New("content exceeds the maximum message length")
	ErrNoRecipients       = errors.New("no recipients")

	ErrMessageNotFound = errors.New("message not found")
	ErrNotRetryable    = errors.New("only failed outbound messages can be retried")
	ErrUnknownStatus   = errors.New("unknown carrier status")
	ErrInvalidCallback = errors.New("invalid carrier callback")
	ErrTransitionRace  = errors.New("status changed concurrently")
	ErrUnknownSender   = errors.New("no profile matches the sender phone")
	ErrNoConversation  = errors.New("no outbound conversation with sender")
)

// GatewayError is a failed carrier submission. The message record exists
// and has been marked failed.
type GatewayError struct {
	Timeout bool
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("carrier did not respond in time: %v", e.Err)
	}
	return fmt.Sprintf("carrier submission failed: %v", e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// errorCode is what gets stored in messages.error_code for a gateway failure.
func (e *GatewayError) errorCode() string {
	if e.Timeout {
		return "timeout"
	}
	var ce *client.CarrierError
	if errors.As(e.Err, &ce) && ce.Code != "" {
		return ce.Code
	}
	return "gateway_error"
}
