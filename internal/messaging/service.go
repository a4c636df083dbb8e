// Package messaging provides the outbound channels used to deliver a
// finished reflection summary: transactional email via ZeptoMail and
// WhatsApp via either Twilio or a linked device.
package messaging

import (
	"context"
	"fmt"
	"regexp"
)

// Content is one deliverable message. Subject is ignored by channels
// that have no subject line.
type Content struct {
	SenderName   string
	ReceiverName string
	Subject      string
	Body         string
}

// Sender delivers content to a single recipient address. The recipient
// format is channel-specific: an email address or a phone number.
type Sender interface {
	Send(ctx context.Context, recipient string, content Content) error
}

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// CanonicalizePhone strips all non-numeric characters from a phone number
// and validates the result has at least 6 digits.
func CanonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}

	return canonical, nil
}
