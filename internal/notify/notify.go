package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Submission is the summary sent when a form is first submitted.
type Submission struct {
	FormID      string
	FormType    string
	FormTitle   string
	FirmID      string
	SubmittedBy string
	Email       string
	SubmittedAt time.Time
}

// Notifier announces intake events to staff. Delivery is best effort.
type Notifier interface {
	SubmissionReceived(ctx context.Context, s Submission) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) SubmissionReceived(context.Context, Submission) error { return nil }

func subject(s Submission) string {
	title := s.FormTitle
	if title == "" {
		title = s.FormType
	}
	return fmt.Sprintf("New %s submission %s", title, s.FormID)
}

func textBody(s Submission) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A new intake form was submitted.\n\n")
	fmt.Fprintf(&b, "Form:         %s\n", s.FormType)
	fmt.Fprintf(&b, "Form ID:      %s\n", s.FormID)
	if s.FirmID != "" {
		fmt.Fprintf(&b, "Firm:         %s\n", s.FirmID)
	}
	fmt.Fprintf(&b, "Submitted by: %s", s.SubmittedBy)
	if s.Email != "" {
		fmt.Fprintf(&b, " <%s>", s.Email)
	}
	fmt.Fprintf(&b, "\nSubmitted at: %s\n", s.SubmittedAt.UTC().Format(time.RFC3339))
	return b.String()
}
