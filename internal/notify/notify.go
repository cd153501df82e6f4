// Package notify delivers operator notifications: approval requests with approve/reject
// links and failure notices.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
)

// Action is a link button attached to a notification
type Action struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Notifier sends operator notifications
type Notifier interface {
	Send(ctx context.Context, text string) error
	SendWithActions(ctx context.Context, text string, actions []Action) error
}

// Nop discards every notification. Used when no channel is configured.
type Nop struct{}

// Send implements Notifier
func (Nop) Send(context.Context, string) error { return nil }

// SendWithActions implements Notifier
func (Nop) SendWithActions(context.Context, string, []Action) error { return nil }

// ApprovalText renders the approval request for a selected post
func ApprovalText(goal, body string, score int) string {
	var b strings.Builder
	b.WriteString("<b>New post awaiting approval</b>\n\n")
	fmt.Fprintf(&b, "<b>Goal:</b> %s\n", html.EscapeString(goal))
	fmt.Fprintf(&b, "<b>Viral score:</b> %d/100\n\n", score)
	b.WriteString(html.EscapeString(body))
	return b.String()
}

// FailureText renders the notice for a job whose drafts all missed the threshold
func FailureText(goal string, topScore, threshold int) string {
	return fmt.Sprintf("<b>No post qualified</b>\n\n<b>Goal:</b> %s\nBest score %d is below %d. The job was marked failed.",
		html.EscapeString(goal), topScore, threshold)
}
