// Package notifier pushes decision summaries to human recipients.
package notifier

import "context"

// TextNotifier sends one pre-rendered message.
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}
