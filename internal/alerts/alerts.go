package alerts

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Notifier delivers operator alerts. Delivery is best effort: a failed
// alert is logged and never blocks trading decisions.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

type noop struct{}

func (noop) Send(context.Context, string) error { return nil }

func NewNoop() Notifier { return noop{} }

// Critical sends a message that demands operator attention, prefixed so
// chat clients can key notification rules on it.
func Critical(ctx context.Context, n Notifier, log *zap.Logger, format string, args ...any) {
	msg := "CRITICAL: " + fmt.Sprintf(format, args...)
	if err := n.Send(ctx, msg); err != nil {
		log.Error("alert delivery failed", zap.String("message", msg), zap.Error(err))
	}
}
