package notify

import (
	"context"

	"go.uber.org/zap"
)

type Severity string

const (
	Info    Severity = "info"
	Warning Severity = "warning"
	Error   Severity = "error"
)

// Notifier delivers human-facing messages: trade outcomes, risk
// warnings, fatal conditions. Delivery is best-effort from the engine's
// point of view.
type Notifier interface {
	Notify(ctx context.Context, sev Severity, msg string) error
}

// LogNotifier writes notifications to the structured log. Default sink
// when no chat transport is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, sev Severity, msg string) error {
	switch sev {
	case Error:
		n.log.Error(msg)
	case Warning:
		n.log.Warn(msg)
	default:
		n.log.Info(msg)
	}
	return nil
}

// Multi fans one notification out to several sinks; the first failure
// is returned but every sink is tried.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, sev Severity, msg string) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, sev, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}
