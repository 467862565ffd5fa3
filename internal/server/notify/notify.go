// Package notify delivers device verification codes.
package notify

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vonjiaina/pharmauth/internal/logging"
)

// Notifier sends a verification code to destination.
type Notifier interface {
	SendCode(ctx context.Context, destination, code string) error
}

// LogNotifier is the development channel: it writes the code to the server
// log instead of sending it anywhere.
type LogNotifier struct {
	log logging.Logger
}

func NewLogNotifier(log logging.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendCode(ctx context.Context, destination, code string) error {
	n.log.Warn(ctx, "verification code (log delivery, development only)", "destination", destination, "code", code)
	return nil
}

// Counting counts deliveries of the wrapped notifier by result label
// ("ok" or "error").
type Counting struct {
	next    Notifier
	results *prometheus.CounterVec
}

func NewCounting(next Notifier, results *prometheus.CounterVec) *Counting {
	return &Counting{next: next, results: results}
}

func (c *Counting) SendCode(ctx context.Context, destination, code string) error {
	err := c.next.SendCode(ctx, destination, code)
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.results.WithLabelValues(result).Inc()
	return err
}
