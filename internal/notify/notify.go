// Package notify delivers out-of-band notifications for operation
// outcomes and critical alerts.
package notify

import (
	"errors"

	"github.com/glosshq/glossgen/internal/domain"
)

// Kind classifies a notification for rendering
type Kind int

const (
	KindInfo Kind = iota
	KindSuccess
	KindWarning
	KindError
)

// Notification carries an operation outcome in structured form so each
// notifier can lay the numbers out natively instead of reparsing a
// pre-formatted string
type Notification struct {
	Kind        Kind
	Title       string
	Body        string
	OperationID string
	Section     string
	Status      domain.OperationStatus
	Processed   int
	Failed      int
	Skipped     int
	CostUSD     float64
}

// Notifier delivers notifications to one destination
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier fans a notification out to several destinations,
// reporting every delivery failure
type MultiNotifier struct {
	targets []Notifier
}

func NewMultiNotifier(targets ...Notifier) *MultiNotifier {
	return &MultiNotifier{targets: targets}
}

func (m *MultiNotifier) Send(n Notification) error {
	var errs []error
	for _, target := range m.targets {
		if err := target.Send(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier swallows notifications when delivery is disabled
type NoopNotifier struct{}

func (NoopNotifier) Send(Notification) error { return nil }
