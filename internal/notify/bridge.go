package notify

import (
	"fmt"
	"log"

	"github.com/glosshq/glossgen/internal/domain"
	"github.com/glosshq/glossgen/internal/events"
	"github.com/glosshq/glossgen/internal/registry"
)

// Bridge turns bus events into notifications, honoring each request's
// notification preferences
type Bridge struct {
	registry *registry.Registry
	notifier Notifier
}

// NewBridge creates a Bridge sending through the given notifier
func NewBridge(reg *registry.Registry, notifier Notifier) *Bridge {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Bridge{registry: reg, notifier: notifier}
}

// Listen subscribes to the bus and dispatches notifications until the
// returned stop function is called
func (b *Bridge) Listen(bus *events.Bus) (stop func()) {
	ch, cancel := bus.Subscribe(64)
	go func() {
		for ev := range ch {
			b.handle(ev)
		}
	}()
	return cancel
}

func (b *Bridge) handle(ev events.Event) {
	switch ev.Type {
	case domain.EventOperationCompleted:
		b.outcome(ev, KindSuccess, func(prefs domain.NotifyOptions) bool { return prefs.OnComplete })
	case domain.EventOperationFailed:
		b.outcome(ev, KindError, func(prefs domain.NotifyOptions) bool { return prefs.OnError })
	case domain.EventAlertTriggered, domain.EventCostWarning, domain.EventOperationStalled:
		if ev.Alert != nil && ev.Alert.Severity == domain.SeverityCritical {
			b.send(ev.OperationID, Notification{
				Kind:        KindError,
				Title:       fmt.Sprintf("critical %s alert", ev.Alert.Type),
				Body:        ev.Alert.Message,
				OperationID: ev.OperationID,
			})
		}
	}
}

func (b *Bridge) outcome(ev events.Event, kind Kind, wanted func(domain.NotifyOptions) bool) {
	op, err := b.registry.Get(ev.OperationID)
	if err != nil {
		return
	}
	if !wanted(op.Request.Notify) {
		return
	}

	n := Notification{
		Kind:        kind,
		Title:       fmt.Sprintf("operation %s %s", ev.OperationID, op.Status),
		OperationID: ev.OperationID,
		Section:     op.Request.Section,
		Status:      op.Status,
		Processed:   op.Progress.ProcessedTerms,
		Failed:      op.Progress.FailedTerms,
		Skipped:     op.Progress.SkippedTerms,
		CostUSD:     op.Costs.Actual,
	}
	if op.Result != nil {
		n.Body = op.Result.Message
	}
	b.send(ev.OperationID, n)
}

// send delivers through the bridge notifier plus the request's own
// webhook when one is configured
func (b *Bridge) send(opID string, n Notification) {
	if err := b.notifier.Send(n); err != nil {
		log.Printf("notify: sending for %s: %v", opID, err)
	}
	if op, err := b.registry.Get(opID); err == nil && op.Request.Notify.Webhook != "" {
		if err := NewSlackNotifier(op.Request.Notify.Webhook).Send(n); err != nil {
			log.Printf("notify: request webhook for %s: %v", opID, err)
		}
	}
}
