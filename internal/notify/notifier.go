package notify

import (
	"context"
	"log"

	"go.uber.org/atomic"
)

// Notifier is the external push/SMS collaborator. Delivery is best-effort
// and asynchronous: callers must never block state progress on it, and
// failures are logged, not returned to the triggering operation.
type Notifier interface {
	NotifyUser(ctx context.Context, userID, event string, payload interface{})
	NotifyContacts(ctx context.Context, numbers []string, message string)
	NotifyBroadcast(ctx context.Context, role, event string, payload interface{})
}

// LogNotifier stands in for the real push/SMS gateway; transport mechanics
// live outside this core. Dispatch happens on a separate goroutine so a slow
// gateway cannot stall a transition.
type LogNotifier struct {
	sent atomic.Int64
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) NotifyUser(ctx context.Context, userID, event string, payload interface{}) {
	go func() {
		n.sent.Inc()
		log.Printf("notify: user=%s event=%s", userID, event)
	}()
}

func (n *LogNotifier) NotifyContacts(ctx context.Context, numbers []string, message string) {
	go func() {
		n.sent.Inc()
		log.Printf("notify: contacts=%d message=%q", len(numbers), message)
	}()
}

func (n *LogNotifier) NotifyBroadcast(ctx context.Context, role, event string, payload interface{}) {
	go func() {
		n.sent.Inc()
		log.Printf("notify: broadcast role=%s event=%s", role, event)
	}()
}

// Sent returns the number of dispatched notifications; useful in tests.
func (n *LogNotifier) Sent() int64 {
	return n.sent.Load()
}
