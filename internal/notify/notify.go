// Package notify delivers best-effort notifications. Delivery never blocks
// or fails the operation that triggered it.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-inoperability/internal/metrics"
)

// Message is one notification addressed to a single recipient.
type Message struct {
	ID       string            `json:"message_id"`
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

// Sender delivers a message over some channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	Log logrus.FieldLogger
}

// Send logs msg at info level.
func (s LogSender) Send(_ context.Context, msg Message) error {
	s.Log.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"to":         msg.To,
		"subject":    msg.Subject,
	}).Info("notification")
	return nil
}

// Dispatcher fans messages out to a Sender in the background.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// NewDispatcher returns a Dispatcher bounding each send by timeout.
func NewDispatcher(sender Sender, timeout time.Duration, log logrus.FieldLogger, m *metrics.Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{sender: sender, timeout: timeout, log: log, metrics: m}
}

// Dispatch starts delivery of msgs and returns immediately. The sends keep
// the values of ctx but not its cancellation, so they outlive the request
// that triggered them. Failures are logged and counted, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs ...Message) {
	if d == nil || len(msgs) == 0 {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.SentAt.IsZero() {
			msg.SentAt = time.Now().UTC()
		}
		d.wg.Add(1)
		go d.send(base, msg)
	}
}

// DispatchFunc runs build in the background and dispatches the messages it
// returns. Use it when finding the recipients needs store lookups that must
// not delay the caller.
func (d *Dispatcher) DispatchFunc(ctx context.Context, build func(ctx context.Context) ([]Message, error)) {
	if d == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		bctx, cancel := context.WithTimeout(base, d.timeout)
		msgs, err := build(bctx)
		cancel()
		if err != nil {
			d.log.WithError(err).Warn("failed to resolve notification recipients")
			d.metrics.Notification("failed")
		}
		d.Dispatch(base, msgs...)
	}()
}

func (d *Dispatcher) send(ctx context.Context, msg Message) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{"message_id": msg.ID, "panic": r}).Error("notification sender panicked")
			d.metrics.Notification("failed")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.sender.Send(ctx, msg); err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{
			"message_id": msg.ID,
			"to":         msg.To,
		}).Warn("failed to deliver notification")
		d.metrics.Notification("failed")
		return
	}
	d.metrics.Notification("sent")
}

// Wait blocks until every dispatched send has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
