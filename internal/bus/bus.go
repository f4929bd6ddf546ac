package bus

import (
	"context"
	"log/slog"
	"sync"
)

// Handler processes one decoded task. It is invoked off the I/O loop
// goroutine so a slow task never blocks message receipt or
// acknowledgement, per spec §5: "the bus delivery callback must not
// block the bus I/O loop."
type Handler func(ctx context.Context, env TaskEnvelope) error

// Ack is the callback a delivery's outcome is reported through. For a
// dispatched envelope it is called on the handler's goroutine once the
// handler returns; for a rejected envelope it is called on the I/O loop
// goroutine. Acks are not routed back onto the I/O loop.
type Ack func(err error)

// delivery pairs a raw message with its ack callback.
type delivery struct {
	raw []byte
	ack Ack
}

// Bus is an in-process reference implementation of the durable
// topic/queue spec §6 describes, with a dead-letter sink for messages
// that fail schema validation or are explicitly rejected. No broker
// client library appears anywhere in the example corpus to ground a
// real AMQP/Kafka/NATS binding on, so this channel-based loop — the
// same split the teacher's own worker pools use between an I/O
// goroutine and a bounded CPU pool — stands in for the production
// transport (DESIGN.md).
type Bus struct {
	logger *slog.Logger

	deliveries chan delivery
	dlq        chan DeadLetter

	wg sync.WaitGroup
}

// DeadLetter is a message that was rejected without requeue.
type DeadLetter struct {
	Raw []byte
	Err error
}

// New constructs a bus with the given in-flight buffer size.
func New(logger *slog.Logger, buffer int) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bus{
		logger:     logger,
		deliveries: make(chan delivery, buffer),
		dlq:        make(chan DeadLetter, buffer),
	}
}

// Publish enqueues a raw message for delivery. ack is invoked exactly
// once: from the I/O loop when the envelope is rejected, or from the
// handler goroutine once handler has run to completion.
func (b *Bus) Publish(raw []byte, ack Ack) {
	if ack == nil {
		ack = func(error) {}
	}

	b.deliveries <- delivery{raw: raw, ack: ack}
}

// DeadLetters exposes the dead-letter channel for a consumer to drain.
func (b *Bus) DeadLetters() <-chan DeadLetter {
	return b.dlq
}

// Run is the I/O loop: it decodes and validates each delivery, and for
// valid envelopes dispatches handler on a separate goroutine so the
// loop can keep receiving while tasks run (spec §5); that goroutine,
// not the loop, acknowledges the envelope. Run blocks until ctx is
// cancelled.
func (b *Bus) Run(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			b.wg.Wait()

			return
		case d := <-b.deliveries:
			b.dispatch(ctx, d, handler)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, d delivery, handler Handler) {
	env, err := Decode(d.raw)
	if err != nil {
		b.logger.Warn("bus: rejecting malformed envelope", "error", err)
		b.dlq <- DeadLetter{Raw: d.raw, Err: err}
		d.ack(err)

		return
	}

	b.wg.Add(1)

	go func() {
		defer b.wg.Done()

		err := handler(ctx, env)
		if err != nil {
			b.logger.Error("bus: task handler failed", "task_id", env.TaskID, "error", err)
		}

		d.ack(err)
	}()
}
