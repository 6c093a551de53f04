package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streadway/amqp"

	"courier/internal/notifications/core"
)

// fakeAcknowledger records Ack/Nack calls by delivery tag.
type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    []uint64
	nacks   []uint64
	requeue []bool
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks = append(f.nacks, tag)
	f.requeue = append(f.requeue, requeue)
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func (f *fakeAcknowledger) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acks), len(f.nacks)
}

// fakeConsumerChannel serves deliveries from a test-controlled channel.
type fakeConsumerChannel struct {
	deliveries chan amqp.Delivery
	prefetch   int
	declared   []string
	durable    bool
	canceled   atomic.Bool
	consumeErr error
}

func (f *fakeConsumerChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.declared = append(f.declared, name)
	f.durable = durable
	return amqp.Queue{Name: name}, nil
}

func (f *fakeConsumerChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.prefetch = prefetchCount
	return nil
}

func (f *fakeConsumerChannel) Consume(_, _ string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	if autoAck {
		return nil, errors.New("autoAck must be disabled")
	}
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	return f.deliveries, nil
}

func (f *fakeConsumerChannel) Cancel(_ string, _ bool) error {
	f.canceled.Store(true)
	return nil
}

// handlerFunc adapts a function to Handler.
type handlerFunc func(ctx context.Context, body []byte) (core.Outcome, error)

func (h handlerFunc) Handle(ctx context.Context, body []byte) (core.Outcome, error) {
	return h(ctx, body)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestConsumer(ch *fakeConsumerChannel, h Handler, drain time.Duration) *Consumer {
	return NewConsumer(ch, h, ConsumerConfig{
		Queue:        "email.queue",
		Tag:          "test",
		Prefetch:     10,
		DrainTimeout: drain,
		Logger:       discardLogger(),
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConsumer_AckAndRequeue(t *testing.T) {
	ch := &fakeConsumerChannel{deliveries: make(chan amqp.Delivery, 2)}
	ack := &fakeAcknowledger{}
	h := handlerFunc(func(_ context.Context, body []byte) (core.Outcome, error) {
		if string(body) == "fail" {
			return core.OutcomeRenderFailed, errors.New("template service down")
		}
		return core.OutcomeDelivered, nil
	})

	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("ok")}
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("fail")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newTestConsumer(ch, h, time.Second).Run(ctx) }()

	waitFor(t, func() bool { a, n := ack.counts(); return a+n == 2 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ack.acks) != 1 || ack.acks[0] != 1 {
		t.Errorf("expected tag 1 acked, got %v", ack.acks)
	}
	if len(ack.nacks) != 1 || ack.nacks[0] != 2 || !ack.requeue[0] {
		t.Errorf("expected tag 2 nacked with requeue, got %v %v", ack.nacks, ack.requeue)
	}
	if ch.prefetch != 10 {
		t.Errorf("expected prefetch 10, got %d", ch.prefetch)
	}
	if len(ch.declared) != 1 || ch.declared[0] != "email.queue" || !ch.durable {
		t.Errorf("expected durable email.queue declared, got %v durable=%v", ch.declared, ch.durable)
	}
	if !ch.canceled.Load() {
		t.Error("expected consumer subscription to be canceled on shutdown")
	}
}

func TestConsumer_BoundsInFlight(t *testing.T) {
	ch := &fakeConsumerChannel{deliveries: make(chan amqp.Delivery, 15)}
	ack := &fakeAcknowledger{}

	var active, peak atomic.Int32
	release := make(chan struct{})
	h := handlerFunc(func(_ context.Context, _ []byte) (core.Outcome, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		return core.OutcomeDelivered, nil
	})

	for i := 1; i <= 15; i++ {
		ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: uint64(i)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newTestConsumer(ch, h, time.Second).Run(ctx) }()

	waitFor(t, func() bool { return active.Load() == 10 })
	time.Sleep(20 * time.Millisecond)
	if got := active.Load(); got != 10 {
		t.Fatalf("expected 10 in-flight handlers, got %d", got)
	}

	close(release)
	waitFor(t, func() bool { a, _ := ack.counts(); return a == 15 })
	cancel()
	<-done

	if p := peak.Load(); p > 10 {
		t.Errorf("in-flight handlers exceeded prefetch: %d", p)
	}
}

func TestConsumer_DrainWaitsForInFlight(t *testing.T) {
	ch := &fakeConsumerChannel{deliveries: make(chan amqp.Delivery, 1)}
	ack := &fakeAcknowledger{}
	started := make(chan struct{})
	var finished atomic.Bool

	h := handlerFunc(func(ctx context.Context, _ []byte) (core.Outcome, error) {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return core.OutcomeDelivered, ctx.Err()
	})
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 7}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newTestConsumer(ch, h, time.Second).Run(ctx) }()

	<-started
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !finished.Load() {
		t.Fatal("Run returned before the in-flight handler finished")
	}
	if a, _ := ack.counts(); a != 1 {
		t.Errorf("handler context must survive shutdown within the drain window, acks=%d", a)
	}
}

func TestConsumer_DrainTimeoutCancelsHandlers(t *testing.T) {
	ch := &fakeConsumerChannel{deliveries: make(chan amqp.Delivery, 1)}
	ack := &fakeAcknowledger{}
	started := make(chan struct{})

	h := handlerFunc(func(ctx context.Context, _ []byte) (core.Outcome, error) {
		close(started)
		<-ctx.Done()
		return core.OutcomeFailed, ctx.Err()
	})
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newTestConsumer(ch, h, 10*time.Millisecond).Run(ctx) }()

	<-started
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the drain timeout")
	}
	if _, n := ack.counts(); n != 1 {
		t.Errorf("interrupted message should be requeued, nacks=%d", n)
	}
}

func TestConsumer_DeliveriesClosed(t *testing.T) {
	ch := &fakeConsumerChannel{deliveries: make(chan amqp.Delivery)}
	close(ch.deliveries)

	h := handlerFunc(func(context.Context, []byte) (core.Outcome, error) { return core.OutcomeDelivered, nil })
	err := newTestConsumer(ch, h, time.Second).Run(context.Background())
	if !errors.Is(err, ErrDeliveriesClosed) {
		t.Fatalf("expected ErrDeliveriesClosed, got %v", err)
	}
}

func TestConsumer_ConsumeError(t *testing.T) {
	ch := &fakeConsumerChannel{consumeErr: errors.New("access refused")}
	h := handlerFunc(func(context.Context, []byte) (core.Outcome, error) { return "", nil })

	if err := newTestConsumer(ch, h, time.Second).Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
