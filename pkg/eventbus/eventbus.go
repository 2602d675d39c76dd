// Package eventbus routes in-process events to subscribers by topic.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nzwater/compliance-core/pkg/serrors"
)

// Handler receives a published payload. Returned errors are joined and handed back to the publisher.
type Handler func(ctx context.Context, payload []byte) error

type EventBus interface {
	Subscribe(topic string, handler Handler) (unsubscribe func())
	Publish(ctx context.Context, topic string, payload []byte) error
	SubscribersCount(topic string) int
	Clear()
}

var ErrNoSubscribers = serrors.NewError("EVENTBUS_NO_SUBSCRIBERS", "no matching subscribers", "")

type subscription struct {
	id      uint64
	handler Handler
}

type bus struct {
	log logrus.FieldLogger

	mu     sync.RWMutex
	nextID uint64
	topics map[string][]subscription
}

func New(log logrus.FieldLogger) EventBus {
	return &bus{log: log, topics: map[string][]subscription{}}
}

func (b *bus) Subscribe(topic string, handler Handler) func() {
	if handler == nil {
		panic("eventbus: handler must not be nil")
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.topics[topic]
		for i, s := range subs {
			if s.id == id {
				b.topics[topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish calls every subscriber of topic in subscription order. A panicking handler is reported as an error
// and does not stop the remaining handlers.
func (b *bus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	subs := append([]subscription(nil), b.topics[topic]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		if b.log != nil {
			b.log.WithField("topic", topic).Debug("eventbus: no subscribers")
		}
		return fmt.Errorf("%w: %s", ErrNoSubscribers, topic)
	}

	var errs []error
	for _, s := range subs {
		if err := b.call(ctx, topic, s.handler, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *bus) call(ctx context.Context, topic string, h Handler, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eventbus: handler for %s panicked: %v", topic, r)
			if b.log != nil {
				b.log.WithField("topic", topic).Error(err)
			}
		}
	}()
	return h(ctx, payload)
}

func (b *bus) SubscribersCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *bus) Clear() {
	b.mu.Lock()
	b.topics = map[string][]subscription{}
	b.mu.Unlock()
}
