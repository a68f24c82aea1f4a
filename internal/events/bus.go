package events

import (
	"sync"
	"time"

	"attendance-bridge/internal/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Bus multiplexes engine events to any number of subscribers. Each
// subscriber has a bounded buffer; a full buffer drops the event with a
// warning rather than blocking the producer. Delivery is at-least-once
// across the system: clients replay missed records from the persisted
// ledger.
type Bus struct {
	log        *logrus.Entry
	bufferSize int

	mu     sync.Mutex
	subs   map[int]*Subscriber
	nextID int
	closed bool
}

// Subscriber is one registered event consumer.
type Subscriber struct {
	id       int
	deviceID string // empty means all devices
	ch       chan types.Event
	bus      *Bus
	once     sync.Once
}

// New creates an event bus with the given per-subscriber buffer size.
func New(bufferSize int, logger *logrus.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		log:        logger.WithField("component", "events"),
		bufferSize: bufferSize,
		subs:       make(map[int]*Subscriber),
	}
}

// Subscribe registers interest in one device's events, or all devices
// when deviceID is empty.
func (b *Bus) Subscribe(deviceID string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscriber{
		id:       b.nextID,
		deviceID: deviceID,
		ch:       make(chan types.Event, b.bufferSize),
		bus:      b,
	}
	if !b.closed {
		b.subs[sub.id] = sub
	} else {
		close(sub.ch)
	}

	return sub
}

// Events returns the subscriber's receive channel. It is closed when the
// subscription or the bus is closed.
func (s *Subscriber) Events() <-chan types.Event {
	return s.ch
}

// Close synchronously unregisters the subscriber and closes its channel.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if _, ok := s.bus.subs[s.id]; ok {
			delete(s.bus.subs, s.id)
			close(s.ch)
		}
		s.bus.mu.Unlock()
	})
}

// Publish delivers the event to every matching subscriber. Missing id
// and timestamp fields are filled in.
func (b *Bus) Publish(event types.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if sub.deviceID != "" && event.DeviceID != "" && sub.deviceID != event.DeviceID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.log.WithFields(logrus.Fields{
				"event_type": event.Type,
				"device_id":  event.DeviceID,
			}).Warn("Subscriber buffer full, dropping event")
		}
	}
}

// PublishAttendance emits one attendance event carrying a batch of
// freshly persisted records.
func (b *Bus) PublishAttendance(deviceID string, records []types.AttendanceRecord) {
	if len(records) == 0 {
		return
	}
	b.Publish(types.Event{
		Type:     types.EventAttendance,
		DeviceID: deviceID,
		Records:  records,
	})
}

// PublishConnected emits a device-connected notification.
func (b *Bus) PublishConnected(deviceID, message string) {
	b.Publish(types.Event{Type: types.EventConnected, DeviceID: deviceID, Message: message})
}

// PublishError emits a device-error notification.
func (b *Bus) PublishError(deviceID, message string) {
	b.Publish(types.Event{Type: types.EventError, DeviceID: deviceID, Message: message})
}

// PublishWarning emits a warning notification.
func (b *Bus) PublishWarning(deviceID, message string) {
	b.Publish(types.Event{Type: types.EventWarning, DeviceID: deviceID, Message: message})
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
