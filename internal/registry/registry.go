package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"attendance-bridge/internal/protocol"
	"attendance-bridge/internal/types"

	"github.com/codeGROOVE-dev/retry"
	"github.com/sirupsen/logrus"
)

// ErrDeviceUnreachable is returned when connect retries are exhausted.
var ErrDeviceUnreachable = errors.New("device unreachable")

// Key identifies one cached connection. The variant is part of the key
// so the same physical address under different transport assumptions
// never collides.
type Key struct {
	Host    string
	Port    int
	Variant types.TransportVariant
}

func keyFor(device types.Device) Key {
	return Key{Host: device.Host, Port: device.Port, Variant: device.Transport}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d/%s", k.Host, k.Port, k.Variant)
}

// Factory builds a protocol adapter for a device. Injectable for tests.
type Factory func(device types.Device, opts protocol.Options, logger *logrus.Logger) (protocol.Adapter, error)

// Registry owns all live device connections, keyed by
// (host, port, variant). Per-key operations are serialized because the
// underlying protocol sessions are not reentrant; distinct keys proceed
// concurrently.
type Registry struct {
	opts     protocol.Options
	attempts uint
	backoff  time.Duration
	logger   *logrus.Logger
	log      *logrus.Entry
	factory  Factory

	mu      sync.Mutex
	entries map[Key]*entry
}

type entry struct {
	mu      sync.Mutex
	adapter protocol.Adapter
}

// New creates a connection registry. backoff is the base delay; the
// wait before attempt n is n × backoff.
func New(opts protocol.Options, attempts int, backoff time.Duration, logger *logrus.Logger) *Registry {
	return &Registry{
		opts:     opts,
		attempts: uint(attempts),
		backoff:  backoff,
		logger:   logger,
		log:      logger.WithField("component", "registry"),
		factory:  protocol.New,
		entries:  make(map[Key]*entry),
	}
}

// SetFactory overrides adapter construction. Test hook.
func (r *Registry) SetFactory(f Factory) {
	r.factory = f
}

// Acquire returns a live adapter for the device, reusing the cached
// session when a cheap liveness probe succeeds and reconnecting
// otherwise. Connect retries use linearly increasing backoff; exhausted
// retries surface ErrDeviceUnreachable.
func (r *Registry) Acquire(ctx context.Context, device types.Device) (protocol.Adapter, error) {
	key := keyFor(device)

	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}
	r.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.adapter != nil {
		if r.probe(ctx, e.adapter) {
			return e.adapter, nil
		}
		r.log.WithField("key", key.String()).Info("Cached connection failed liveness probe, evicting")
		e.adapter.Disconnect()
		e.adapter = nil
	}

	adapter, err := r.factory(device, r.opts, r.logger)
	if err != nil {
		// Configuration errors are fatal to the operation, never retried.
		return nil, err
	}

	err = retry.Do(
		func() error { return adapter.Connect(ctx) },
		retry.Attempts(r.attempts),
		retry.Delay(r.backoff),
		retry.DelayType(linearDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			var ce *protocol.ConfigError
			return !errors.As(err, &ce)
		}),
	)
	if err != nil {
		var ce *protocol.ConfigError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrDeviceUnreachable, key.String(), r.attempts, err)
	}

	e.adapter = adapter
	r.log.WithField("key", key.String()).Debug("Device connection established")
	return adapter, nil
}

// linearDelay waits attempt × base delay between retries.
func linearDelay(n uint, _ error, config *retry.Config) time.Duration {
	return time.Duration(n+1) * retry.FixedDelay(0, nil, config)
}

// probe is the cheap liveness check used before reusing a cached
// session: the session must still be marked connected and answer an
// info query within the read timeout.
func (r *Registry) probe(ctx context.Context, adapter protocol.Adapter) bool {
	if !adapter.Connected() {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.opts.ReadTimeout)
	defer cancel()

	_, err := adapter.Info(probeCtx)
	return err == nil
}

// Evict forcibly disconnects and removes cached connections for an
// address. With no variants given every variant for the address is
// evicted; this is the required response to a device's network
// configuration changing.
func (r *Registry) Evict(host string, port int, variants ...types.TransportVariant) {
	r.mu.Lock()
	var victims []*entry
	var keys []Key
	for key, e := range r.entries {
		if key.Host != host || key.Port != port {
			continue
		}
		if len(variants) > 0 && !containsVariant(variants, key.Variant) {
			continue
		}
		victims = append(victims, e)
		keys = append(keys, key)
		delete(r.entries, key)
	}
	r.mu.Unlock()

	for i, e := range victims {
		e.mu.Lock()
		if e.adapter != nil {
			e.adapter.Disconnect()
			e.adapter = nil
		}
		e.mu.Unlock()
		r.log.WithField("key", keys[i].String()).Info("Connection evicted")
	}
}

// EvictAll disconnects every cached connection. Used at shutdown.
func (r *Registry) EvictAll() {
	r.mu.Lock()
	victims := make([]*entry, 0, len(r.entries))
	for key, e := range r.entries {
		victims = append(victims, e)
		delete(r.entries, key)
	}
	r.mu.Unlock()

	for _, e := range victims {
		e.mu.Lock()
		if e.adapter != nil {
			e.adapter.Disconnect()
			e.adapter = nil
		}
		e.mu.Unlock()
	}

	r.log.Info("All device connections evicted")
}

// Size returns the number of cached connections.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.entries {
		e.mu.Lock()
		if e.adapter != nil {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

func containsVariant(variants []types.TransportVariant, v types.TransportVariant) bool {
	for _, candidate := range variants {
		if candidate == v {
			return true
		}
	}
	return false
}
