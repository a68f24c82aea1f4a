package monitor

import (
	"context"
	"time"

	"attendance-bridge/internal/normalize"
	"attendance-bridge/internal/protocol"
	"attendance-bridge/internal/types"

	"github.com/sirupsen/logrus"
)

// deviceStrategy is one way of detecting new records on a device. The
// coordinator owns the schedule; the strategy owns detection and
// persistence within a cycle.
type deviceStrategy interface {
	name() string
	run(ctx context.Context, sess *session)
}

func (s *session) touch() {
	s.mu.Lock()
	s.state.Status = types.MonitorActive
	s.state.LastError = ""
	s.state.LastPoll = time.Now().UTC()
	s.mu.Unlock()
}

// countDeltaStrategy polls the terminal's record counter and, when it
// grows, fetches and persists exactly the newest delta.
type countDeltaStrategy struct {
	c        *Coordinator
	baseline int
}

func (s *countDeltaStrategy) name() string { return StrategyCountDelta }

func (s *countDeltaStrategy) run(ctx context.Context, sess *session) {
	log := s.c.log.WithField("device_id", sess.device.ID)
	s.baseline = -1

	// The first cycle only establishes the baseline, so starting a
	// monitor never replays the device's full history.
	s.cycle(ctx, sess, log)

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.c.Settings().PollInterval):
			s.cycle(ctx, sess, log)
		}
	}
}

// cycle runs one poll with the single in-cycle retry: on failure it
// evicts the cached connection, waits briefly, and tries once more.
// A still-failing cycle marks the device offline and emits a device
// error, but never cancels the schedule — the next cycle is the
// recovery mechanism.
func (s *countDeltaStrategy) cycle(ctx context.Context, sess *session, log *logrus.Entry) {
	err := s.poll(ctx, sess, log)
	if err == nil {
		return
	}

	log.WithError(err).Debug("Poll failed, evicting connection and retrying")
	s.c.conns.Evict(sess.device.Host, sess.device.Port)
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.c.Settings().RetryWait):
	}

	if err = s.poll(ctx, sess, log); err == nil {
		return
	}

	s.c.markOffline(sess.device.ID)
	s.c.bus.PublishError(sess.device.ID, err.Error())
	sess.setStatus(types.MonitorError, err.Error())
	log.WithError(err).Warn("Poll failed after retry, device marked offline")
}

func (s *countDeltaStrategy) poll(ctx context.Context, sess *session, log *logrus.Entry) error {
	adapter, err := s.c.conns.Acquire(ctx, sess.device)
	if err != nil {
		return err
	}

	info, err := adapter.Info(ctx)
	if err != nil {
		return err
	}
	count := info.RecordCount

	switch {
	case s.baseline < 0:
		log.WithField("baseline", count).Info("Monitoring baseline established")
	case count > s.baseline:
		raws, err := adapter.Records(ctx)
		if err != nil {
			return err
		}
		n := count - s.baseline
		if n > len(raws) {
			n = len(raws)
		}
		if err := s.c.persistBatch(sess.device, raws[len(raws)-n:], log); err != nil {
			return err
		}
	case count < s.baseline:
		// Device log was cleared; rebase rather than treating the
		// shrink as an error.
		log.WithFields(logrus.Fields{"old": s.baseline, "new": count}).Warn("Device record count shrank, rebasing")
	}

	s.baseline = count
	s.c.markOnline(sess.device.ID)
	sess.markPolled(count)
	return nil
}

// pushStrategy opens a live subscription and persists records as the
// terminal pushes them. The poll interval doubles as a liveness check
// on the underlying session.
type pushStrategy struct {
	c *Coordinator
}

func (s *pushStrategy) name() string { return StrategyPush }

func (s *pushStrategy) run(ctx context.Context, sess *session) {
	log := s.c.log.WithField("device_id", sess.device.ID)

	var adapter protocol.Adapter
	var sub protocol.Subscription

	open := func() error {
		var err error
		adapter, err = s.c.conns.Acquire(ctx, sess.device)
		if err != nil {
			return err
		}
		if !adapter.Capabilities().LiveSubscription {
			return &protocol.ProtocolError{Op: "subscribe", Reason: "transport does not support live push"}
		}
		sub, err = adapter.SubscribeLive(ctx, s.onRecord(sess, log))
		if err != nil {
			return err
		}
		s.c.markOnline(sess.device.ID)
		sess.touch()
		log.Info("Live subscription established")
		return nil
	}

	reopen := func() {
		if sub != nil {
			sub.Close()
			sub = nil
		}
		s.c.conns.Evict(sess.device.Host, sess.device.Port)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.c.Settings().RetryWait):
		}
		if err := open(); err != nil {
			s.c.markOffline(sess.device.ID)
			s.c.bus.PublishError(sess.device.ID, err.Error())
			sess.setStatus(types.MonitorError, err.Error())
			log.WithError(err).Warn("Live subscription lost, device marked offline")
		}
	}

	if err := open(); err != nil {
		sess.setStatus(types.MonitorError, err.Error())
		log.WithError(err).Warn("Failed to open live subscription")
	}

	for {
		select {
		case <-ctx.Done():
			if sub != nil {
				sub.Close()
			}
			return
		case <-time.After(s.c.Settings().PollInterval):
			if sub == nil || !adapter.Connected() {
				reopen()
			}
		}
	}
}

func (s *pushStrategy) onRecord(sess *session, log *logrus.Entry) func(types.RawRecord) {
	return func(raw types.RawRecord) {
		emp, err := s.c.store.GetEmployeeByDeviceUserID(raw.DeviceUserID)
		if err != nil {
			log.WithError(err).Error("Employee lookup failed for live record")
			return
		}
		if emp == nil {
			log.WithField("device_user_id", raw.DeviceUserID).Debug("Live record for unregistered device user")
			return
		}

		rec := normalize.Record(raw, sess.device.ID, emp.ID, time.Now().UTC(), log)
		inserted, err := s.c.store.InsertAttendance(rec)
		if err != nil {
			log.WithError(err).Error("Failed to persist live record")
			return
		}
		sess.touch()
		if inserted {
			s.c.bus.PublishAttendance(sess.device.ID, []types.AttendanceRecord{rec})
		}
	}
}
