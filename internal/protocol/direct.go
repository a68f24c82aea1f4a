package protocol

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"attendance-bridge/internal/types"

	"github.com/sirupsen/logrus"
)

// directAdapter speaks the vendor binary protocol over a plain TCP
// session. The wired variant uses the same framing but an
// Ethernet-specific handshake without the comm-key exchange.
type directAdapter struct {
	device types.Device
	opts   Options
	log    *logrus.Entry
	wired  bool

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	sessionID uint16
	replyID   uint16
	sub       *liveSubscription
}

func newDirectAdapter(device types.Device, opts Options, logger *logrus.Logger, wired bool) *directAdapter {
	variant := "direct"
	if wired {
		variant = "wired"
	}
	return &directAdapter{
		device: device,
		opts:   opts,
		wired:  wired,
		log: logger.WithFields(logrus.Fields{
			"component": "protocol",
			"variant":   variant,
			"device_id": device.ID,
			"addr":      fmt.Sprintf("%s:%d", device.Host, device.Port),
		}),
	}
}

func (d *directAdapter) Variant() types.TransportVariant {
	if d.wired {
		return types.TransportWired
	}
	return types.TransportDirect
}

func (d *directAdapter) Capabilities() Capabilities {
	return Capabilities{FetchRecords: true, LiveSubscription: true}
}

// Connect dials the terminal and performs the session handshake. A
// rejected handshake on the direct variant is retried once with the comm
// key; the wired handshake has no auth exchange.
func (d *directAdapter) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return nil
	}

	dialer := net.Dialer{Timeout: d.opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", d.device.Host, d.device.Port))
	if err != nil {
		return &TransportError{Op: "connect", Err: err}
	}

	d.conn = conn
	d.sessionID = 0
	d.replyID = 0

	resp, err := d.roundTripLocked(ctx, cmdConnect, nil)
	if err != nil {
		conn.Close()
		d.conn = nil
		return err
	}

	if resp.Command == cmdAckUnauth && !d.wired {
		resp, err = d.authenticateLocked(ctx, resp.SessionID)
		if err != nil {
			conn.Close()
			d.conn = nil
			return err
		}
	}

	if resp.Command != cmdAckOK {
		conn.Close()
		d.conn = nil
		return &ProtocolError{Op: "connect", Reason: fmt.Sprintf("handshake rejected with code %d", resp.Command)}
	}

	d.sessionID = resp.SessionID
	d.connected = true
	d.log.WithField("session_id", d.sessionID).Debug("Device session established")

	return nil
}

// authenticateLocked answers an unauthorized handshake with the comm key.
func (d *directAdapter) authenticateLocked(ctx context.Context, sessionID uint16) (*packet, error) {
	if d.opts.CommPassword == "" {
		return nil, &ConfigError{Reason: "terminal requires a comm password and none is configured"}
	}

	d.sessionID = sessionID
	key := commKey(d.opts.CommPassword, sessionID)
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, key)

	return d.roundTripLocked(ctx, cmdAuth, data)
}

// commKey derives the 32-bit auth word from the comm password and
// session id the way terminal firmware does.
func commKey(password string, sessionID uint16) uint32 {
	var key uint32
	for _, c := range password {
		key = key*10 + uint32(c-'0')
	}
	key = (key << 8 | key >> 24) + uint32(sessionID)
	return key
}

func (d *directAdapter) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Disconnect sends the exit command best-effort and closes the socket.
func (d *directAdapter) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sub != nil {
		d.sub.stop()
		d.sub = nil
	}

	if d.conn != nil {
		deadline := time.Now().Add(2 * time.Second)
		_ = writePacket(d.conn, deadline, cmdExit, d.sessionID, d.nextReplyID(), nil)
		d.conn.Close()
		d.conn = nil
	}

	d.connected = false
	d.sessionID = 0
	return nil
}

// Info queries record/user counts and the serial number.
func (d *directAdapter) Info(ctx context.Context) (*types.DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	resp, err := d.commandLocked(ctx, cmdFreeSizes, nil)
	if err != nil {
		return nil, err
	}
	if resp.Command != cmdAckData || len(resp.Data) < 64 {
		return nil, &ProtocolError{Op: "info", Reason: "short free-sizes response"}
	}

	info := &types.DeviceInfo{
		UserCount:    int(binary.LittleEndian.Uint32(resp.Data[16:20])),
		RecordCount:  int(binary.LittleEndian.Uint32(resp.Data[32:36])),
		UserCapacity: int(binary.LittleEndian.Uint32(resp.Data[60:64])),
	}

	if serial, err := d.optionLocked(ctx, "~SerialNumber"); err == nil {
		info.SerialNumber = serial
	}
	if model, err := d.optionLocked(ctx, "~DeviceName"); err == nil {
		info.Model = model
	}
	if fw, err := d.optionLocked(ctx, "~ZKFPVersion"); err == nil {
		info.Firmware = fw
	}

	return info, nil
}

// optionLocked reads one name=value option string from the terminal.
func (d *directAdapter) optionLocked(ctx context.Context, name string) (string, error) {
	resp, err := d.commandLocked(ctx, cmdOptionsRead, []byte(name+"\x00"))
	if err != nil {
		return "", err
	}
	if resp.Command != cmdAckData {
		return "", &ProtocolError{Op: "options", Reason: fmt.Sprintf("unexpected code %d", resp.Command)}
	}

	value := strings.TrimRight(string(resp.Data), "\x00")
	if i := strings.IndexByte(value, '='); i >= 0 {
		value = value[i+1:]
	}
	return value, nil
}

// Users lists the accounts stored on the terminal.
func (d *directAdapter) Users(ctx context.Context) ([]types.DeviceUser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	resp, err := d.commandLocked(ctx, cmdUserRead, nil)
	if err != nil {
		return nil, err
	}

	switch resp.Command {
	case cmdAckOK:
		return nil, nil
	case cmdAckData:
		return decodeUsers(resp.Data, d.log), nil
	default:
		return nil, &ProtocolError{Op: "users", Reason: fmt.Sprintf("unexpected code %d", resp.Command)}
	}
}

// Records fetches the terminal's attendance log.
func (d *directAdapter) Records(ctx context.Context) ([]types.RawRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	resp, err := d.commandLocked(ctx, cmdAttLogRead, nil)
	if err != nil {
		return nil, err
	}

	switch resp.Command {
	case cmdAckOK:
		// No records on the device.
		return nil, nil
	case cmdAckData:
		return decodeAttendance(resp.Data, d.log), nil
	default:
		return nil, &ProtocolError{Op: "records", Reason: fmt.Sprintf("unexpected code %d", resp.Command)}
	}
}

// SubscribeLive registers for event pushes and takes over the socket's
// read side. While a subscription is active no other operation may be
// issued on this adapter; the monitor's push strategy honors that.
func (d *directAdapter) SubscribeLive(ctx context.Context, fn func(types.RawRecord)) (Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sub != nil {
		return nil, &ProtocolError{Op: "subscribe", Reason: "live subscription already active"}
	}

	flags := make([]byte, 4)
	binary.LittleEndian.PutUint32(flags, 0xFFFF)
	resp, err := d.commandLocked(ctx, cmdRegEvent, flags)
	if err != nil {
		return nil, err
	}
	if resp.Command != cmdAckOK {
		return nil, &ProtocolError{Op: "subscribe", Reason: fmt.Sprintf("unexpected code %d", resp.Command)}
	}

	sub := &liveSubscription{
		adapter: d,
		done:    make(chan struct{}),
	}
	d.sub = sub

	go sub.readLoop(fn)
	return sub, nil
}

// commandLocked sends a command requiring an established session.
func (d *directAdapter) commandLocked(ctx context.Context, command uint16, data []byte) (*packet, error) {
	if !d.connected || d.conn == nil {
		return nil, ErrNotConnected
	}
	if d.sub != nil {
		return nil, &ProtocolError{Op: "command", Reason: "socket owned by live subscription"}
	}
	return d.roundTripLocked(ctx, command, data)
}

// roundTripLocked performs one request/response exchange. Caller holds mu.
func (d *directAdapter) roundTripLocked(ctx context.Context, command uint16, data []byte) (*packet, error) {
	deadline := time.Now().Add(d.opts.ReadTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	replyID := d.nextReplyID()
	if err := writePacket(d.conn, deadline, command, d.sessionID, replyID, data); err != nil {
		return nil, err
	}

	resp, err := readPacket(d.conn, deadline)
	if err != nil {
		return nil, err
	}
	if resp.ReplyID != replyID {
		return nil, &ProtocolError{Op: "read", Reason: "reply id mismatch"}
	}

	return resp, nil
}

func (d *directAdapter) nextReplyID() uint16 {
	d.replyID++
	return d.replyID
}

// liveSubscription owns the socket read side for the duration of a
// native push subscription.
type liveSubscription struct {
	adapter *directAdapter
	once    sync.Once
	done    chan struct{}
}

func (s *liveSubscription) readLoop(fn func(types.RawRecord)) {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.adapter.mu.Lock()
		conn := s.adapter.conn
		s.adapter.mu.Unlock()
		if conn == nil {
			return
		}

		// Short deadline so a Close is noticed promptly; a deadline
		// expiry with no pushed event is not an error.
		p, err := readPacket(conn, time.Now().Add(time.Second))
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.adapter.log.WithError(err).Debug("Live subscription read ended")
			return
		}

		if p.Command != cmdEventAttLog {
			continue
		}
		for _, rec := range decodeAttendance(p.Data, s.adapter.log) {
			fn(rec)
		}
	}
}

func (s *liveSubscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *liveSubscription) Close() error {
	s.stop()
	s.adapter.mu.Lock()
	if s.adapter.sub == s {
		s.adapter.sub = nil
	}
	s.adapter.mu.Unlock()
	return nil
}
