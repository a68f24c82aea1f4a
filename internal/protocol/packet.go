package protocol

import (
	"encoding/binary"
	"io"
	"net"
	"time"
)

// Terminal protocol commands. The wire format is the vendor's: an
// 8-byte little-endian header (command, checksum, session id, reply id)
// followed by an optional payload.
const (
	cmdConnect       = 1000
	cmdExit          = 1001
	cmdEnableDevice  = 1002
	cmdDisableDevice = 1003
	cmdAuth          = 1102

	cmdAckOK     = 2000
	cmdAckError  = 2001
	cmdAckData   = 2002
	cmdAckUnauth = 2005

	cmdUserRead     = 9
	cmdOptionsRead  = 11
	cmdAttLogRead   = 13
	cmdFreeSizes    = 50
	cmdGetTime      = 201
	cmdRegEvent     = 500
	cmdEventAttLog  = 512 // pushed by the terminal after cmdRegEvent
)

const headerSize = 8

// packet is one decoded protocol frame.
type packet struct {
	Command   uint16
	Checksum  uint16
	SessionID uint16
	ReplyID   uint16
	Data      []byte
}

// encodePacket builds a wire frame with its checksum filled in.
func encodePacket(command, sessionID, replyID uint16, data []byte) []byte {
	buf := make([]byte, headerSize+len(data))
	binary.LittleEndian.PutUint16(buf[0:2], command)
	binary.LittleEndian.PutUint16(buf[4:6], sessionID)
	binary.LittleEndian.PutUint16(buf[6:8], replyID)
	copy(buf[headerSize:], data)

	binary.LittleEndian.PutUint16(buf[2:4], checksum(buf))
	return buf
}

// checksum sums every byte of the frame except the checksum field itself.
func checksum(buf []byte) uint16 {
	var sum uint16
	for i, b := range buf {
		if i == 2 || i == 3 {
			continue
		}
		sum += uint16(b)
	}
	return sum
}

// writePacket sends one frame on the connection.
func writePacket(conn net.Conn, deadline time.Time, command, sessionID, replyID uint16, data []byte) error {
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	if _, err := conn.Write(encodePacket(command, sessionID, replyID, data)); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// readPacket reads one frame from the connection. Data responses carry a
// 4-byte length prefix before the payload.
func readPacket(conn net.Conn, deadline time.Time) (*packet, error) {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, &TransportError{Op: "read header", Err: err}
	}

	p := &packet{
		Command:   binary.LittleEndian.Uint16(header[0:2]),
		Checksum:  binary.LittleEndian.Uint16(header[2:4]),
		SessionID: binary.LittleEndian.Uint16(header[4:6]),
		ReplyID:   binary.LittleEndian.Uint16(header[6:8]),
	}

	if p.Command == cmdAckData || p.Command == cmdEventAttLog {
		lengthBytes := make([]byte, 4)
		if _, err := io.ReadFull(conn, lengthBytes); err != nil {
			return nil, &TransportError{Op: "read length", Err: err}
		}

		dataLength := binary.LittleEndian.Uint32(lengthBytes)
		if dataLength > maxPayloadSize {
			return nil, &ProtocolError{Op: "read", Reason: "payload length exceeds limit"}
		}
		if dataLength > 0 {
			p.Data = make([]byte, dataLength)
			if _, err := io.ReadFull(conn, p.Data); err != nil {
				return nil, &TransportError{Op: "read data", Err: err}
			}
		}
	}

	return p, nil
}

// maxPayloadSize bounds a single data response. Terminals batch
// attendance logs well below this.
const maxPayloadSize = 4 << 20
