package protocol

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"time"

	"attendance-bridge/internal/types"

	"github.com/sirupsen/logrus"
)

// Attendance log encodings vary across firmware generations. Three
// fixed-size layouts are in the field:
//
//	 8 bytes: user id (u16), epoch (u32), check type, verify mode
//	16 bytes: user id (u16), pad, epoch (u32), check type, verify mode,
//	          work code, pad
//	40 bytes: index (u16), user id (9-byte ASCII), pad, verify mode,
//	          epoch (u32), check type, pad
const (
	recordSizeLegacy   = 8
	recordSizeStandard = 16
	recordSizeExtended = 40
)

// decodeAttendance decodes a raw attendance payload into records. An
// unrecognized layout is logged and yields an empty batch; callers never
// see an error for a shape the firmware invented.
func decodeAttendance(data []byte, log *logrus.Entry) []types.RawRecord {
	if len(data) == 0 {
		return nil
	}

	switch {
	case len(data)%recordSizeExtended == 0:
		return decodeFixed(data, recordSizeExtended, decodeExtendedRecord)
	case len(data)%recordSizeStandard == 0:
		return decodeFixed(data, recordSizeStandard, decodeStandardRecord)
	case len(data)%recordSizeLegacy == 0:
		return decodeFixed(data, recordSizeLegacy, decodeLegacyRecord)
	default:
		log.WithField("payload_len", len(data)).Warn("Unrecognized attendance log layout, dropping payload")
		return nil
	}
}

func decodeFixed(data []byte, size int, decode func([]byte) types.RawRecord) []types.RawRecord {
	records := make([]types.RawRecord, 0, len(data)/size)
	for offset := 0; offset+size <= len(data); offset += size {
		records = append(records, decode(data[offset:offset+size]))
	}
	return records
}

func decodeLegacyRecord(rec []byte) types.RawRecord {
	return types.RawRecord{
		DeviceUserID: strconv.Itoa(int(binary.LittleEndian.Uint16(rec[0:2]))),
		Timestamp:    time.Unix(int64(binary.LittleEndian.Uint32(rec[2:6])), 0),
		CheckType:    int(rec[6]),
		VerifyMode:   int(rec[7]),
		Payload: map[string]interface{}{
			"layout": "legacy",
		},
	}
}

func decodeStandardRecord(rec []byte) types.RawRecord {
	return types.RawRecord{
		DeviceUserID: strconv.Itoa(int(binary.LittleEndian.Uint16(rec[0:2]))),
		Timestamp:    time.Unix(int64(binary.LittleEndian.Uint32(rec[4:8])), 0),
		CheckType:    int(rec[8]),
		VerifyMode:   int(rec[9]),
		Payload: map[string]interface{}{
			"layout":    "standard",
			"work_code": int(rec[10]),
		},
	}
}

func decodeExtendedRecord(rec []byte) types.RawRecord {
	userID := string(bytes.TrimRight(rec[2:11], "\x00"))
	return types.RawRecord{
		DeviceUserID: userID,
		Timestamp:    time.Unix(int64(binary.LittleEndian.Uint32(rec[27:31])), 0),
		CheckType:    int(rec[31]),
		VerifyMode:   int(rec[26]),
		Payload: map[string]interface{}{
			"layout": "extended",
			"index":  int(binary.LittleEndian.Uint16(rec[0:2])),
		},
	}
}

// User records are a single 28-byte layout: id (u16), privilege,
// password (5 ASCII), name (8 ASCII), card number (5 ASCII), padding.
const userRecordSize = 28

func decodeUsers(data []byte, log *logrus.Entry) []types.DeviceUser {
	if len(data) == 0 {
		return nil
	}
	if len(data)%userRecordSize != 0 {
		log.WithField("payload_len", len(data)).Warn("Unrecognized user table layout, dropping payload")
		return nil
	}

	users := make([]types.DeviceUser, 0, len(data)/userRecordSize)
	for offset := 0; offset+userRecordSize <= len(data); offset += userRecordSize {
		rec := data[offset : offset+userRecordSize]
		users = append(users, types.DeviceUser{
			DeviceUserID: strconv.Itoa(int(binary.LittleEndian.Uint16(rec[0:2]))),
			Privilege:    int(rec[2]),
			Name:         string(bytes.TrimRight(rec[8:16], "\x00")),
			CardNumber:   string(bytes.TrimRight(rec[16:21], "\x00")),
		})
	}
	return users
}
