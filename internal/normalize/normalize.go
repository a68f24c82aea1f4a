package normalize

import (
	"time"

	"attendance-bridge/internal/types"

	"github.com/sirupsen/logrus"
)

// Terminals report timestamps anywhere from sensible to absurd; values
// outside this calendar window are treated as clock corruption.
var (
	minValidTime = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	maxValidTime = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Check-type codes as reported by terminal firmware.
var directionTable = map[int]types.Direction{
	0: types.DirectionCheckIn,
	1: types.DirectionCheckOut,
	2: types.DirectionBreakOut,
	3: types.DirectionBreakIn,
	4: types.DirectionOvertimeIn,
	5: types.DirectionOvertimeOut,
}

// Verify-mode codes as reported by terminal firmware.
var verifyTable = map[int]types.VerificationMethod{
	0:  types.VerifyPassword,
	1:  types.VerifyFingerprint,
	2:  types.VerifyCard,
	3:  types.VerifyPassword,
	4:  types.VerifyCard,
	15: types.VerifyFace,
	16: types.VerifyPalm,
	25: types.VerifyPalm,
	10: types.VerifyCombination,
}

// Direction maps a check-type code to its canonical direction. Unmapped
// codes yield unknown, never an error.
func Direction(code int) types.Direction {
	if d, ok := directionTable[code]; ok {
		return d
	}
	return types.DirectionUnknown
}

// Verification maps a verify-mode code to its canonical method.
func Verification(code int) types.VerificationMethod {
	if v, ok := verifyTable[code]; ok {
		return v
	}
	return types.VerifyUnknown
}

// Record maps a raw device record into the canonical attendance shape.
// employeeID may be empty when the device user is unregistered. A
// timestamp outside the sane calendar range is replaced with now and the
// anomaly logged so operators can detect device clock drift.
func Record(raw types.RawRecord, deviceID, employeeID string, now time.Time, log *logrus.Entry) types.AttendanceRecord {
	ts, ok := ParseTimestamp(raw.Timestamp)
	if !ok || ts.Before(minValidTime) || !ts.Before(maxValidTime) {
		log.WithFields(logrus.Fields{
			"device_id":      deviceID,
			"device_user_id": raw.DeviceUserID,
			"raw_timestamp":  raw.Timestamp,
		}).Warn("Implausible record timestamp, substituting ingestion time")
		ts = now
	}

	return types.AttendanceRecord{
		EmployeeID:   employeeID,
		DeviceID:     deviceID,
		DeviceUserID: raw.DeviceUserID,
		Timestamp:    ts.UTC(),
		Direction:    Direction(raw.CheckType),
		Method:       Verification(raw.VerifyMode),
		Raw:          raw.Payload,
	}
}

// ParseTimestamp accepts the timestamp shapes seen across firmware:
// native time values, ISO-8601 strings, and epoch seconds (integer or
// float, as JSON decoding produces).
func ParseTimestamp(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
		return time.Time{}, false
	case int64:
		return time.Unix(t, 0), t > 0
	case int:
		return time.Unix(int64(t), 0), t > 0
	case float64:
		return time.Unix(int64(t), 0), t > 0
	default:
		return time.Time{}, false
	}
}
