package normalize

import (
	"testing"
	"time"

	"attendance-bridge/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger.WithField("test", true)
}

func TestDirection(t *testing.T) {
	tests := []struct {
		code int
		want types.Direction
	}{
		{0, types.DirectionCheckIn},
		{1, types.DirectionCheckOut},
		{2, types.DirectionBreakOut},
		{3, types.DirectionBreakIn},
		{4, types.DirectionOvertimeIn},
		{5, types.DirectionOvertimeOut},
		{6, types.DirectionUnknown},
		{99, types.DirectionUnknown},
		{-1, types.DirectionUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Direction(tt.code), "code %d", tt.code)
	}
}

func TestVerification(t *testing.T) {
	tests := []struct {
		code int
		want types.VerificationMethod
	}{
		{0, types.VerifyPassword},
		{1, types.VerifyFingerprint},
		{2, types.VerifyCard},
		{3, types.VerifyPassword},
		{4, types.VerifyCard},
		{10, types.VerifyCombination},
		{15, types.VerifyFace},
		{16, types.VerifyPalm},
		{25, types.VerifyPalm},
		{7, types.VerifyUnknown},
		{100, types.VerifyUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Verification(tt.code), "code %d", tt.code)
	}
}

func TestParseTimestamp(t *testing.T) {
	native := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input interface{}
		want  time.Time
		ok    bool
	}{
		{"native time", native, native, true},
		{"rfc3339", "2024-03-15T09:30:00Z", native, true},
		{"iso without zone", "2024-03-15T09:30:00", native, true},
		{"space separated", "2024-03-15 09:30:00", native, true},
		{"epoch int64", int64(1710495000), time.Unix(1710495000, 0), true},
		{"epoch int", 1710495000, time.Unix(1710495000, 0), true},
		{"epoch float", float64(1710495000), time.Unix(1710495000, 0), true},
		{"zero time", time.Time{}, time.Time{}, false},
		{"garbage string", "not-a-time", time.Time{}, false},
		{"nil", nil, time.Time{}, false},
		{"negative epoch", int64(-5), time.Unix(-5, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
			}
		})
	}
}

func TestRecordMapsFields(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	raw := types.RawRecord{
		DeviceUserID: "42",
		Timestamp:    "2024-05-30T08:15:00Z",
		CheckType:    1,
		VerifyMode:   15,
		Payload:      map[string]interface{}{"workcode": float64(3)},
	}

	rec := Record(raw, "dev-1", "emp-1", now, testLogger())

	assert.Equal(t, "emp-1", rec.EmployeeID)
	assert.Equal(t, "dev-1", rec.DeviceID)
	assert.Equal(t, "42", rec.DeviceUserID)
	assert.Equal(t, time.Date(2024, 5, 30, 8, 15, 0, 0, time.UTC), rec.Timestamp)
	assert.Equal(t, types.DirectionCheckOut, rec.Direction)
	assert.Equal(t, types.VerifyFace, rec.Method)
	require.NotNil(t, rec.Raw)
	assert.Equal(t, float64(3), rec.Raw["workcode"])
}

func TestRecordSanitizesImplausibleTimestamps(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ts   interface{}
	}{
		{"before 2000", "1999-12-31T23:59:59Z"},
		{"year 2100", "2100-01-01T00:00:00Z"},
		{"far future", "2199-06-01T00:00:00Z"},
		{"unparseable", "garbage"},
		{"missing", nil},
		{"epoch zero", int64(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := types.RawRecord{DeviceUserID: "1", Timestamp: tt.ts}
			rec := Record(raw, "dev-1", "emp-1", now, testLogger())
			assert.True(t, rec.Timestamp.Equal(now), "expected ingestion time, got %v", rec.Timestamp)
		})
	}
}

func TestRecordKeepsBoundaryTimestamps(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	// Exactly year 2000 is valid; the instant before 2100 is valid.
	raw := types.RawRecord{DeviceUserID: "1", Timestamp: "2000-01-01T00:00:00Z"}
	rec := Record(raw, "dev-1", "", now, testLogger())
	assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), rec.Timestamp)

	raw.Timestamp = "2099-12-31T23:59:59Z"
	rec = Record(raw, "dev-1", "", now, testLogger())
	assert.Equal(t, time.Date(2099, 12, 31, 23, 59, 59, 0, time.UTC), rec.Timestamp)
}
