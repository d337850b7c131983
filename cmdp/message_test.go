package cmdp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLogRoundTrip(t *testing.T) {
	rec := &LogRecord{
		Level:    LevelWarning,
		Logger:   "Sat.host1.FSM",
		Message:  "heartbeat interval halved",
		Sender:   "Sat.host1",
		SendTime: time.Now().UTC().Truncate(time.Millisecond),
		Meta:     map[string]interface{}{"run_id": "run#1"},
	}
	frames, err := EncodeLog(rec)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	require.Equal(t, "LOG/WARNING/Sat.host1.FSM", string(frames[0]))

	decoded, err := Decode(frames)
	require.NoError(t, err)
	got, ok := decoded.(*LogRecord)
	require.True(t, ok)
	require.Equal(t, rec.Level, got.Level)
	require.Equal(t, rec.Logger, got.Logger)
	require.Equal(t, rec.Message, got.Message)
	require.Equal(t, rec.Sender, got.Sender)
	require.Equal(t, "run#1", got.Meta["run_id"])
}

func TestMetricRoundTrip(t *testing.T) {
	m := &Metric{
		Name:     "temperature",
		Unit:     "C",
		Handling: HandlingAverage,
		Value:    21.5,
		Sender:   "Sat.host1",
		SendTime: time.Now().UTC().Truncate(time.Millisecond),
	}
	frames, err := EncodeMetric(m)
	require.NoError(t, err)
	require.Equal(t, "STAT/TEMPERATURE", string(frames[0]))

	decoded, err := Decode(frames)
	require.NoError(t, err)
	got, ok := decoded.(*Metric)
	require.True(t, ok)
	require.Equal(t, "TEMPERATURE", got.Name)
	require.Equal(t, m.Unit, got.Unit)
	require.Equal(t, m.Handling, got.Handling)
	require.InDelta(t, 21.5, got.Value, 0.001)
}

func TestNormalizeLevelFoldsErrorToCritical(t *testing.T) {
	require.Equal(t, LevelCritical, NormalizeLevel("error"))
	require.Equal(t, LevelCritical, NormalizeLevel("FATAL"))
	require.Equal(t, LevelWarning, NormalizeLevel("warn"))
}

func TestDecodeRejectsWrongFrameCount(t *testing.T) {
	_, err := Decode([][]byte{[]byte("STAT/X")})
	require.Error(t, err)
}

func TestDecodeRejectsUnrecognisedTopic(t *testing.T) {
	header, err := EncodeMetric(&Metric{Name: "x", SendTime: time.Now()})
	require.NoError(t, err)
	_, err = Decode([][]byte{[]byte("BOGUS/X"), header[1], header[2]})
	require.Error(t, err)
}
