package cdtp

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func msgpackEncodeBadTag() ([]byte, error) {
	return msgpack.Marshal([]interface{}{"CDTP1", "Sat.host1", uint8(TypeData), []interface{}{}})
}

func TestBORRoundTrip(t *testing.T) {
	msg := NewBOR("Sat.host1", map[string]interface{}{"foo": "bar"}, map[string]interface{}{"sample_rate": int64(1000)})
	frame, err := msg.Encode()
	require.NoError(t, err)

	decoded, err := Decode(frame)
	require.NoError(t, err)
	require.Equal(t, TypeBOR, decoded.Type)
	require.Equal(t, "Sat.host1", decoded.Sender)
	require.Equal(t, "bar", decoded.UserTags()["foo"])
	require.EqualValues(t, 1000, decoded.Configuration()["sample_rate"])
}

func TestDataRoundTripWithBlocks(t *testing.T) {
	rec := DataRecord{SequenceNumber: 2, Tags: map[string]interface{}{"n": int64(1)}, Blocks: [][]byte{{0xDE, 0xAD, 0xBE, 0xEF}}}
	msg := NewData("Sat.host1", rec)
	frame, err := msg.Encode()
	require.NoError(t, err)

	decoded, err := Decode(frame)
	require.NoError(t, err)
	require.Equal(t, TypeData, decoded.Type)
	require.Len(t, decoded.Records, 1)
	require.EqualValues(t, 2, decoded.Records[0].SequenceNumber)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, decoded.Records[0].Blocks[0])
	require.Equal(t, 4, decoded.CountPayloadBytes())
}

func TestEORRoundTrip(t *testing.T) {
	msg := NewEOR("Sat.host1", 11, map[string]interface{}{}, map[string]interface{}{"n": int64(10)})
	frame, err := msg.Encode()
	require.NoError(t, err)

	decoded, err := Decode(frame)
	require.NoError(t, err)
	require.Equal(t, TypeEOR, decoded.Type)
	require.EqualValues(t, 11, decoded.Records[0].SequenceNumber)
	require.EqualValues(t, 12, decoded.Records[1].SequenceNumber)
	require.EqualValues(t, 10, decoded.RunMetadata()["n"])
}

func TestDecodeRejectsWrongProtocolTag(t *testing.T) {
	bad, err := msgpackEncodeBadTag()
	require.NoError(t, err)
	_, err = Decode(bad)
	require.Error(t, err)
}
