/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package cdtp implements the Constellation Data Transfer Protocol: a
// PUSH/PULL binary data stream framed by begin- and end-of-run
// records, with strictly increasing per-connection sequence numbers.
package cdtp

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ProtocolTag identifies CDTP2 messages on the wire.
const ProtocolTag = "CDTP2"

// Type distinguishes a CDTP2 message's role in a run.
type Type uint8

// Message types, per spec.md §3.
const (
	TypeData Type = 0x0
	TypeBOR  Type = 0x1
	TypeEOR  Type = 0x2
)

func (t Type) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeBOR:
		return "BOR"
	case TypeEOR:
		return "EOR"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// DataRecord carries a sequence number, a tag map, and zero or more
// binary blocks.
type DataRecord struct {
	SequenceNumber uint64
	Tags           map[string]interface{}
	Blocks         [][]byte
}

// CountPayloadBytes sums the length of every block in the record.
func (r *DataRecord) CountPayloadBytes() int {
	n := 0
	for _, b := range r.Blocks {
		n += len(b)
	}
	return n
}

// Message is one CDTP2 frame: a sender, a type, and the data records
// it carries. BOR and EOR messages always carry exactly two records
// (user tags, then configuration or run metadata respectively); DATA
// messages carry exactly one.
type Message struct {
	Sender  string
	Type    Type
	Records []DataRecord
}

// NewBOR builds a begin-of-run message with sequence numbers 0 (user
// tags) and 1 (resolved configuration).
func NewBOR(sender string, userTags, config map[string]interface{}) *Message {
	return &Message{
		Sender: sender,
		Type:   TypeBOR,
		Records: []DataRecord{
			{SequenceNumber: 0, Tags: userTags},
			{SequenceNumber: 1, Tags: config},
		},
	}
}

// NewEOR builds an end-of-run message carrying the final sequence
// numbers: seq (user tags) and seq+1 (run metadata).
func NewEOR(sender string, seq uint64, userTags, runMetadata map[string]interface{}) *Message {
	return &Message{
		Sender: sender,
		Type:   TypeEOR,
		Records: []DataRecord{
			{SequenceNumber: seq, Tags: userTags},
			{SequenceNumber: seq + 1, Tags: runMetadata},
		},
	}
}

// NewData builds a data message carrying a single record.
func NewData(sender string, record DataRecord) *Message {
	return &Message{Sender: sender, Type: TypeData, Records: []DataRecord{record}}
}

// CountPayloadBytes sums CountPayloadBytes across every record in the
// message.
func (m *Message) CountPayloadBytes() int {
	n := 0
	for i := range m.Records {
		n += m.Records[i].CountPayloadBytes()
	}
	return n
}

// UserTags returns the first record's tags, valid for BOR and EOR
// messages.
func (m *Message) UserTags() map[string]interface{} {
	if len(m.Records) == 0 {
		return nil
	}
	return m.Records[0].Tags
}

// Configuration returns the second record's tags for a BOR message.
func (m *Message) Configuration() map[string]interface{} {
	if len(m.Records) < 2 {
		return nil
	}
	return m.Records[1].Tags
}

// RunMetadata returns the second record's tags for an EOR message.
func (m *Message) RunMetadata() map[string]interface{} {
	if len(m.Records) < 2 {
		return nil
	}
	return m.Records[1].Tags
}

// Encode serializes the message into CDTP2's single-frame wire form.
func (m *Message) Encode() ([]byte, error) {
	records := make([]interface{}, len(m.Records))
	for i, rec := range m.Records {
		blocks := make([]interface{}, len(rec.Blocks))
		for j, b := range rec.Blocks {
			blocks[j] = b
		}
		records[i] = []interface{}{rec.SequenceNumber, rec.Tags, blocks}
	}
	return msgpack.Marshal([]interface{}{ProtocolTag, m.Sender, uint8(m.Type), records})
}

// Decode parses CDTP2's single-frame wire form back into a Message.
func Decode(frame []byte) (*Message, error) {
	var fields []interface{}
	if err := msgpack.Unmarshal(frame, &fields); err != nil {
		return nil, fmt.Errorf("decoding CDTP2 message: %w", err)
	}
	if len(fields) != 4 {
		return nil, fmt.Errorf("malformed CDTP2 message: expected 4 fields, got %d", len(fields))
	}
	tag, ok := fields[0].(string)
	if !ok || tag != ProtocolTag {
		return nil, fmt.Errorf("unexpected CDTP protocol tag %v", fields[0])
	}
	sender, _ := fields[1].(string)
	typ, err := toUint8(fields[2])
	if err != nil {
		return nil, fmt.Errorf("malformed CDTP2 type field: %w", err)
	}
	rawRecords, ok := fields[3].([]interface{})
	if !ok {
		return nil, fmt.Errorf("malformed CDTP2 records field")
	}

	records := make([]DataRecord, 0, len(rawRecords))
	for _, raw := range rawRecords {
		entry, ok := raw.([]interface{})
		if !ok || len(entry) != 3 {
			return nil, fmt.Errorf("malformed CDTP2 data record")
		}
		seq, err := toUint64(entry[0])
		if err != nil {
			return nil, fmt.Errorf("malformed CDTP2 sequence number: %w", err)
		}
		tags, _ := entry[1].(map[string]interface{})
		rawBlocks, ok := entry[2].([]interface{})
		if !ok {
			return nil, fmt.Errorf("malformed CDTP2 block list")
		}
		blocks := make([][]byte, len(rawBlocks))
		for i, rb := range rawBlocks {
			b, ok := rb.([]byte)
			if !ok {
				return nil, fmt.Errorf("CDTP2 block %d is not binary", i)
			}
			blocks[i] = b
		}
		records = append(records, DataRecord{SequenceNumber: seq, Tags: tags, Blocks: blocks})
	}

	return &Message{Sender: sender, Type: Type(typ), Records: records}, nil
}

func toUint8(v interface{}) (uint8, error) {
	n, err := toUint64(v)
	return uint8(n), err
}

func toUint64(v interface{}) (uint64, error) {
	switch n := v.(type) {
	case int64:
		return uint64(n), nil
	case uint64:
		return n, nil
	case int:
		return uint64(n), nil
	case int8:
		return uint64(n), nil
	case uint8:
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}
