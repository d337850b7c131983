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

// Package cmdp implements the Constellation Monitoring Distribution
// Protocol: an XPUB/SUB broadcast of structured log records and
// metrics, topic-filtered by subscribers.
package cmdp

import (
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ProtocolTag identifies CMDP messages on the wire.
const ProtocolTag = "CMDP\x01"

// LogLevel is a CMDP log topic's severity component.
type LogLevel string

// Recognised log levels, per spec.md §4.J. A Python "error" level logged
// by a peer is folded into CRITICAL, matching how the original
// implementation's logging module maps its five standard levels onto
// these six CMDP levels (no separate ERROR rung exists on the wire).
const (
	LevelTrace    LogLevel = "TRACE"
	LevelDebug    LogLevel = "DEBUG"
	LevelInfo     LogLevel = "INFO"
	LevelWarning  LogLevel = "WARNING"
	LevelStatus   LogLevel = "STATUS"
	LevelCritical LogLevel = "CRITICAL"
)

// NormalizeLevel folds a free-form level name (as it might arrive from
// a logging shim that doesn't know about CMDP's level set) onto one of
// the six wire levels.
func NormalizeLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARNING", "WARN":
		return LevelWarning
	case "STATUS", "NOTICE":
		return LevelStatus
	case "CRITICAL", "ERROR", "FATAL":
		return LevelCritical
	default:
		return LevelInfo
	}
}

// LogRecord is one structured log entry distributed over CMDP.
type LogRecord struct {
	Level    LogLevel
	Logger   string
	Message  string
	Sender   string
	SendTime time.Time
	Meta     map[string]interface{}
}

// Topic returns the record's publish topic, LOG/<LEVEL>/<LOGGER>.
func (r *LogRecord) Topic() string {
	return fmt.Sprintf("LOG/%s/%s", r.Level, r.Logger)
}

// MetricHandling describes how a metric's samples should be combined
// by a consumer over time.
type MetricHandling uint8

// Metric handling kinds, per spec.md §3.
const (
	HandlingLastValue MetricHandling = 0x1
	HandlingAccumulate MetricHandling = 0x2
	HandlingAverage    MetricHandling = 0x3
	HandlingRate       MetricHandling = 0x4
)

// Metric is one named measurement distributed over CMDP.
type Metric struct {
	Name     string
	Unit     string
	Handling MetricHandling
	Value    interface{}
	Sender   string
	SendTime time.Time
	Meta     map[string]interface{}
}

// Topic returns the metric's publish topic, STAT/<UPPERCASE_NAME>.
func (m *Metric) Topic() string {
	return "STAT/" + strings.ToUpper(m.Name)
}

type headerFrame struct {
	_msgpack struct{} `msgpack:",as_array"`
	Tag      string
	Sender   string
	SendTime time.Time
	Meta     map[string]interface{}
}

// EncodeLog serializes a LogRecord to CMDP's three-frame wire form:
// topic, header, message payload.
func EncodeLog(r *LogRecord) ([][]byte, error) {
	header, err := msgpack.Marshal(&headerFrame{Tag: ProtocolTag, Sender: r.Sender, SendTime: r.SendTime, Meta: r.Meta})
	if err != nil {
		return nil, fmt.Errorf("encoding CMDP log header: %w", err)
	}
	return [][]byte{[]byte(r.Topic()), header, []byte(r.Message)}, nil
}

// EncodeMetric serializes a Metric to CMDP's three-frame wire form:
// topic, header (meta always nil for metrics), payload (value,
// handling, unit as a three-element msgpack array).
func EncodeMetric(m *Metric) ([][]byte, error) {
	header, err := msgpack.Marshal(&headerFrame{Tag: ProtocolTag, Sender: m.Sender, SendTime: m.SendTime})
	if err != nil {
		return nil, fmt.Errorf("encoding CMDP metric header: %w", err)
	}
	payload, err := msgpack.Marshal([]interface{}{m.Value, uint8(m.Handling), m.Unit})
	if err != nil {
		return nil, fmt.Errorf("encoding CMDP metric payload: %w", err)
	}
	return [][]byte{[]byte(m.Topic()), header, payload}, nil
}

// Decode parses a three-frame CMDP message into either a *LogRecord or
// a *Metric, selected by the topic's LOG/ or STAT/ prefix.
func Decode(frames [][]byte) (interface{}, error) {
	if len(frames) != 3 {
		return nil, fmt.Errorf("malformed CMDP message: expected 3 frames, got %d", len(frames))
	}
	topic := string(frames[0])

	var hdr headerFrame
	if err := msgpack.Unmarshal(frames[1], &hdr); err != nil {
		return nil, fmt.Errorf("decoding CMDP header: %w", err)
	}
	if hdr.Tag != ProtocolTag {
		return nil, fmt.Errorf("unexpected CMDP protocol tag %q", hdr.Tag)
	}

	switch {
	case strings.HasPrefix(topic, "STAT/"):
		var fields []interface{}
		if err := msgpack.Unmarshal(frames[2], &fields); err != nil {
			return nil, fmt.Errorf("decoding CMDP metric payload: %w", err)
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed CMDP metric payload: expected 3 fields, got %d", len(fields))
		}
		handling, err := toUint8(fields[1])
		if err != nil {
			return nil, fmt.Errorf("malformed CMDP metric handling: %w", err)
		}
		unit, _ := fields[2].(string)
		return &Metric{
			Name:     strings.TrimPrefix(topic, "STAT/"),
			Unit:     unit,
			Handling: MetricHandling(handling),
			Value:    fields[0],
			Sender:   hdr.Sender,
			SendTime: hdr.SendTime.UTC(),
			Meta:     hdr.Meta,
		}, nil

	case strings.HasPrefix(topic, "LOG/"):
		parts := strings.SplitN(strings.TrimPrefix(topic, "LOG/"), "/", 2)
		level := NormalizeLevel(parts[0])
		logger := ""
		if len(parts) == 2 {
			logger = parts[1]
		}
		return &LogRecord{
			Level:    level,
			Logger:   logger,
			Message:  string(frames[2]),
			Sender:   hdr.Sender,
			SendTime: hdr.SendTime.UTC(),
			Meta:     hdr.Meta,
		}, nil

	default:
		return nil, fmt.Errorf("malformed CMDP message: unrecognised topic %q", topic)
	}
}

func toUint8(v interface{}) (uint8, error) {
	switch n := v.(type) {
	case int64:
		return uint8(n), nil
	case uint64:
		return uint8(n), nil
	case int8:
		return uint8(n), nil
	case uint8:
		return n, nil
	case int:
		return uint8(n), nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}
