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

package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Group selects a subset of a Configuration's top-level keys for
// display: every key, only user-facing keys, or only keys whose name
// starts with "_" (conventionally internal/framework bookkeeping).
type Group int

const (
	GroupAll Group = iota
	GroupUser
	GroupInternal
)

// Configuration is the root Section of a configuration tree.
type Configuration struct {
	*Section
}

// New validates raw (duplicate keys after case-folding, homogeneous
// scalar arrays, scalar types, UTC-normalized timestamps) and returns
// the resulting Configuration. raw's scalar values are converted/
// normalized in place; the Configuration holds lowercased copies of the
// keys, and raw's own keys are left as they were.
func New(raw map[string]interface{}) (*Configuration, error) {
	if raw == nil {
		raw = make(map[string]interface{})
	}
	if err := validate(raw, ""); err != nil {
		return nil, err
	}
	lowercased := lowercaseKeys(raw)
	root, err := newSection("", lowercased)
	if err != nil {
		return nil, err
	}
	return &Configuration{Section: root}, nil
}

// validate checks key uniqueness (case-folded), array homogeneity,
// and scalar typing, converting time.Time values to UTC in place.
func validate(dictionary map[string]interface{}, prefix string) error {
	seen := make(map[string]bool, len(dictionary))
	for key, value := range dictionary {
		keyLC := strings.ToLower(key)
		prefixedKey := prefix + keyLC
		if seen[keyLC] {
			return &DuplicateKeyError{Key: prefixedKey}
		}
		seen[keyLC] = true

		switch v := value.(type) {
		case []interface{}:
			if len(v) == 0 {
				continue
			}
			first := fmt.Sprintf("%T", v[0])
			converted := make([]interface{}, len(v))
			for i, elem := range v {
				if fmt.Sprintf("%T", elem) != first {
					return &NotHomogeneousError{Key: prefixedKey}
				}
				converted[i] = convertScalar(elem)
			}
			if !isScalar(converted[0]) {
				return &NotScalarError{Key: prefixedKey}
			}
			dictionary[key] = converted
		case map[string]interface{}:
			if err := validate(v, prefixedKey+"."); err != nil {
				return err
			}
		default:
			converted := convertScalar(value)
			dictionary[key] = converted
			if !isScalar(converted) {
				return &NotScalarError{Key: prefixedKey}
			}
		}
	}
	return nil
}

func convertScalar(value interface{}) interface{} {
	switch v := value.(type) {
	case time.Time:
		return v.UTC()
	case int:
		return int64(v)
	default:
		return value
	}
}

func isScalar(value interface{}) bool {
	switch value.(type) {
	case bool, int64, int, float64, string, time.Time:
		return true
	default:
		return false
	}
}

func lowercaseKeys(dictionary map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(dictionary))
	for key, value := range dictionary {
		if sub, ok := value.(map[string]interface{}); ok {
			value = lowercaseKeys(sub)
		}
		out[strings.ToLower(key)] = value
	}
	return out
}

// UnusedKeys returns every key (dotted, recursively) supplied to this
// Configuration that has not yet been read via Get/GetSection, without
// removing them.
func (c *Configuration) UnusedKeys() []string {
	return c.unusedKeys()
}

// String renders the configuration tree as indented "key: value"
// lines for group's subset of top-level keys.
func (c *Configuration) String(group Group) string {
	c.mu.RLock()
	values := c.values
	c.mu.RUnlock()

	filtered := values
	if group != GroupAll {
		filtered = make(map[string]interface{}, len(values))
		for key, value := range values {
			isInternal := strings.HasPrefix(key, "_")
			if (group == GroupUser && !isInternal) || (group == GroupInternal && isInternal) {
				filtered[key] = value
			}
		}
	}
	return formatDict(filtered, 2)
}

func formatDict(dictionary map[string]interface{}, indent int) string {
	var b strings.Builder
	indentStr := strings.Repeat(" ", indent)
	for _, key := range sortedKeys(dictionary) {
		value := dictionary[key]
		if sub, ok := value.(map[string]interface{}); ok {
			fmt.Fprintf(&b, "%s%s:%s\n", indentStr, key, indentBlock(formatDict(sub, indent+2)))
		} else {
			fmt.Fprintf(&b, "%s%s: %v\n", indentStr, key, value)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func indentBlock(s string) string {
	if s == "" {
		return ""
	}
	return "\n" + s
}

func sortedKeys(dictionary map[string]interface{}) []string {
	out := make([]string, 0, len(dictionary))
	for key := range dictionary {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Assemble encodes the configuration tree to a single MessagePack
// object, for carrying as a CSCP payload (e.g. in a BOR record or a
// get_config reply).
func (c *Configuration) Assemble() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msgpack.Marshal(c.values)
}

// Disassemble decodes a MessagePack object produced by Assemble back
// into a Configuration.
func Disassemble(frame []byte) (*Configuration, error) {
	var raw map[string]interface{}
	if err := msgpack.Unmarshal(frame, &raw); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	return New(raw)
}
