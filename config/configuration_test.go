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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLowercasesKeys(t *testing.T) {
	cfg, err := New(map[string]interface{}{"Voltage": int64(5)})
	require.NoError(t, err)
	assert.True(t, cfg.Has("voltage"))
	assert.True(t, cfg.Has("VOLTAGE"))
}

func TestNewRejectsDuplicateKeysAfterCaseFold(t *testing.T) {
	_, err := New(map[string]interface{}{"Voltage": int64(1), "voltage": int64(2)})
	require.Error(t, err)
	assert.IsType(t, &DuplicateKeyError{}, err)
}

func TestNewRejectsNonHomogeneousArray(t *testing.T) {
	_, err := New(map[string]interface{}{"channels": []interface{}{int64(1), "two"}})
	require.Error(t, err)
	assert.IsType(t, &NotHomogeneousError{}, err)
}

func TestNewNormalizesTimestampToUTC(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	stamp := time.Date(2026, 1, 1, 12, 0, 0, 0, loc)
	cfg, err := New(map[string]interface{}{"start": stamp})
	require.NoError(t, err)

	got, err := cfg.GetTime("start")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, stamp.Unix(), got.Unix())
}

func TestNewBuildsNestedSections(t *testing.T) {
	cfg, err := New(map[string]interface{}{
		"device": map[string]interface{}{"address": "192.0.2.1", "port": int64(9000)},
	})
	require.NoError(t, err)

	section, err := cfg.GetSection("device", nil)
	require.NoError(t, err)
	addr, err := section.GetString("address")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", addr)
}

func TestUnusedKeysReportsUnreadKeys(t *testing.T) {
	cfg, err := New(map[string]interface{}{"used": int64(1), "unused": int64(2)})
	require.NoError(t, err)

	_, err = cfg.Get("used")
	require.NoError(t, err)

	assert.Equal(t, []string{"unused"}, cfg.UnusedKeys())
}

func TestUnusedKeysSkipsUsedSection(t *testing.T) {
	cfg, err := New(map[string]interface{}{
		"device": map[string]interface{}{"address": "x", "port": int64(1)},
	})
	require.NoError(t, err)

	section, err := cfg.GetSection("device", nil)
	require.NoError(t, err)
	_, _ = section.GetString("address")

	assert.Equal(t, []string{"device.port"}, cfg.UnusedKeys())
}

func TestUnusedKeysReportsEntireUnusedSection(t *testing.T) {
	cfg, err := New(map[string]interface{}{
		"device": map[string]interface{}{"address": "x", "port": int64(1)},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"device"}, cfg.UnusedKeys())
}

func TestAssembleDisassembleRoundTrips(t *testing.T) {
	cfg, err := New(map[string]interface{}{
		"voltage": 5.5,
		"name":    "sensor1",
		"device":  map[string]interface{}{"port": int64(9000)},
	})
	require.NoError(t, err)

	frame, err := cfg.Assemble()
	require.NoError(t, err)

	restored, err := Disassemble(frame)
	require.NoError(t, err)

	name, err := restored.GetString("name")
	require.NoError(t, err)
	assert.Equal(t, "sensor1", name)
}

func TestStringFiltersByGroup(t *testing.T) {
	cfg, err := New(map[string]interface{}{"voltage": int64(5), "_internal": "secret"})
	require.NoError(t, err)

	userView := cfg.String(GroupUser)
	assert.Contains(t, userView, "voltage")
	assert.NotContains(t, userView, "_internal")

	internalView := cfg.String(GroupInternal)
	assert.Contains(t, internalView, "_internal")
	assert.NotContains(t, internalView, "voltage")
}

func TestUpdateRejectsUnknownKey(t *testing.T) {
	cfg, err := New(map[string]interface{}{"voltage": int64(5)})
	require.NoError(t, err)
	patch, err := New(map[string]interface{}{"current": int64(1)})
	require.NoError(t, err)

	err = cfg.Update(patch.Section)
	require.Error(t, err)
	assert.IsType(t, &UpdateError{}, err)
}

func TestUpdateRejectsTypeChange(t *testing.T) {
	cfg, err := New(map[string]interface{}{"voltage": int64(5)})
	require.NoError(t, err)
	patch, err := New(map[string]interface{}{"voltage": "five"})
	require.NoError(t, err)

	err = cfg.Update(patch.Section)
	require.Error(t, err)
}

func TestUpdateAppliesCompatibleValues(t *testing.T) {
	cfg, err := New(map[string]interface{}{"voltage": int64(5)})
	require.NoError(t, err)
	patch, err := New(map[string]interface{}{"voltage": int64(7)})
	require.NoError(t, err)

	require.NoError(t, cfg.Update(patch.Section))

	v, err := cfg.GetInt("voltage", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
}
