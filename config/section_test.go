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
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMissingKeyReturnsMissingKeyError(t *testing.T) {
	cfg, err := New(nil)
	require.NoError(t, err)
	_, err = cfg.Get("absent")
	assert.IsType(t, &MissingKeyError{}, err)
}

func TestGetAppliesDefaultOnlyWhenUnset(t *testing.T) {
	cfg, err := New(map[string]interface{}{"voltage": int64(5)})
	require.NoError(t, err)

	v, err := cfg.GetInt("voltage", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	def := int64(42)
	v, err = cfg.GetInt("current", &def, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestGetIntEnforcesBounds(t *testing.T) {
	cfg, err := New(map[string]interface{}{"voltage": int64(500)})
	require.NoError(t, err)

	minV, maxV := int64(0), int64(100)
	_, err = cfg.GetInt("voltage", nil, &minV, &maxV)
	require.Error(t, err)
	assert.IsType(t, &InvalidValueError{}, err)
}

func TestGetOnSectionKeyRequiresGetSection(t *testing.T) {
	cfg, err := New(map[string]interface{}{"device": map[string]interface{}{"port": int64(1)}})
	require.NoError(t, err)
	_, err = cfg.Get("device")
	assert.IsType(t, &InvalidTypeError{}, err)
}

func TestCountRequiresNonEmptyKeyList(t *testing.T) {
	cfg, err := New(nil)
	require.NoError(t, err)
	_, err = cfg.Count(nil)
	assert.Error(t, err)
}

func TestCountCountsDefinedKeys(t *testing.T) {
	cfg, err := New(map[string]interface{}{"a": int64(1), "b": int64(2)})
	require.NoError(t, err)
	n, err := cfg.Count([]string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSetAliasRenamesKey(t *testing.T) {
	cfg, err := New(map[string]interface{}{"old_name": int64(5)})
	require.NoError(t, err)
	cfg.SetAlias("new_name", "old_name")

	assert.False(t, cfg.Has("old_name"))
	v, err := cfg.GetInt("new_name", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func TestGetArrayWrapsBareScalar(t *testing.T) {
	cfg, err := New(map[string]interface{}{"single": "only"})
	require.NoError(t, err)
	arr, err := cfg.GetArray("single")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"only"}, arr)
}

func TestResolveEnvSubstitutesVariable(t *testing.T) {
	require.NoError(t, os.Setenv("CONSTELLATION_TEST_VAR", "resolved"))
	defer os.Unsetenv("CONSTELLATION_TEST_VAR")

	cfg, err := New(map[string]interface{}{"path": "${CONSTELLATION_TEST_VAR}/data"})
	require.NoError(t, err)
	v, err := cfg.GetString("path")
	require.NoError(t, err)
	assert.Equal(t, "resolved/data", v)
}

func TestResolveEnvUsesDefaultWhenUnset(t *testing.T) {
	require.NoError(t, os.Unsetenv("CONSTELLATION_TEST_MISSING"))

	cfg, err := New(map[string]interface{}{"path": "${CONSTELLATION_TEST_MISSING:-/fallback}"})
	require.NoError(t, err)
	v, err := cfg.GetString("path")
	require.NoError(t, err)
	assert.Equal(t, "/fallback", v)
}

func TestResolveEnvErrorsWhenUndefinedAndNoDefault(t *testing.T) {
	require.NoError(t, os.Unsetenv("CONSTELLATION_TEST_MISSING"))

	cfg, err := New(map[string]interface{}{"path": "${CONSTELLATION_TEST_MISSING}"})
	require.NoError(t, err)
	_, err = cfg.GetString("path")
	require.Error(t, err)
	assert.IsType(t, &MissingEnvVarError{}, err)
}

func TestResolveEnvHonorsEscapedDollar(t *testing.T) {
	cfg, err := New(map[string]interface{}{"literal": `\$5`})
	require.NoError(t, err)
	v, err := cfg.GetString("literal")
	require.NoError(t, err)
	assert.Equal(t, "$5", v)
}
