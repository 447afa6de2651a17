// SPDX-License-Identifier: MIT

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseString(t *testing.T) {
	t.Setenv("RISKOBOT_TEST_STR", "value")
	assert.Equal(t, "value", ParseString("RISKOBOT_TEST_STR", "default"))
	assert.Equal(t, "default", ParseString("RISKOBOT_TEST_STR_MISSING", "default"))

	t.Setenv("RISKOBOT_TEST_EMPTY", "")
	assert.Equal(t, "default", ParseString("RISKOBOT_TEST_EMPTY", "default"))
}

func TestParseInt(t *testing.T) {
	t.Setenv("RISKOBOT_TEST_INT", "42")
	assert.Equal(t, 42, ParseInt("RISKOBOT_TEST_INT", 1))

	t.Setenv("RISKOBOT_TEST_INT_BAD", "forty-two")
	assert.Equal(t, 1, ParseInt("RISKOBOT_TEST_INT_BAD", 1))
	assert.Equal(t, 1, ParseInt("RISKOBOT_TEST_INT_MISSING", 1))
}

func TestParseBool(t *testing.T) {
	t.Setenv("RISKOBOT_TEST_BOOL", "true")
	assert.True(t, ParseBool("RISKOBOT_TEST_BOOL", false))

	t.Setenv("RISKOBOT_TEST_BOOL_BAD", "yep")
	assert.False(t, ParseBool("RISKOBOT_TEST_BOOL_BAD", false))
}

func TestParseDuration(t *testing.T) {
	t.Setenv("RISKOBOT_TEST_DUR", "90s")
	assert.Equal(t, 90*time.Second, ParseDuration("RISKOBOT_TEST_DUR", time.Minute))

	t.Setenv("RISKOBOT_TEST_DUR_BAD", "soon")
	assert.Equal(t, time.Minute, ParseDuration("RISKOBOT_TEST_DUR_BAD", time.Minute))
}

func TestParseFloat(t *testing.T) {
	t.Setenv("RISKOBOT_TEST_FLOAT", "2.5")
	assert.Equal(t, 2.5, ParseFloat("RISKOBOT_TEST_FLOAT", 1))
	assert.Equal(t, 1.0, ParseFloat("RISKOBOT_TEST_FLOAT_MISSING", 1))
}

func TestParseStringSlice(t *testing.T) {
	t.Setenv("RISKOBOT_TEST_SLICE", "a, b ,c,,")
	assert.Equal(t, []string{"a", "b", "c"}, ParseStringSlice("RISKOBOT_TEST_SLICE", nil))
	assert.Equal(t, []string{"x"}, ParseStringSlice("RISKOBOT_TEST_SLICE_MISSING", []string{"x"}))
}
