// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconfigureAttachesServiceAndVersion(t *testing.T) {
	var buf bytes.Buffer
	Reconfigure(Config{Level: "debug", Output: &buf, Service: "riskobot-test", Version: "v1.2.3"})

	logger := WithComponent("unit")
	logger.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "riskobot-test", entry["service"])
	assert.Equal(t, "v1.2.3", entry["version"])
	assert.Equal(t, "unit", entry["component"])
	assert.Equal(t, "hello", entry["message"])
}

func TestWithContextCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	Reconfigure(Config{Level: "debug", Output: &buf, Service: "riskobot-test"})

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithRunID(ctx, "run-9")

	logger := WithComponentFromContext(ctx, "audit")
	logger.Info().Msg("assess")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-1", entry[FieldRequestID])
	assert.Equal(t, "run-9", entry[FieldRunID])
}

func TestFromContextFallsBackToBase(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
}

func TestContextHelpersNilSafe(t *testing.T) {
	//nolint:staticcheck // explicit nil-context behaviour under test
	assert.Empty(t, RequestIDFromContext(nil))
	//nolint:staticcheck
	assert.Empty(t, RunIDFromContext(nil))
}
