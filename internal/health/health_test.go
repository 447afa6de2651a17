// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticChecker struct {
	name   string
	result CheckResult
}

func (c staticChecker) Name() string                      { return c.name }
func (c staticChecker) Check(context.Context) CheckResult { return c.result }

func TestHealthAlwaysAlive(t *testing.T) {
	m := NewManager("1.2.3")
	m.RegisterChecker(staticChecker{name: "broken", result: CheckResult{Status: StatusUnhealthy}})

	resp := m.Health(t.Context(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Empty(t, resp.Checks)
}

func TestHealthVerboseAggregates(t *testing.T) {
	m := NewManager("dev")
	m.RegisterChecker(staticChecker{name: "ok", result: CheckResult{Status: StatusHealthy}})
	m.RegisterChecker(staticChecker{name: "slow", result: CheckResult{Status: StatusDegraded}})

	resp := m.Health(t.Context(), true)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)
}

func TestReadyNoCheckers(t *testing.T) {
	m := NewManager("dev")
	resp := m.Ready(t.Context())
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestReadyUnhealthyComponent(t *testing.T) {
	m := NewManager("dev")
	m.RegisterChecker(staticChecker{name: "db", result: CheckResult{Status: StatusUnhealthy, Error: "down"}})

	resp := m.Ready(t.Context())
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestReadyDegradedStillReady(t *testing.T) {
	m := NewManager("dev")
	m.RegisterChecker(staticChecker{name: "kb", result: CheckResult{Status: StatusDegraded}})

	resp := m.Ready(t.Context())
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusDegraded, resp.Status)
}

func TestServeHealthStatusCode(t *testing.T) {
	m := NewManager("dev")
	m.RegisterChecker(staticChecker{name: "broken", result: CheckResult{Status: StatusUnhealthy}})

	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 200, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestServeReadyStatusCode(t *testing.T) {
	m := NewManager("dev")
	m.RegisterChecker(staticChecker{name: "broken", result: CheckResult{Status: StatusUnhealthy}})

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest("GET", "/readyz", nil))
	assert.Equal(t, 503, rec.Code)
}

func TestOllamaChecker(t *testing.T) {
	ok := NewOllamaChecker(func(context.Context) error { return nil })
	assert.Equal(t, StatusHealthy, ok.Check(t.Context()).Status)

	down := NewOllamaChecker(func(context.Context) error { return errors.New("connection refused") })
	result := down.Check(t.Context())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Contains(t, result.Error, "connection refused")
}

func TestKnowledgeChecker(t *testing.T) {
	trained := NewKnowledgeChecker(func() bool { return true }, func() int { return 42 })
	assert.Equal(t, StatusHealthy, trained.Check(t.Context()).Status)

	untrained := NewKnowledgeChecker(func() bool { return false }, func() int { return 0 })
	assert.Equal(t, StatusDegraded, untrained.Check(t.Context()).Status)
}

func TestDatabaseChecker(t *testing.T) {
	down := NewDatabaseChecker(func(context.Context) error { return errors.New("locked") })
	assert.Equal(t, StatusUnhealthy, down.Check(t.Context()).Status)
}

func TestLastRunChecker(t *testing.T) {
	fresh := NewLastRunChecker(func(context.Context) (time.Time, error) {
		return time.Time{}, nil
	}, time.Hour)
	assert.Equal(t, StatusHealthy, fresh.Check(t.Context()).Status)

	recent := NewLastRunChecker(func(context.Context) (time.Time, error) {
		return time.Now().Add(-time.Minute), nil
	}, time.Hour)
	assert.Equal(t, StatusHealthy, recent.Check(t.Context()).Status)

	stale := NewLastRunChecker(func(context.Context) (time.Time, error) {
		return time.Now().Add(-2 * time.Hour), nil
	}, time.Hour)
	assert.Equal(t, StatusDegraded, stale.Check(t.Context()).Status)
}
