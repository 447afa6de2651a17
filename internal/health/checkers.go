// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"time"
)

// OllamaChecker probes the model server. An unreachable model server makes
// the daemon not ready: every operation besides upload needs it.
type OllamaChecker struct {
	ping func(ctx context.Context) error
}

// NewOllamaChecker creates a checker around the client's Ping.
func NewOllamaChecker(ping func(ctx context.Context) error) *OllamaChecker {
	return &OllamaChecker{ping: ping}
}

func (c *OllamaChecker) Name() string { return "ollama" }

func (c *OllamaChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.ping(ctx); err != nil {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  err.Error(),
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: "model server reachable",
	}
}

// KnowledgeChecker reports whether the knowledge base is trained. An
// untrained KB only degrades the daemon: uploads and training still work.
type KnowledgeChecker struct {
	ready func() bool
	count func() int
}

// NewKnowledgeChecker creates a checker over the index state.
func NewKnowledgeChecker(ready func() bool, count func() int) *KnowledgeChecker {
	return &KnowledgeChecker{ready: ready, count: count}
}

func (c *KnowledgeChecker) Name() string { return "knowledge_base" }

func (c *KnowledgeChecker) Check(context.Context) CheckResult {
	if !c.ready() {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "knowledge base not trained",
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: "knowledge base trained",
	}
}

// DatabaseChecker pings the run store.
type DatabaseChecker struct {
	ping func(ctx context.Context) error
}

// NewDatabaseChecker creates a checker around the store's Ping.
func NewDatabaseChecker(ping func(ctx context.Context) error) *DatabaseChecker {
	return &DatabaseChecker{ping: ping}
}

func (c *DatabaseChecker) Name() string { return "database" }

func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.ping(ctx); err != nil {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  err.Error(),
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: "database reachable",
	}
}

// LastRunChecker reports on the most recent completed audit run. A fresh
// deployment without any run is healthy; a stale one degrades.
type LastRunChecker struct {
	getLastRun func(ctx context.Context) (time.Time, error)
	maxAge     time.Duration
}

// NewLastRunChecker creates a checker for last completed run recency.
func NewLastRunChecker(getLastRun func(ctx context.Context) (time.Time, error), maxAge time.Duration) *LastRunChecker {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	return &LastRunChecker{getLastRun: getLastRun, maxAge: maxAge}
}

func (c *LastRunChecker) Name() string { return "last_run" }

func (c *LastRunChecker) Check(ctx context.Context) CheckResult {
	lastRun, err := c.getLastRun(ctx)
	if err != nil {
		return CheckResult{
			Status: StatusDegraded,
			Error:  err.Error(),
		}
	}
	if lastRun.IsZero() {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "no completed run yet",
		}
	}
	if time.Since(lastRun) > c.maxAge {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "last completed run older than " + c.maxAge.String(),
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: "last run completed recently",
	}
}
