// SPDX-License-Identifier: MIT

// Package metrics defines the Prometheus instrumentation for riskobot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	documentsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskobot_documents_ingested_total",
		Help: "Documents ingested by kind and outcome",
	}, []string{"kind", "outcome"}) // kind=policy|evidence, outcome=success|empty|error

	extractionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskobot_extraction_total",
		Help: "Text extraction attempts by format and outcome",
	}, []string{"format", "outcome"})

	// Knowledge base metrics
	kbChunks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "riskobot_kb_chunks",
		Help: "Number of chunks in the trained knowledge base",
	})

	kbTrainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "riskobot_kb_train_duration_seconds",
		Help:    "Knowledge base training duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	// LLM metrics
	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskobot_llm_requests_total",
		Help: "Ollama requests by operation and outcome",
	}, []string{"op", "outcome"}) // op=generate|embed|ping

	llmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "riskobot_llm_request_duration_seconds",
		Help:    "Ollama request latencies in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"op"})

	// Assessment metrics
	assessmentVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskobot_assessment_verdicts_total",
		Help: "Evidence chunk assessments by verdict",
	}, []string{"verdict"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskobot_runs_total",
		Help: "Audit runs by final status",
	}, []string{"status"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "riskobot_run_duration_seconds",
		Help:    "Audit run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// Cache metrics
	cacheOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskobot_cache_ops_total",
		Help: "Cache operations by kind and outcome",
	}, []string{"kind", "outcome"}) // kind=embedding|chat, outcome=hit|miss

	// Workbook metrics
	workbookWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "riskobot_workbook_writes_total",
		Help: "Audit workbook writes by outcome",
	}, []string{"outcome"})
)

// IncDocumentIngested records a document ingestion outcome.
func IncDocumentIngested(kind, outcome string) {
	documentsIngested.WithLabelValues(kind, outcome).Inc()
}

// IncExtraction records a text extraction attempt.
func IncExtraction(format, outcome string) {
	extractionTotal.WithLabelValues(format, outcome).Inc()
}

// SetKBChunks records the current knowledge base size.
func SetKBChunks(n int) {
	kbChunks.Set(float64(n))
}

// ObserveKBTrain records a training duration.
func ObserveKBTrain(d time.Duration) {
	kbTrainDuration.Observe(d.Seconds())
}

// IncLLMRequest records an Ollama request outcome.
func IncLLMRequest(op, outcome string) {
	llmRequests.WithLabelValues(op, outcome).Inc()
}

// ObserveLLMRequest records an Ollama request latency.
func ObserveLLMRequest(op string, d time.Duration) {
	llmRequestDuration.WithLabelValues(op).Observe(d.Seconds())
}

// IncVerdict records an assessment verdict.
func IncVerdict(verdict string) {
	assessmentVerdicts.WithLabelValues(verdict).Inc()
}

// IncRun records a finished audit run.
func IncRun(status string) {
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveRunDuration records an audit run duration.
func ObserveRunDuration(d time.Duration) {
	runDuration.Observe(d.Seconds())
}

// IncCacheOp records a cache hit or miss.
func IncCacheOp(kind, outcome string) {
	cacheOps.WithLabelValues(kind, outcome).Inc()
}

// IncWorkbookWrite records a workbook write outcome.
func IncWorkbookWrite(outcome string) {
	workbookWrites.WithLabelValues(outcome).Inc()
}
