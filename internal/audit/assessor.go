// SPDX-License-Identifier: MIT

package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/subhogram/riskobot/internal/knowledge"
	"github.com/subhogram/riskobot/internal/log"
	"github.com/subhogram/riskobot/internal/metrics"
	"github.com/subhogram/riskobot/internal/ollama"
	"github.com/subhogram/riskobot/internal/types"
)

// ErrNoEvidence is returned when no evidence document has usable text.
var ErrNoEvidence = errors.New("audit: no valid evidence found")

// EvidenceDocument is one extracted evidence file to assess.
type EvidenceDocument struct {
	Source string
	Text   string
}

// Result is the assessment of one evidence chunk.
type Result struct {
	EvidenceFile     string        `json:"evidence_file"`
	ChunkIndex       int           `json:"chunk_index"`
	Policy           string        `json:"policy"`
	Verdict          types.Verdict `json:"verdict"`
	ControlStatement string        `json:"control_statement,omitempty"`
	Assessment       string        `json:"assessment"`
	Err              string        `json:"error,omitempty"`
}

// Options configures an Assessor.
type Options struct {
	Workers int // concurrent assessment calls, default 4
	TopK    int // KB context chunks per evidence chunk, default 3
}

// Assessor runs compliance assessments of evidence chunks against the
// knowledge base.
type Assessor struct {
	llm      ollama.LLMClient
	kb       *knowledge.Index
	splitter *knowledge.Splitter
	workers  int
	topK     int
}

// NewAssessor creates an Assessor over the given model and knowledge base.
func NewAssessor(llm ollama.LLMClient, kb *knowledge.Index, splitter *knowledge.Splitter, opts Options) *Assessor {
	workers := opts.Workers
	if workers < 1 {
		workers = 4
	}
	topK := opts.TopK
	if topK < 1 {
		topK = 3
	}
	return &Assessor{llm: llm, kb: kb, splitter: splitter, workers: workers, topK: topK}
}

type evidenceChunk struct {
	source string
	index  int // chunk index within the source document
	text   string
	policy string
}

// Assess splits the evidence documents into chunks, maps each document to its
// most relevant policy, and assesses every chunk concurrently against top-k
// knowledge base context. A chunk whose model call fails yields a Result with
// VerdictUnknown and the error recorded; the run itself still completes.
//
// Assessing against an untrained knowledge base returns ErrNotTrained.
func (a *Assessor) Assess(ctx context.Context, docs []EvidenceDocument, policies []Policy) ([]Result, error) {
	if !a.kb.Ready() {
		return nil, knowledge.ErrNotTrained
	}

	logger := log.WithComponentFromContext(ctx, "audit")
	start := time.Now()

	var chunks []evidenceChunk
	for i, doc := range docs {
		splits := a.splitter.Split(doc.Text)
		if len(splits) == 0 {
			logger.Warn().
				Str(log.FieldEvent, "audit.evidence_empty").
				Str(log.FieldFilename, doc.Source).
				Int("index", i).
				Msg("evidence document is empty and skipped")
			continue
		}

		policyID := ""
		if len(policies) > 0 {
			matched, err := MatchEvidence(ctx, a.llm, doc.Text, policies)
			if err != nil {
				logger.Warn().Err(err).
					Str(log.FieldEvent, "audit.match_failed").
					Str(log.FieldFilename, doc.Source).
					Msg("policy matching failed, leaving evidence unmapped")
			} else {
				policyID = matched.ID
			}
		}

		for j, text := range splits {
			chunks = append(chunks, evidenceChunk{source: doc.Source, index: j, text: text, policy: policyID})
		}
		logger.Info().
			Str(log.FieldEvent, "audit.evidence_split").
			Str(log.FieldFilename, doc.Source).
			Int(log.FieldChunks, len(splits)).
			Msg("evidence document split into chunks")
	}
	if len(chunks) == 0 {
		return nil, ErrNoEvidence
	}

	logger.Info().
		Str(log.FieldEvent, "audit.assessing").
		Int(log.FieldChunks, len(chunks)).
		Int("workers", a.workers).
		Msg("assessing evidence chunks")

	results := make([]Result, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, chunk := range chunks {
		g.Go(func() error {
			results[i] = a.assessOne(gctx, chunk)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range results {
		metrics.IncVerdict(r.Verdict.String())
	}
	logger.Info().
		Str(log.FieldEvent, "audit.assessed").
		Int(log.FieldChunks, len(results)).
		Dur("duration", time.Since(start)).
		Msg("assessment completed")
	return results, nil
}

func (a *Assessor) assessOne(ctx context.Context, chunk evidenceChunk) Result {
	res := Result{
		EvidenceFile: chunk.source,
		ChunkIndex:   chunk.index,
		Policy:       chunk.policy,
		Verdict:      types.VerdictUnknown,
	}

	scored, err := a.kb.Search(ctx, chunk.text, a.topK)
	if err != nil {
		res.Err = fmt.Sprintf("context retrieval failed: %v", err)
		return res
	}
	contexts := make([]string, len(scored))
	for i, s := range scored {
		contexts[i] = s.Chunk.Text
	}

	reply, err := a.llm.Generate(ctx, assessmentPrompt(chunk.text, strings.Join(contexts, "\n\n")))
	if err != nil {
		logger := log.WithComponentFromContext(ctx, "audit")
		logger.Error().Err(err).
			Str(log.FieldEvent, "audit.chunk_failed").
			Str(log.FieldFilename, chunk.source).
			Int("chunk", chunk.index).
			Msg("assessment failed for chunk")
		res.Err = err.Error()
		return res
	}

	res.Assessment = reply
	res.Verdict = types.ClassifyVerdict(reply)
	res.ControlStatement = fieldValue(reply, "Control Statement")
	return res
}

// Answer produces a chat reply grounded in top-k knowledge base context and
// the first few recent assessments.
func (a *Assessor) Answer(ctx context.Context, question string, recent []Result) (string, error) {
	scored, err := a.kb.Search(ctx, question, a.topK)
	if err != nil {
		return "", fmt.Errorf("audit: chat context retrieval: %w", err)
	}
	contexts := make([]string, len(scored))
	for i, s := range scored {
		contexts[i] = s.Chunk.Text
	}

	var assessments []string
	for i, r := range recent {
		if i == 3 {
			break
		}
		assessments = append(assessments, r.Assessment)
	}

	reply, err := a.llm.Generate(ctx, chatPrompt(question, strings.Join(contexts, "\n\n"), strings.Join(assessments, "\n\n")))
	if err != nil {
		return "", fmt.Errorf("audit: chat: %w", err)
	}
	return reply, nil
}
