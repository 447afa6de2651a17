// SPDX-License-Identifier: MIT

// Package audit implements the assessment pipeline: policy roster extraction,
// evidence-to-policy matching and concurrent compliance assessment of evidence
// chunks against the knowledge base.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/subhogram/riskobot/internal/log"
	"github.com/subhogram/riskobot/internal/ollama"
)

// ErrNoPolicies is returned when the model reply yields no parseable policies.
var ErrNoPolicies = errors.New("audit: no policies extracted")

// Policy is one control extracted from the policy documents.
type Policy struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// ExtractPolicies asks the model to enumerate the controls found in the
// concatenated policy texts and parses its "ID: description" reply lines.
// Lines without a colon, or with an empty side, are skipped.
func ExtractPolicies(ctx context.Context, llm ollama.LLMClient, policyTexts []string) ([]Policy, error) {
	fullPolicy := strings.Join(policyTexts, "\n\n")
	if strings.TrimSpace(fullPolicy) == "" {
		return nil, ErrNoPolicies
	}

	reply, err := llm.Generate(ctx, policyExtractionPrompt(fullPolicy))
	if err != nil {
		return nil, fmt.Errorf("audit: extract policies: %w", err)
	}

	var policies []Policy
	for _, line := range strings.Split(reply, "\n") {
		id, desc, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		id = strings.TrimSpace(id)
		desc = strings.TrimSpace(desc)
		if id == "" || desc == "" {
			continue
		}
		policies = append(policies, Policy{ID: id, Description: desc})
	}
	if len(policies) == 0 {
		return nil, ErrNoPolicies
	}

	logger := log.WithComponentFromContext(ctx, "audit")
	logger.Info().
		Str(log.FieldEvent, "audit.policies_extracted").
		Int("policies", len(policies)).
		Msg("policy roster extracted")
	return policies, nil
}

// MatchEvidence asks the model which policy the evidence belongs to and
// resolves the reply against the roster: first by ID substring, then by
// description substring, case-insensitively. An unresolvable reply falls back
// to the first policy, matching how an auditor triages unmapped evidence.
func MatchEvidence(ctx context.Context, llm ollama.LLMClient, evidence string, policies []Policy) (Policy, error) {
	if len(policies) == 0 {
		return Policy{}, ErrNoPolicies
	}

	reply, err := llm.Generate(ctx, policyMatchPrompt(evidence, policies))
	if err != nil {
		return Policy{}, fmt.Errorf("audit: match evidence: %w", err)
	}

	match, _, _ := strings.Cut(strings.TrimSpace(reply), "\n")
	needle := strings.ToLower(strings.TrimSpace(match))
	if needle != "" {
		for _, p := range policies {
			if strings.Contains(strings.ToLower(p.ID), needle) || strings.Contains(strings.ToLower(p.Description), needle) {
				return p, nil
			}
		}
	}
	return policies[0], nil
}
