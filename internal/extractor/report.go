// Package extractor turns a transcript into a validated Report: it renders
// the scoring prompt, calls the scoring provider and parses its free-form
// answer, asking the provider to correct malformed output a bounded number
// of times.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"english-eval-go/internal/aggregator"
	"english-eval-go/internal/config"
	"english-eval-go/internal/evalerr"
	"english-eval-go/internal/logger"
	"english-eval-go/internal/types"
)

const (
	ScorePolicyReject = "reject"
	ScorePolicyClamp  = "clamp"

	OverallPolicyDerive = "derive"
	OverallPolicyVerify = "verify"
)

type Extractor struct {
	provider       ScoringProvider
	prompts        *PromptBuilder
	rule           aggregator.Rule
	maxCorrections int
	clamp          bool
	verifyOverall  bool
	tolerance      int
}

func NewExtractor(provider ScoringProvider, prompts *PromptBuilder, rule aggregator.Rule, cfg config.ScoringConfig) *Extractor {
	return &Extractor{
		provider:       provider,
		prompts:        prompts,
		rule:           rule,
		maxCorrections: cfg.MaxCorrections,
		clamp:          cfg.ScorePolicy == ScorePolicyClamp,
		verifyOverall:  cfg.OverallPolicy == OverallPolicyVerify,
		tolerance:      cfg.OverallTolerance,
	}
}

// Extract scores one prompt. The returned report carries dimension
// scores, the configured aggregate as overall score and the provider's
// JSON object as raw payload; ids and timestamps are left to the caller.
func (e *Extractor) Extract(ctx context.Context, prompt Prompt) (types.Report, error) {
	log := logger.Component("extractor")

	messages := []Message{
		{Role: RoleSystem, Content: prompt.System},
		{Role: RoleUser, Content: prompt.User},
	}

	var problems []string
	for attempt := 0; attempt <= e.maxCorrections; attempt++ {
		if attempt > 0 {
			log.WithFields(logrus.Fields{
				"correction": attempt,
				"problems":   strings.Join(problems, "; "),
			}).Warn("scoring output rejected, requesting correction")
		}

		content, err := e.provider.Complete(ctx, messages)
		if err != nil {
			return types.Report{}, evalerr.Evaluation("scoring provider unavailable", err)
		}

		var report types.Report
		report, problems = e.parse(content)
		if len(problems) == 0 {
			log.WithFields(logrus.Fields{
				"overall_score": report.OverallScore,
				"corrections":   attempt,
			}).Info("report extracted")
			return report, nil
		}

		messages = []Message{
			{Role: RoleSystem, Content: prompt.System},
			{Role: RoleUser, Content: prompt.User},
			{Role: RoleUser, Content: e.prompts.Correction(content, problems)},
		}
	}

	return types.Report{}, evalerr.Evaluation(
		fmt.Sprintf("scoring output invalid after %d correction attempt(s)", e.maxCorrections),
		errors.New(strings.Join(problems, "; ")))
}

// parse validates one provider answer and lists everything wrong with it.
func (e *Extractor) parse(content string) (types.Report, []string) {
	raw, err := extractJSON(content)
	if err != nil {
		return types.Report{}, []string{err.Error()}
	}

	report, providerOverall, problems := decodeReport([]byte(raw), e.clamp)
	if len(problems) > 0 {
		return types.Report{}, problems
	}

	overall, err := e.rule.Aggregate(report.DimensionScores)
	if err != nil {
		return types.Report{}, []string{err.Error()}
	}
	if e.verifyOverall && abs(providerOverall-overall) > e.tolerance {
		return types.Report{}, []string{fmt.Sprintf(
			"/overall_score: %d does not match the %s of the dimension scores (%d)",
			providerOverall, e.rule.Method, overall)}
	}
	if providerOverall != overall {
		logger.Component("extractor").WithFields(logrus.Fields{
			"provider_overall": providerOverall,
			"derived_overall":  overall,
		}).Debug("overall score replaced by configured aggregate")
	}
	report.OverallScore = overall
	report.RawProviderPayload = json.RawMessage(raw)

	if err := report.CheckComplete(); err != nil {
		return types.Report{}, []string{err.Error()}
	}
	return report, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
