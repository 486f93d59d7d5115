package condition

import (
	"context"
	"strings"

	"github.com/rumbo-ai/rumbo/pkg/session"
)

// KeywordEvaluator is a deterministic Evaluator for tests and offline use:
// a condition is satisfied when any of its configured keywords appears in
// the conversation transcript. Conditions without a rule are never satisfied.
type KeywordEvaluator struct {
	// Rules maps condition text to trigger keywords.
	Rules map[string][]string
}

// Evaluate implements Evaluator.
func (k *KeywordEvaluator) Evaluate(_ context.Context, cond string, convo session.Conversation) (bool, error) {
	transcript := convo.Transcript()
	for _, keyword := range k.Rules[cond] {
		if strings.Contains(transcript, keyword) {
			return true, nil
		}
	}
	return false, nil
}

// FirstMatch implements Evaluator.
func (k *KeywordEvaluator) FirstMatch(ctx context.Context, conditions []string, convo session.Conversation) (int, error) {
	return firstMatchByEvaluate(ctx, k, conditions, convo)
}

// StaticEvaluator returns fixed verdicts per condition. Conditions absent
// from Verdicts evaluate to false. If Err is set every call fails with it.
type StaticEvaluator struct {
	Verdicts map[string]bool
	Err      error
	// Calls records every condition evaluated, in order.
	Calls []string
}

// Evaluate implements Evaluator.
func (s *StaticEvaluator) Evaluate(_ context.Context, cond string, _ session.Conversation) (bool, error) {
	s.Calls = append(s.Calls, cond)
	if s.Err != nil {
		return false, s.Err
	}
	return s.Verdicts[cond], nil
}

// FirstMatch implements Evaluator.
func (s *StaticEvaluator) FirstMatch(ctx context.Context, conditions []string, convo session.Conversation) (int, error) {
	return firstMatchByEvaluate(ctx, s, conditions, convo)
}

var (
	_ Evaluator = (*KeywordEvaluator)(nil)
	_ Evaluator = (*StaticEvaluator)(nil)
)
