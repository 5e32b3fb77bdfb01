package service

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/tieubaoca/cramcortex-be/types"
)

// Classifier assigns a type, difficulty and confidence to one question.
// Implementations must be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, questionText, surrounding string) (*types.Classification, error)
}

// RouterClassifier tries the primary (remote) classifier under a bounded
// timeout and falls back to the deterministic local rules on error, timeout
// or malformed output. A per-question failure never aborts the batch: the
// worst case is an unknown/zero-confidence classification.
type RouterClassifier struct {
	primary  Classifier
	fallback *FallbackClassifier
	timeout  time.Duration
}

func NewRouterClassifier(primary Classifier, timeout time.Duration) *RouterClassifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RouterClassifier{
		primary:  primary,
		fallback: NewFallbackClassifier(),
		timeout:  timeout,
	}
}

func (r *RouterClassifier) Classify(ctx context.Context, questionText, surrounding string) (*types.Classification, error) {
	if r.primary != nil {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		result, err := r.primary.Classify(callCtx, questionText, surrounding)
		cancel()
		if err == nil && result != nil && result.Type != "" {
			result.Strategy = types.StrategyPrimary
			return result, nil
		}
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			log.Printf("primary classifier failed, using fallback: %v", err)
		}
		// the parent being cancelled is not recoverable by the fallback
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	result, err := r.fallback.Classify(ctx, questionText, surrounding)
	if err != nil {
		return &types.Classification{
			Type:            types.QuestionUnknown,
			ConfidenceScore: 0,
			Strategy:        types.StrategyNone,
		}, nil
	}
	result.Strategy = types.StrategyFallback
	return result, nil
}

var (
	trueFalseRe    = regexp.MustCompile(`(?i)\b(?:true\s+or\s+false|true\s*/\s*false|t\s*/\s*f)\b`)
	fillBlankRe    = regexp.MustCompile(`_{3,}|(?i)\bfill\s+in\b`)
	shortVerbRe    = regexp.MustCompile(`(?i)\b(?:explain|describe|discuss|analyze|compare|define|list)\b`)
	essayVerbRe    = regexp.MustCompile(`(?i)\b(?:essay|elaborate|critically\s+evaluate)\b`)
	complexVerbRe  = regexp.MustCompile(`(?i)\b(?:analyze|evaluate|synthesize|compare|contrast|critically)\b`)
	questionWordRe = regexp.MustCompile(`(?i)\b(?:what|how|why|when|where|which|who)\b`)
)

// FallbackClassifier applies deterministic pattern rules. Same input, same
// rules, same output, so it is independently testable and usable offline.
type FallbackClassifier struct{}

func NewFallbackClassifier() *FallbackClassifier {
	return &FallbackClassifier{}
}

func (f *FallbackClassifier) Classify(_ context.Context, questionText, surrounding string) (*types.Classification, error) {
	choices := ExtractAnswerChoices(questionText)
	if len(choices) == 0 && surrounding != "" {
		// choice lines split off the stem sit at the start of the following
		// text; anything past the first non-choice line is another question
		choices = ExtractAnswerChoices(leadingChoiceLines(surrounding))
	}
	qType := f.questionType(questionText, choices)
	result := &types.Classification{
		Type:            qType,
		Difficulty:      f.difficulty(questionText),
		AnswerChoices:   choices,
		ConfidenceScore: 0.5,
		Strategy:        types.StrategyFallback,
	}
	if qType == types.QuestionUnknown {
		result.ConfidenceScore = 0.3
	}
	return result, nil
}

// leadingChoiceLines returns the run of lettered choice lines at the start
// of text, stopping at the first line that is not one.
func leadingChoiceLines(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !answerChoiceRe.MatchString(trimmed) {
			break
		}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, "\n")
}

func (f *FallbackClassifier) questionType(text string, choices []string) types.QuestionType {
	switch {
	case len(choices) >= 2:
		return types.QuestionMultipleChoice
	case trueFalseRe.MatchString(text):
		return types.QuestionTrueFalse
	case fillBlankRe.MatchString(text):
		return types.QuestionFillInBlank
	case essayVerbRe.MatchString(text):
		return types.QuestionEssay
	case shortVerbRe.MatchString(text):
		return types.QuestionShortAnswer
	case strings.Contains(text, "?") && questionWordRe.MatchString(text):
		// a plain interrogative with no choices expects a brief answer
		return types.QuestionShortAnswer
	default:
		return types.QuestionUnknown
	}
}

func (f *FallbackClassifier) difficulty(text string) types.Difficulty {
	wordCount := len(strings.Fields(text))
	switch {
	case complexVerbRe.MatchString(text):
		return types.DifficultyHard
	case wordCount > 20:
		return types.DifficultyMedium
	default:
		return types.DifficultyEasy
	}
}
