package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/tieubaoca/cramcortex-be/types"
	"golang.org/x/time/rate"
)

const classifySystemMessage = "You are an expert educational content analyzer. " +
	"You classify exam questions. Always return valid JSON."

const classifyPromptTemplate = `Classify the following exam question.

Question:
%s
%s
Return ONLY a valid JSON object with this structure:
{
    "question_type": "multiple_choice|true_false|fill_in_blank|short_answer|essay|unknown",
    "difficulty": "easy|medium|hard",
    "answer_choices": ["A) ...", "B) ..."],
    "keywords": ["..."],
    "confidence_score": 0.95
}

Rules:
- multiple_choice: has lettered options (A, B, C, D)
- true_false: asks whether a statement is true or false
- fill_in_blank: contains a blank to complete
- short_answer: requires a brief explanation
- essay: requires extended analysis
- answer_choices must be empty unless the question is multiple_choice
- confidence_score reflects how certain the classification is

Return only valid JSON, no additional text.`

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// OpenAIClassifier is the primary classification strategy: a chat completion
// in JSON mode with retries and a shared rate limiter. Externally rate
// limited and unreliable, so every error is recoverable by the caller.
type OpenAIClassifier struct {
	client     *openai.Client
	model      string
	limiter    *rate.Limiter
	maxRetries int
}

func NewOpenAIClassifier(baseURL, apiKey, model string, limiter *rate.Limiter) *OpenAIClassifier {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClassifier{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		limiter:    limiter,
		maxRetries: 3,
	}
}

func (c *OpenAIClassifier) Classify(ctx context.Context, questionText, surrounding string) (*types.Classification, error) {
	contextBlock := ""
	if surrounding != "" {
		contextBlock = fmt.Sprintf("\nSurrounding lines:\n%s\n", surrounding)
	}
	prompt := fmt.Sprintf(classifyPromptTemplate, questionText, contextBlock)

	retryDelay := time.Second
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: classifySystemMessage},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			Temperature:    0,
			ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		})
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("no response generated")
			continue
		}

		result, err := parseClassification(resp.Choices[0].Message.Content)
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}
	return nil, fmt.Errorf("classification failed after %d attempts: %w", c.maxRetries, lastErr)
}

// parseClassification decodes the model's JSON, tolerating responses wrapped
// in prose by extracting the outermost object.
func parseClassification(content string) (*types.Classification, error) {
	var result types.Classification
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		match := jsonObjectRe.FindString(content)
		if match == "" {
			return nil, fmt.Errorf("malformed classification response: %w", err)
		}
		if err := json.Unmarshal([]byte(match), &result); err != nil {
			return nil, fmt.Errorf("malformed classification response: %w", err)
		}
	}

	if !validQuestionType(result.Type) {
		return nil, fmt.Errorf("unrecognized question type %q", result.Type)
	}
	if result.ConfidenceScore <= 0 || result.ConfidenceScore > 1 {
		result.ConfidenceScore = 0.9
	}
	if result.Difficulty == "" {
		result.Difficulty = types.DifficultyMedium
	}
	return &result, nil
}

func validQuestionType(t types.QuestionType) bool {
	switch t {
	case types.QuestionMultipleChoice, types.QuestionTrueFalse, types.QuestionFillInBlank,
		types.QuestionShortAnswer, types.QuestionEssay, types.QuestionUnknown:
		return true
	}
	return false
}
