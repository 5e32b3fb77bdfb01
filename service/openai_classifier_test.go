package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tieubaoca/cramcortex-be/types"
)

func TestParseClassification(t *testing.T) {
	result, err := parseClassification(`{
		"question_type": "multiple_choice",
		"difficulty": "hard",
		"answer_choices": ["A) 3", "B) 4"],
		"confidence_score": 0.88
	}`)
	require.NoError(t, err)
	assert.Equal(t, types.QuestionMultipleChoice, result.Type)
	assert.Equal(t, types.DifficultyHard, result.Difficulty)
	assert.Equal(t, []string{"A) 3", "B) 4"}, result.AnswerChoices)
	assert.Equal(t, 0.88, result.ConfidenceScore)
}

func TestParseClassificationWrappedInProse(t *testing.T) {
	content := "Here is the classification you asked for:\n" +
		`{"question_type": "essay", "difficulty": "hard", "confidence_score": 0.9}` +
		"\nLet me know if you need anything else."
	result, err := parseClassification(content)
	require.NoError(t, err)
	assert.Equal(t, types.QuestionEssay, result.Type)
}

func TestParseClassificationDefaults(t *testing.T) {
	result, err := parseClassification(`{"question_type": "short_answer"}`)
	require.NoError(t, err)
	assert.Equal(t, 0.9, result.ConfidenceScore)
	assert.Equal(t, types.DifficultyMedium, result.Difficulty)
}

func TestParseClassificationOutOfRangeConfidence(t *testing.T) {
	result, err := parseClassification(`{"question_type": "true_false", "confidence_score": 3.5}`)
	require.NoError(t, err)
	assert.Equal(t, 0.9, result.ConfidenceScore)
}

func TestParseClassificationBadType(t *testing.T) {
	_, err := parseClassification(`{"question_type": "riddle"}`)
	assert.Error(t, err)
}

func TestParseClassificationMalformed(t *testing.T) {
	_, err := parseClassification("not json at all")
	assert.Error(t, err)

	_, err = parseClassification(`{"question_type": `)
	assert.Error(t, err)
}
