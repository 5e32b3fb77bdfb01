package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentNumberedQuestions(t *testing.T) {
	s := NewSegmentService()
	text := `1. What is the capital of France and why is it important?

2. Explain the causes of the French Revolution.

3. True or False: The Seine flows through Paris.`

	segments := s.Segment(text)
	require.Len(t, segments, 3)
	assert.Equal(t, 0, segments[0].Ordinal)
	assert.Equal(t, 1, segments[0].Number)
	assert.Equal(t, 2, segments[1].Number)
	assert.Equal(t, 3, segments[2].Number)
	assert.Contains(t, segments[0].Text, "capital of France")
	assert.False(t, segments[0].Degraded)
}

func TestSegmentMultipleChoiceStaysTogether(t *testing.T) {
	s := NewSegmentService()
	text := `1. What is 2+2? A) 3 B) 4 C) 5

2. Which planet is closest to the sun?
A) Venus
B) Mercury
C) Earth
D) Mars`

	segments := s.Segment(text)
	require.Len(t, segments, 2)
	assert.Contains(t, segments[0].Text, "What is 2+2?")
	assert.Contains(t, segments[1].Text, "D) Mars")
}

func TestSegmentMarkerLineOpensNewQuestion(t *testing.T) {
	s := NewSegmentService()
	// no blank line between the questions: the numbered line still both
	// closes question 1 and opens question 2
	text := `1. Define photosynthesis in your own words.
2. Describe the role of chlorophyll in the process.`

	segments := s.Segment(text)
	require.Len(t, segments, 2)
	assert.Equal(t, 1, segments[0].Number)
	assert.Equal(t, 2, segments[1].Number)
	assert.NotContains(t, segments[0].Text, "chlorophyll")
}

func TestSegmentQuestionWordMarkers(t *testing.T) {
	s := NewSegmentService()
	text := `Question 1: Summarize the plot of the novel in two sentences.

Q2. Who is the narrator of the story and what do they want?`

	segments := s.Segment(text)
	require.Len(t, segments, 2)
	assert.Equal(t, 1, segments[0].Number)
	assert.Equal(t, 2, segments[1].Number)
}

func TestSegmentNoMarkersDegrades(t *testing.T) {
	s := NewSegmentService()
	text := "Discuss the economic impact of the industrial revolution on rural communities in England."

	segments := s.Segment(text)
	require.Len(t, segments, 1)
	assert.True(t, segments[0].Degraded)
	assert.Equal(t, text, segments[0].Text)
}

func TestSegmentBlankText(t *testing.T) {
	s := NewSegmentService()
	assert.Empty(t, s.Segment(""))
	assert.Empty(t, s.Segment("   \n\n  \t"))
	// too short to be a question even as a degraded span
	assert.Empty(t, s.Segment("ok."))
}

func TestSegmentInlineChoicesWithTrailingBlock(t *testing.T) {
	s := NewSegmentService()
	text := `1. What is 2+2? A) 3 B) 4 C) 5
A) 3
B) 4
C) 5`

	segments := s.Segment(text)
	require.Len(t, segments, 1)

	choices := ExtractAnswerChoices(segments[0].Text)
	assert.Len(t, choices, 3)
}

func TestSegmentTinyFragmentsDropped(t *testing.T) {
	s := NewSegmentService()
	text := `1. ok?

2. What is the boiling point of water at sea level in celsius?`

	segments := s.Segment(text)
	require.Len(t, segments, 1)
	assert.Equal(t, 2, segments[0].Number)
}

func TestExtractAnswerChoicesInline(t *testing.T) {
	choices := ExtractAnswerChoices("What is 2+2? A) 3 B) 4 C) 5")
	require.Len(t, choices, 3)
	assert.Equal(t, "A) 3", choices[0])
	assert.Equal(t, "B) 4", choices[1])
	assert.Equal(t, "C) 5", choices[2])
}

func TestExtractAnswerChoicesPerLine(t *testing.T) {
	text := `Which planet is closest to the sun?
A. Venus
B. Mercury
C. Earth
D. Mars`
	choices := ExtractAnswerChoices(text)
	require.Len(t, choices, 4)
	assert.Equal(t, "A) Venus", choices[0])
	assert.Equal(t, "D) Mars", choices[3])
}

func TestExtractAnswerChoicesDeduplicatesLetters(t *testing.T) {
	text := `What is 2+2? A) 3 B) 4
A) 3
B) 4`
	choices := ExtractAnswerChoices(text)
	assert.Len(t, choices, 2)
}

func TestExtractAnswerChoicesNone(t *testing.T) {
	assert.Empty(t, ExtractAnswerChoices("Explain the water cycle in detail."))
}
