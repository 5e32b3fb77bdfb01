package types

// QuestionType classifies what kind of answer a question expects.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionFillInBlank    QuestionType = "fill_in_blank"
	QuestionShortAnswer    QuestionType = "short_answer"
	QuestionEssay          QuestionType = "essay"
	QuestionUnknown        QuestionType = "unknown"
)

// Difficulty is a coarse difficulty label.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ClassifyStrategy records which classifier produced a result.
type ClassifyStrategy string

const (
	StrategyPrimary  ClassifyStrategy = "primary"
	StrategyFallback ClassifyStrategy = "fallback"
	StrategyNone     ClassifyStrategy = "none"
)

// Segment is one raw question-text span produced by the segmenter.
type Segment struct {
	Ordinal  int    // position within the document, zero-based
	Number   int    // leading marker number if one was detected, else 0
	Text     string
	Degraded bool // true when no structural markers were found in the document
}

// Classification is the output of one classifier call for one question.
type Classification struct {
	Type            QuestionType     `json:"question_type"`
	Difficulty      Difficulty       `json:"difficulty"`
	AnswerChoices   []string         `json:"answer_choices,omitempty"`
	Keywords        []string         `json:"keywords,omitempty"`
	ConfidenceScore float64          `json:"confidence_score"`
	Strategy        ClassifyStrategy `json:"-"`
}

// Question is one detected question. Created by the segmenter, mutated by the
// classifier (type, difficulty, confidence) and by clustering (topic).
type Question struct {
	ID              string           `json:"question_id"`
	DocumentID      string           `json:"-"`
	Ordinal         int              `json:"-"`
	Text            string           `json:"question_text"`
	Type            QuestionType     `json:"question_type"`
	Topic           *string          `json:"topic"`
	Difficulty      Difficulty       `json:"difficulty,omitempty"`
	AnswerChoices   []string         `json:"answer_choices,omitempty"`
	ConfidenceScore float64          `json:"confidence_score"`
	Strategy        ClassifyStrategy `json:"strategy,omitempty"`
	Embedding       []float32        `json:"-"`
}

// Topic is a named group of semantically related questions. Immutable once the
// clustering stage has produced it.
type Topic struct {
	ID              string   `json:"topic_id"`
	Name            string   `json:"topic_name"`
	Keywords        []string `json:"keywords"`
	QuestionIDs     []string `json:"-"`
	QuestionCount   int      `json:"question_count"`
	ConfidenceScore float64  `json:"confidence_score"`
}

// Cluster is the raw membership view of one topic.
type Cluster struct {
	ID        string   `json:"cluster_id"`
	Questions []string `json:"questions"`
	Size      int      `json:"size"`
}

// Summary carries the aggregate counts for one analysis run.
type Summary struct {
	TotalQuestions    int      `json:"total_questions"`
	TopicsFound       int      `json:"topics_found"`
	QuestionTypes     []string `json:"question_types,omitempty"`
	ClusteringSkipped bool     `json:"clustering_skipped,omitempty"`
	Degraded          bool     `json:"degraded,omitempty"`
}

// AnalysisData is the full analysis payload for one document.
type AnalysisData struct {
	Questions []Question `json:"questions"`
	Topics    []Topic    `json:"topics"`
	Clusters  []Cluster  `json:"clusters"`
	Summary   Summary    `json:"summary"`
}

// AnalysisResult is the object handed to the result consumer.
type AnalysisResult struct {
	DocumentID       string         `json:"document_id"`
	Status           DocumentStatus `json:"status"`
	QuestionsFound   int            `json:"questions_found"`
	TopicsIdentified int            `json:"topics_identified"`
	AnalysisData     AnalysisData   `json:"analysis_data"`
}
