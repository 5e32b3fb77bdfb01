package service

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tieubaoca/cramcortex-be/config"
	"github.com/tieubaoca/cramcortex-be/types"
)

const docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// writeDocx builds a minimal docx container with one paragraph per line.
func writeDocx(t *testing.T, lines []string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "exam.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	doc, err := zw.Create("word/document.xml")
	require.NoError(t, err)

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, line := range lines {
		sb.WriteString("<w:p><w:r><w:t>")
		sb.WriteString(line)
		sb.WriteString("</w:t></w:r></w:p>")
	}
	sb.WriteString(`</w:body></w:document>`)

	_, err = doc.Write([]byte(sb.String()))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return path
}

type staticSource struct {
	path        string
	contentType string
	err         error
}

func (s *staticSource) Resolve(documentID string) (string, string, error) {
	if s.err != nil {
		return "", "", s.err
	}
	return s.path, s.contentType, nil
}

// keywordEmbedder maps texts to fixed vectors by substring so clustering
// outcomes are controlled by the test.
type keywordEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	called   bool
}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.called = true
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.fallback
		for keyword, vec := range e.vectors {
			if strings.Contains(strings.ToLower(text), keyword) {
				out[i] = vec
				break
			}
		}
	}
	return out, nil
}

func newTestAnalyzeService(source DocumentSource, embedder Embedder, cfg config.PipelineConfig) *AnalyzeService {
	return NewAnalyzeService(
		NewExtractService(0.6),
		nil,
		NewSegmentService(),
		NewRouterClassifier(nil, time.Second),
		embedder,
		NewClusterService(cfg.ClusterEpsilon, cfg.MinClusterSize),
		NewContrastLabeler(cfg.TopicKeywords),
		source,
		nil,
		cfg,
	)
}

func TestAnalyzeFullPipeline(t *testing.T) {
	path := writeDocx(t, []string{
		"1. What is the derivative of x squared?",
		"",
		"2. Explain the derivative of sin(x) step by step.",
		"",
		"3. Describe the chain rule for derivatives.",
		"",
		"4. Who wrote the play Hamlet?",
	})
	source := &staticSource{path: path, contentType: docxContentType}
	embedder := &keywordEmbedder{
		vectors: map[string][]float32{
			"derivative": {1.0, 0.0, 0.0},
			"hamlet":     {0.0, 0.0, 1.0},
		},
		fallback: []float32{0.0, 1.0, 0.0},
	}
	cfg := config.DefaultPipelineConfig()
	s := newTestAnalyzeService(source, embedder, cfg)

	result, err := s.Analyze(context.Background(), "doc-1")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "doc-1", result.DocumentID)
	assert.Equal(t, types.StatusCompleted, result.Status)
	assert.Equal(t, 4, result.QuestionsFound)
	assert.Equal(t, 1, result.TopicsIdentified)

	questions := result.AnalysisData.Questions
	require.Len(t, questions, 4)
	for _, q := range questions {
		assert.NotEmpty(t, q.ID)
		assert.Equal(t, types.QuestionShortAnswer, q.Type)
		assert.Equal(t, types.StrategyFallback, q.Strategy)
	}

	// the three derivative questions share a topic, the Hamlet one is noise
	topics := result.AnalysisData.Topics
	require.Len(t, topics, 1)
	assert.Equal(t, 3, topics[0].QuestionCount)
	assert.Contains(t, topics[0].Keywords, "derivative")

	require.NotNil(t, questions[0].Topic)
	require.NotNil(t, questions[1].Topic)
	require.NotNil(t, questions[2].Topic)
	assert.Nil(t, questions[3].Topic)
	assert.Equal(t, *questions[0].Topic, *questions[2].Topic)

	summary := result.AnalysisData.Summary
	assert.Equal(t, 4, summary.TotalQuestions)
	assert.Equal(t, 1, summary.TopicsFound)
	assert.Equal(t, []string{"short_answer"}, summary.QuestionTypes)
	assert.False(t, summary.ClusteringSkipped)
	assert.False(t, summary.Degraded)

	clusters := result.AnalysisData.Clusters
	require.Len(t, clusters, 1)
	assert.Equal(t, 3, clusters[0].Size)
	assert.Len(t, clusters[0].Questions, 3)
}

func TestAnalyzeFewQuestionsSkipsClustering(t *testing.T) {
	path := writeDocx(t, []string{
		"1. Describe the water cycle briefly.",
		"",
		"2. Define osmosis in one short sentence.",
	})
	source := &staticSource{path: path, contentType: docxContentType}
	embedder := &keywordEmbedder{fallback: []float32{1.0, 0.0}}
	cfg := config.DefaultPipelineConfig() // MinClusterSize 3
	s := newTestAnalyzeService(source, embedder, cfg)

	result, err := s.Analyze(context.Background(), "doc-2")
	require.NoError(t, err)

	assert.Equal(t, 2, result.QuestionsFound)
	assert.Equal(t, 0, result.TopicsIdentified)
	assert.True(t, result.AnalysisData.Summary.ClusteringSkipped)
	assert.False(t, embedder.called, "embedding should be skipped below the minimum cluster size")
	for _, q := range result.AnalysisData.Questions {
		assert.Nil(t, q.Topic)
	}
}

func TestAnalyzeUnstructuredTextDegrades(t *testing.T) {
	path := writeDocx(t, []string{
		"Discuss the economic impact of the industrial revolution on rural communities.",
	})
	source := &staticSource{path: path, contentType: docxContentType}
	cfg := config.DefaultPipelineConfig()
	s := newTestAnalyzeService(source, &keywordEmbedder{fallback: []float32{1.0}}, cfg)

	result, err := s.Analyze(context.Background(), "doc-3")
	require.NoError(t, err)

	require.Len(t, result.AnalysisData.Questions, 1)
	assert.True(t, result.AnalysisData.Summary.Degraded)
	q := result.AnalysisData.Questions[0]
	// degraded segmentation caps the confidence
	assert.InDelta(t, 0.25, q.ConfidenceScore, 1e-9)
}

func TestAnalyzeZeroQuestionsCompletes(t *testing.T) {
	// usable text, but nothing resembling a question
	path := writeDocx(t, []string{"ok."})
	source := &staticSource{path: path, contentType: docxContentType}
	s := newTestAnalyzeService(source, &keywordEmbedder{}, config.DefaultPipelineConfig())

	result, err := s.Analyze(context.Background(), "doc-empty")
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, result.Status)
	assert.Equal(t, 0, result.QuestionsFound)
	assert.Equal(t, 0, result.TopicsIdentified)
	assert.Empty(t, result.AnalysisData.Questions)
	assert.Equal(t, 0, result.AnalysisData.Summary.TotalQuestions)

	status, err := s.Status("doc-empty")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, status.Stage)
}

func TestAnalyzeSourceFailure(t *testing.T) {
	source := &staticSource{err: errors.New("document file not found")}
	cfg := config.DefaultPipelineConfig()
	s := newTestAnalyzeService(source, &keywordEmbedder{}, cfg)

	_, err := s.Analyze(context.Background(), "doc-missing")
	require.Error(t, err)

	var pErr *types.PipelineError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, types.StatusExtracting, pErr.Stage)
	assert.False(t, pErr.Retryable)

	status, err := s.Status("doc-missing")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, status.Stage)
	assert.NotEmpty(t, status.Error)
}

func TestAnalyzeUnsupportedFormat(t *testing.T) {
	source := &staticSource{path: "exam.csv", contentType: "text/csv"}
	cfg := config.DefaultPipelineConfig()
	s := newTestAnalyzeService(source, &keywordEmbedder{}, cfg)

	_, err := s.Analyze(context.Background(), "doc-csv")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnsupportedFormat)
}

func TestStatusUnknownDocument(t *testing.T) {
	s := newTestAnalyzeService(&staticSource{}, &keywordEmbedder{}, config.DefaultPipelineConfig())

	_, err := s.Status("nope")
	assert.ErrorIs(t, err, types.ErrAnalysisNotFound)
	_, err = s.Result("nope")
	assert.ErrorIs(t, err, types.ErrAnalysisNotFound)
	assert.ErrorIs(t, s.Cancel("nope"), types.ErrAnalysisNotFound)
}

func TestResultWhileRunning(t *testing.T) {
	s := newTestAnalyzeService(&staticSource{}, &keywordEmbedder{}, config.DefaultPipelineConfig())
	s.runs["doc-busy"] = &run{documentID: "doc-busy", stage: types.StatusClassifying}

	_, err := s.Result("doc-busy")
	assert.ErrorIs(t, err, types.ErrAnalysisRunning)
}

func TestStartRejectsDuplicateRun(t *testing.T) {
	s := newTestAnalyzeService(&staticSource{}, &keywordEmbedder{}, config.DefaultPipelineConfig())
	s.runs["doc-busy"] = &run{documentID: "doc-busy", stage: types.StatusClassifying, cancel: func() {}}

	err := s.Start("doc-busy")
	assert.Error(t, err)
}

func TestSubscribeCompletedRunClosesChannel(t *testing.T) {
	path := writeDocx(t, []string{
		"1. Describe the role of mitochondria in the cell.",
	})
	source := &staticSource{path: path, contentType: docxContentType}
	s := newTestAnalyzeService(source, &keywordEmbedder{fallback: []float32{1.0}}, config.DefaultPipelineConfig())

	_, err := s.Analyze(context.Background(), "doc-sub")
	require.NoError(t, err)

	updates, err := s.Subscribe("doc-sub")
	require.NoError(t, err)

	first, ok := <-updates
	require.True(t, ok)
	assert.Equal(t, types.StatusCompleted, first.Stage)
	assert.Equal(t, 1.0, first.Progress)

	_, ok = <-updates
	assert.False(t, ok, "channel should close after a terminal status")
}

func TestSubscribeStreamsProgress(t *testing.T) {
	path := writeDocx(t, []string{
		"1. What is the derivative of x squared?",
		"",
		"2. Explain the derivative of sin(x) step by step.",
		"",
		"3. Describe the chain rule for derivatives.",
	})
	source := &staticSource{path: path, contentType: docxContentType}
	embedder := &keywordEmbedder{fallback: []float32{1.0, 0.0}}
	s := newTestAnalyzeService(source, embedder, config.DefaultPipelineConfig())

	require.NoError(t, s.Start("doc-watch"))
	updates, err := s.Subscribe("doc-watch")
	require.NoError(t, err)

	var last types.StatusResponse
	sawUpdate := false
	for update := range updates {
		last = update
		sawUpdate = true
	}
	require.True(t, sawUpdate)
	assert.Equal(t, types.StatusCompleted, last.Stage)

	result, err := s.Result("doc-watch")
	require.NoError(t, err)
	assert.Equal(t, 3, result.QuestionsFound)
}

func TestAggregateRecomputesCounts(t *testing.T) {
	s := newTestAnalyzeService(&staticSource{}, &keywordEmbedder{}, config.DefaultPipelineConfig())

	topicName := "Algebra"
	questions := []types.Question{
		{ID: "q1", Type: types.QuestionShortAnswer, Topic: &topicName},
		{ID: "q2", Type: types.QuestionMultipleChoice, Topic: &topicName},
		{ID: "q3", Type: types.QuestionShortAnswer},
	}
	// upstream counter is deliberately wrong and one member id is stale;
	// aggregate must recount from the surviving membership
	topics := []types.Topic{{
		ID:            "topic_0",
		Name:          "Algebra",
		QuestionIDs:   []string{"q1", "q2", "q-gone"},
		QuestionCount: 99,
	}}

	result := s.aggregate("doc-agg", questions, topics, nil, false, false)

	assert.Equal(t, 3, result.QuestionsFound)
	assert.Equal(t, 2, result.AnalysisData.Topics[0].QuestionCount)
	assert.Equal(t, []string{"multiple_choice", "short_answer"}, result.AnalysisData.Summary.QuestionTypes)
	assert.NotNil(t, result.AnalysisData.Clusters)
}

func TestAnalyzeDuplicateTopicLabelsStayDistinct(t *testing.T) {
	// two clusters of identical texts, so the labeler degenerates to the
	// same "General" label for both
	path := writeDocx(t, []string{
		"1. What is the answer to this puzzle?",
		"",
		"2. What is the answer to this puzzle?",
		"",
		"3. What is the answer to this puzzle?",
		"",
		"4. What is the answer to this puzzle?",
		"",
		"5. What is the answer to this puzzle?",
		"",
		"6. What is the answer to this puzzle?",
	})
	source := &staticSource{path: path, contentType: docxContentType}
	embedder := &keywordEmbedder{
		vectors: map[string][]float32{
			"1.": {1.0, 0.0, 0.0},
			"2.": {1.0, 0.0, 0.0},
			"3.": {1.0, 0.0, 0.0},
			"4.": {0.0, 0.0, 1.0},
			"5.": {0.0, 0.0, 1.0},
			"6.": {0.0, 0.0, 1.0},
		},
		fallback: []float32{0.0, 1.0, 0.0},
	}
	s := newTestAnalyzeService(source, embedder, config.DefaultPipelineConfig())

	result, err := s.Analyze(context.Background(), "doc-dup")
	require.NoError(t, err)

	topics := result.AnalysisData.Topics
	require.Len(t, topics, 2)
	assert.NotEqual(t, topics[0].Name, topics[1].Name)

	total := 0
	nameSeen := map[string]int{}
	for _, topic := range topics {
		assert.Equal(t, 3, topic.QuestionCount)
		assert.Len(t, topic.QuestionIDs, 3)
		total += topic.QuestionCount
		nameSeen[topic.Name]++
	}
	assert.Equal(t, result.QuestionsFound, total)

	// every assigned topic name resolves to exactly one topic entry
	for _, q := range result.AnalysisData.Questions {
		require.NotNil(t, q.Topic)
		assert.Equal(t, 1, nameSeen[*q.Topic])
	}
}

type recordingClassifier struct {
	mu           sync.Mutex
	surroundings map[string]string
}

func (r *recordingClassifier) Classify(_ context.Context, questionText, surrounding string) (*types.Classification, error) {
	r.mu.Lock()
	r.surroundings[questionText] = surrounding
	r.mu.Unlock()
	return &types.Classification{Type: types.QuestionShortAnswer, ConfidenceScore: 0.9}, nil
}

func TestClassifyReceivesFollowingQuestionContext(t *testing.T) {
	path := writeDocx(t, []string{
		"1. What is the derivative of x squared?",
		"",
		"2. Describe the chain rule for derivatives.",
	})
	classifier := &recordingClassifier{surroundings: map[string]string{}}
	s := NewAnalyzeService(
		NewExtractService(0.6),
		nil,
		NewSegmentService(),
		classifier,
		&keywordEmbedder{fallback: []float32{1.0}},
		NewClusterService(0.35, 3),
		NewContrastLabeler(5),
		&staticSource{path: path, contentType: docxContentType},
		nil,
		config.DefaultPipelineConfig(),
	)

	result, err := s.Analyze(context.Background(), "doc-ctx")
	require.NoError(t, err)
	questions := result.AnalysisData.Questions
	require.Len(t, questions, 2)

	assert.Equal(t, questions[1].Text, classifier.surroundings[questions[0].Text])
	assert.Empty(t, classifier.surroundings[questions[1].Text])
}

type stubTranslator struct {
	output string
	err    error
	called bool
}

func (s *stubTranslator) Translate(_ context.Context, text string) (string, error) {
	s.called = true
	if s.err != nil {
		return "", s.err
	}
	if s.output == "" {
		return text, nil
	}
	return s.output, nil
}

func newTranslatingAnalyzeService(source DocumentSource, translator Translator, cfg config.PipelineConfig) *AnalyzeService {
	return NewAnalyzeService(
		NewExtractService(0.6),
		translator,
		NewSegmentService(),
		NewRouterClassifier(nil, time.Second),
		&keywordEmbedder{fallback: []float32{1.0}},
		NewClusterService(cfg.ClusterEpsilon, cfg.MinClusterSize),
		NewContrastLabeler(cfg.TopicKeywords),
		source,
		nil,
		cfg,
	)
}

func TestAnalyzeTranslatesBeforeSegmentation(t *testing.T) {
	path := writeDocx(t, []string{"Placeholder body for the staged document."})
	source := &staticSource{path: path, contentType: docxContentType}
	translator := &stubTranslator{
		output: "1. What is the derivative of x squared?\n\n2. Define osmosis in one short sentence.",
	}
	s := newTranslatingAnalyzeService(source, translator, config.DefaultPipelineConfig())

	result, err := s.Analyze(context.Background(), "doc-translate")
	require.NoError(t, err)
	assert.True(t, translator.called)

	questions := result.AnalysisData.Questions
	require.Len(t, questions, 2)
	assert.Contains(t, questions[0].Text, "derivative")
	assert.Contains(t, questions[1].Text, "osmosis")
}

func TestAnalyzeTranslationFailureKeepsOriginalText(t *testing.T) {
	path := writeDocx(t, []string{"1. Describe the water cycle briefly."})
	source := &staticSource{path: path, contentType: docxContentType}
	translator := &stubTranslator{err: errors.New("translation backend unavailable")}
	s := newTranslatingAnalyzeService(source, translator, config.DefaultPipelineConfig())

	result, err := s.Analyze(context.Background(), "doc-translate-fail")
	require.NoError(t, err)
	assert.True(t, translator.called)

	require.Len(t, result.AnalysisData.Questions, 1)
	assert.Contains(t, result.AnalysisData.Questions[0].Text, "water cycle")
	assert.Equal(t, types.StatusCompleted, result.Status)
}

func TestAnalyzeIndexesToSink(t *testing.T) {
	path := writeDocx(t, []string{
		"1. Describe the role of mitochondria in the cell.",
	})
	sink := &recordingSink{}
	s := NewAnalyzeService(
		NewExtractService(0.6),
		nil,
		NewSegmentService(),
		NewRouterClassifier(nil, time.Second),
		&keywordEmbedder{fallback: []float32{1.0}},
		NewClusterService(0.35, 3),
		NewContrastLabeler(5),
		&staticSource{path: path, contentType: docxContentType},
		sink,
		config.DefaultPipelineConfig(),
	)

	_, err := s.Analyze(context.Background(), "doc-sink")
	require.NoError(t, err)
	assert.Equal(t, "doc-sink", sink.documentID)
	assert.Len(t, sink.questions, 1)
}

type recordingSink struct {
	documentID string
	questions  []types.Question
}

func (r *recordingSink) IndexQuestions(_ context.Context, documentID string, questions []types.Question) error {
	r.documentID = documentID
	r.questions = questions
	return nil
}

func TestPipelineStateMachine(t *testing.T) {
	cases := []struct {
		from, to types.DocumentStatus
		ok       bool
	}{
		{types.StatusUploaded, types.StatusExtracting, true},
		{types.StatusExtracting, types.StatusExtracted, true},
		{types.StatusExtracted, types.StatusSegmenting, true},
		{types.StatusSegmenting, types.StatusClassifying, true},
		{types.StatusSegmenting, types.StatusCompleted, true},
		{types.StatusClassifying, types.StatusClustering, true},
		{types.StatusClustering, types.StatusCompleted, true},
		{types.StatusUploaded, types.StatusCompleted, false},
		{types.StatusExtracting, types.StatusClustering, false},
		{types.StatusCompleted, types.StatusExtracting, false},
		{types.StatusFailed, types.StatusExtracting, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s_to_%s", tc.from, tc.to), func(t *testing.T) {
			assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to))
		})
	}
	for _, from := range []types.DocumentStatus{
		types.StatusUploaded, types.StatusExtracting, types.StatusExtracted,
		types.StatusSegmenting, types.StatusClassifying, types.StatusClustering,
	} {
		assert.True(t, from.CanTransition(types.StatusFailed), string(from))
	}
}
