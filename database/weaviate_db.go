package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/tieubaoca/cramcortex-be/config"
	"github.com/tieubaoca/cramcortex-be/types"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

const BATCH_SIZE = 200

var (
	QUESTION_CLASS        = "ExamQuestion"
	QUESTION_CLASS_OBJECT = &models.Class{
		Class: QUESTION_CLASS,
		Properties: []*models.Property{
			{Name: "text", DataType: []string{"text"}},
			{Name: "documentId", DataType: []string{"text"}},
			{Name: "questionType", DataType: []string{"text"}},
			{Name: "topic", DataType: []string{"text"}},
			{Name: "difficulty", DataType: []string{"text"}},
			{Name: "confidence", DataType: []string{"number"}},
			{Name: "ordinal", DataType: []string{"int"}},
		},
		VectorIndexType: "hnsw",
		Vectorizer:      "none", // vectors are supplied by the pipeline
	}
)

// StoredQuestion is one indexed question as returned by search.
type StoredQuestion struct {
	Text         string  `json:"text"`
	DocumentID   string  `json:"document_id"`
	QuestionType string  `json:"question_type"`
	Topic        string  `json:"topic"`
	Difficulty   string  `json:"difficulty"`
	Confidence   float64 `json:"confidence"`
	Certainty    float64 `json:"certainty,omitempty"`
}

// WeaviateStore is the audit index of analyzed questions. The pipeline writes
// once per completed run; the search endpoint reads.
type WeaviateStore struct {
	client *weaviate.Client
}

func NewWeaviateStore(cfg config.WeaviateStoreConfig) (*WeaviateStore, error) {
	var scheme string
	if strings.Contains(cfg.Host, "https") {
		scheme = "https"
	} else {
		scheme = "http"
	}
	host := strings.TrimPrefix(cfg.Host, scheme+"://")
	wcfg := weaviate.Config{
		Host:   host,
		Scheme: scheme,
	}
	if cfg.APIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
		wcfg.Headers = map[string]string{
			"X-Weaviate-Api-Key":     cfg.APIKey,
			"X-Weaviate-Cluster-Url": fmt.Sprintf("%s://%s", scheme, host),
		}
	}

	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %v", err)
	}

	schema, err := client.Schema().Getter().Do(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %v", err)
	}

	hasQuestionClass := false
	for _, class := range schema.Classes {
		if class.Class == QUESTION_CLASS {
			hasQuestionClass = true
			break
		}
	}
	if !hasQuestionClass {
		err = client.Schema().ClassCreator().WithClass(QUESTION_CLASS_OBJECT).Do(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to create ExamQuestion class: %v", err)
		}
	}
	return &WeaviateStore{client: client}, nil
}

// ReInit drops and recreates the question class.
func (s *WeaviateStore) ReInit() error {
	err := s.client.Schema().ClassDeleter().WithClassName(QUESTION_CLASS).Do(context.Background())
	if err != nil {
		return fmt.Errorf("failed to delete ExamQuestion class: %v", err)
	}
	err = s.client.Schema().ClassCreator().WithClass(QUESTION_CLASS_OBJECT).Do(context.Background())
	if err != nil {
		return fmt.Errorf("failed to create ExamQuestion class: %v", err)
	}
	return nil
}

// IndexQuestions batch-inserts a completed run's questions with their
// embeddings.
func (s *WeaviateStore) IndexQuestions(ctx context.Context, documentID string, questions []types.Question) error {
	total := len(questions)
	for i := 0; i < total; i += BATCH_SIZE {
		end := i + BATCH_SIZE
		if end > total {
			end = total
		}

		batcher := s.client.Batch().ObjectsBatcher()
		for _, q := range questions[i:end] {
			topic := ""
			if q.Topic != nil {
				topic = *q.Topic
			}
			obj := &models.Object{
				Class: QUESTION_CLASS,
				Properties: map[string]interface{}{
					"text":         q.Text,
					"documentId":   documentID,
					"questionType": string(q.Type),
					"topic":        topic,
					"difficulty":   string(q.Difficulty),
					"confidence":   q.ConfidenceScore,
					"ordinal":      q.Ordinal,
				},
			}
			if q.Embedding != nil {
				obj.Vector = q.Embedding
			}
			batcher = batcher.WithObjects(obj)
		}

		if _, err := batcher.Do(ctx); err != nil {
			return fmt.Errorf("failed to batch insert questions %d-%d: %v", i, end, err)
		}
	}
	return nil
}

// SearchSimilar finds questions near the given vector.
func (s *WeaviateStore) SearchSimilar(ctx context.Context, vector []float32, limit int) ([]StoredQuestion, error) {
	if limit <= 0 {
		limit = 5
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	fields := []graphql.Field{
		{Name: "text"},
		{Name: "documentId"},
		{Name: "questionType"},
		{Name: "topic"},
		{Name: "difficulty"},
		{Name: "confidence"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(QUESTION_CLASS).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("search failed: %v", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search failed: %s", result.Errors[0].Message)
	}

	return parseSearchResult(result.Data)
}

// DeleteByDocument removes every indexed question of a document, honoring
// the upload retention policy.
func (s *WeaviateStore) DeleteByDocument(ctx context.Context, documentID string) error {
	where := filters.Where().
		WithPath([]string{"documentId"}).
		WithOperator(filters.Equal).
		WithValueText(documentID)

	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(QUESTION_CLASS).
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete questions of %s: %v", documentID, err)
	}
	return nil
}

func parseSearchResult(data map[string]models.JSONObject) ([]StoredQuestion, error) {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected search response shape")
	}
	items, ok := get[QUESTION_CLASS].([]interface{})
	if !ok {
		return []StoredQuestion{}, nil
	}

	questions := make([]StoredQuestion, 0, len(items))
	for _, item := range items {
		props, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		q := StoredQuestion{
			Text:         asString(props["text"]),
			DocumentID:   asString(props["documentId"]),
			QuestionType: asString(props["questionType"]),
			Topic:        asString(props["topic"]),
			Difficulty:   asString(props["difficulty"]),
		}
		if c, ok := props["confidence"].(float64); ok {
			q.Confidence = c
		}
		if add, ok := props["_additional"].(map[string]interface{}); ok {
			if cert, ok := add["certainty"].(float64); ok {
				q.Certainty = cert
			}
		}
		questions = append(questions, q)
	}
	return questions, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
