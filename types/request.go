package types

type AnalyzeRequest struct {
	DocumentID string `json:"document_id"`
}

type SearchQuestionsRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}
