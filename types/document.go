package types

import "fmt"

// DocumentStatus is one stage of the per-document analysis state machine.
type DocumentStatus string

const (
	StatusUploaded    DocumentStatus = "uploaded"
	StatusExtracting  DocumentStatus = "extracting"
	StatusExtracted   DocumentStatus = "extracted"
	StatusSegmenting  DocumentStatus = "segmenting"
	StatusClassifying DocumentStatus = "classifying"
	StatusClustering  DocumentStatus = "clustering"
	StatusCompleted   DocumentStatus = "completed"
	StatusFailed      DocumentStatus = "failed"
)

// validTransitions encodes the forward path of the pipeline. "failed" is
// reachable from every non-terminal stage.
var validTransitions = map[DocumentStatus][]DocumentStatus{
	StatusUploaded:    {StatusExtracting, StatusFailed},
	StatusExtracting:  {StatusExtracted, StatusFailed},
	StatusExtracted:   {StatusSegmenting, StatusFailed},
	StatusSegmenting:  {StatusClassifying, StatusCompleted, StatusFailed},
	StatusClassifying: {StatusClustering, StatusFailed},
	StatusClustering:  {StatusCompleted, StatusFailed},
}

// CanTransition reports whether moving from s to next is a legal step.
func (s DocumentStatus) CanTransition(next DocumentStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is an end state.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document is one uploaded file scoped to a single analysis run.
type Document struct {
	ID            string         `json:"id"`
	Filename      string         `json:"filename"`
	StoragePath   string         `json:"storage_path"`
	ContentType   string         `json:"content_type"`
	Size          int64          `json:"size"`
	Status        DocumentStatus `json:"status"`
	UploadedAt    int64          `json:"uploaded_at"`
	ExtractedText string         `json:"-"`
}

// PageText is one page of extracted text with the extractor's confidence in it.
type PageText struct {
	Number     int     `json:"number"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	OCR        bool    `json:"ocr"`
}

// ExtractResult is the output of the text extraction stage.
type ExtractResult struct {
	Text  string     `json:"text"`
	Pages []PageText `json:"pages"`
}

func (r *ExtractResult) String() string {
	return fmt.Sprintf("extract: %d pages, %d chars", len(r.Pages), len(r.Text))
}
