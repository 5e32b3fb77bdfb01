package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tieubaoca/cramcortex-be/config"
	"github.com/tieubaoca/cramcortex-be/types"
	"golang.org/x/sync/errgroup"
)

// DocumentSource resolves a document id to its stored bytes. The pipeline
// only reads; retention and deletion belong to the storage side.
type DocumentSource interface {
	Resolve(documentID string) (path string, contentType string, err error)
}

// QuestionSink receives the questions of a completed run for audit storage.
// It may be nil or fail without affecting the run's outcome.
type QuestionSink interface {
	IndexQuestions(ctx context.Context, documentID string, questions []types.Question) error
}

// run is the per-document pipeline state. Each run owns its own mutable
// state; nothing here is shared across documents.
type run struct {
	mu          sync.Mutex
	documentID  string
	stage       types.DocumentStatus
	progress    float64
	err         error
	retryable   bool
	result      *types.AnalysisResult
	cancel      context.CancelFunc
	subscribers []chan types.StatusResponse
}

func (r *run) snapshot() types.StatusResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp := types.StatusResponse{
		DocumentID: r.documentID,
		Stage:      r.stage,
		Progress:   r.progress,
		Retryable:  r.retryable,
	}
	if r.err != nil {
		resp.Error = r.err.Error()
	}
	return resp
}

// AnalyzeService coordinates the document pipeline and owns the status map.
// Stage changes go through transition(), never by direct mutation, so a
// status query can always report the current stage.
type AnalyzeService struct {
	extractor  *ExtractService
	translator Translator
	segmenter  *SegmentService
	classifier Classifier
	embedder   Embedder
	clusterer  *ClusterService
	labeler    TopicLabeler
	source     DocumentSource
	sink       QuestionSink
	cfg        config.PipelineConfig

	mu   sync.Mutex
	runs map[string]*run
}

func NewAnalyzeService(
	extractor *ExtractService,
	translator Translator,
	segmenter *SegmentService,
	classifier Classifier,
	embedder Embedder,
	clusterer *ClusterService,
	labeler TopicLabeler,
	source DocumentSource,
	sink QuestionSink,
	cfg config.PipelineConfig,
) *AnalyzeService {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 3
	}
	if cfg.DocumentTimeout <= 0 {
		cfg.DocumentTimeout = 5 * time.Minute
	}
	return &AnalyzeService{
		extractor:  extractor,
		translator: translator,
		segmenter:  segmenter,
		classifier: classifier,
		embedder:   embedder,
		clusterer:  clusterer,
		labeler:    labeler,
		source:     source,
		sink:       sink,
		cfg:        cfg,
		runs:       make(map[string]*run),
	}
}

// Start launches the pipeline for a document and returns immediately. A
// document with a run already in flight is rejected.
func (s *AnalyzeService) Start(documentID string) error {
	s.mu.Lock()
	if existing, ok := s.runs[documentID]; ok && !existing.snapshotStageTerminal() {
		s.mu.Unlock()
		return fmt.Errorf("analysis already running for document %s", documentID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DocumentTimeout)
	r := &run{documentID: documentID, stage: types.StatusUploaded, cancel: cancel}
	s.runs[documentID] = r
	s.mu.Unlock()

	go s.execute(ctx, cancel, r)
	return nil
}

func (r *run) snapshotStageTerminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage.Terminal()
}

// Analyze runs the pipeline synchronously and returns the result. Used by the
// CLI; the server path goes through Start/Status/Result.
func (s *AnalyzeService) Analyze(ctx context.Context, documentID string) (*types.AnalysisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DocumentTimeout)
	defer cancel()

	s.mu.Lock()
	r := &run{documentID: documentID, stage: types.StatusUploaded, cancel: cancel}
	s.runs[documentID] = r
	s.mu.Unlock()

	s.execute(ctx, cancel, r)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

// Status reports the current stage of a document's run.
func (s *AnalyzeService) Status(documentID string) (types.StatusResponse, error) {
	s.mu.Lock()
	r, ok := s.runs[documentID]
	s.mu.Unlock()
	if !ok {
		return types.StatusResponse{}, types.ErrAnalysisNotFound
	}
	return r.snapshot(), nil
}

// Result returns the completed analysis, ErrAnalysisRunning while in flight.
func (s *AnalyzeService) Result(documentID string) (*types.AnalysisResult, error) {
	s.mu.Lock()
	r, ok := s.runs[documentID]
	s.mu.Unlock()
	if !ok {
		return nil, types.ErrAnalysisNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.stage == types.StatusCompleted:
		return r.result, nil
	case r.stage == types.StatusFailed:
		return nil, r.err
	default:
		return nil, types.ErrAnalysisRunning
	}
}

// Cancel aborts a running analysis. Cancelling a terminal run is a no-op.
func (s *AnalyzeService) Cancel(documentID string) error {
	s.mu.Lock()
	r, ok := s.runs[documentID]
	s.mu.Unlock()
	if !ok {
		return types.ErrAnalysisNotFound
	}
	r.cancel()
	return nil
}

// Subscribe returns a channel of status updates for a document, starting with
// the current state. The channel closes when the run reaches a terminal stage.
func (s *AnalyzeService) Subscribe(documentID string) (<-chan types.StatusResponse, error) {
	s.mu.Lock()
	r, ok := s.runs[documentID]
	s.mu.Unlock()
	if !ok {
		return nil, types.ErrAnalysisNotFound
	}

	ch := make(chan types.StatusResponse, 16)
	r.mu.Lock()
	ch <- types.StatusResponse{DocumentID: r.documentID, Stage: r.stage, Progress: r.progress}
	if r.stage.Terminal() {
		close(ch)
	} else {
		r.subscribers = append(r.subscribers, ch)
	}
	r.mu.Unlock()
	return ch, nil
}

// transition moves the run to the next stage, validating against the state
// machine, and notifies subscribers.
func (s *AnalyzeService) transition(r *run, next types.DocumentStatus, progress float64) error {
	r.mu.Lock()
	if !r.stage.CanTransition(next) {
		cur := r.stage
		r.mu.Unlock()
		return fmt.Errorf("invalid transition %s -> %s", cur, next)
	}
	r.stage = next
	r.progress = progress
	s.notifyLocked(r)
	r.mu.Unlock()
	return nil
}

func (s *AnalyzeService) reportProgress(r *run, progress float64) {
	r.mu.Lock()
	r.progress = progress
	s.notifyLocked(r)
	r.mu.Unlock()
}

// notifyLocked pushes the current state to subscribers; r.mu must be held.
func (s *AnalyzeService) notifyLocked(r *run) {
	resp := types.StatusResponse{DocumentID: r.documentID, Stage: r.stage, Progress: r.progress}
	if r.err != nil {
		resp.Error = r.err.Error()
		resp.Retryable = r.retryable
	}
	for _, ch := range r.subscribers {
		select {
		case ch <- resp:
		default: // slow subscriber, drop the update
		}
	}
	if r.stage.Terminal() {
		for _, ch := range r.subscribers {
			close(ch)
		}
		r.subscribers = nil
	}
}

func (s *AnalyzeService) fail(r *run, stage types.DocumentStatus, retryable bool, err error) {
	r.mu.Lock()
	r.stage = types.StatusFailed
	r.err = types.NewPipelineError(stage, retryable, err)
	r.retryable = retryable
	s.notifyLocked(r)
	r.mu.Unlock()
	log.Printf("analysis of %s failed at %s: %v", r.documentID, stage, err)
}

// execute runs the full pipeline for one document.
func (s *AnalyzeService) execute(ctx context.Context, cancel context.CancelFunc, r *run) {
	defer cancel()

	// Extraction
	if err := s.transition(r, types.StatusExtracting, 0.05); err != nil {
		s.fail(r, types.StatusUploaded, false, err)
		return
	}
	path, contentType, err := s.source.Resolve(r.documentID)
	if err != nil {
		s.fail(r, types.StatusExtracting, false, err)
		return
	}
	extracted, err := s.extractor.Extract(ctx, path, contentType)
	if err != nil {
		s.fail(r, types.StatusExtracting, s.timedOut(ctx, err), err)
		return
	}
	if err := s.transition(r, types.StatusExtracted, 0.2); err != nil {
		return
	}

	// Translation, when configured. Failures fall back to the original text
	// so a flaky translation backend never sinks the run.
	text := extracted.Text
	if s.translator != nil {
		translated, err := s.translator.Translate(ctx, text)
		switch {
		case err != nil && ctx.Err() != nil:
			s.fail(r, types.StatusExtracted, s.timedOut(ctx, err), err)
			return
		case err != nil:
			log.Printf("translation of %s failed, keeping original text: %v", r.documentID, err)
		default:
			text = translated
		}
	}

	// Segmentation
	if err := s.transition(r, types.StatusSegmenting, 0.3); err != nil {
		return
	}
	segments := s.segmenter.Segment(text)
	degraded := len(segments) > 0 && segments[0].Degraded

	if len(segments) == 0 {
		// nothing to classify; an empty but completed result, not a failure
		result := s.aggregate(r.documentID, nil, nil, nil, true, degraded)
		s.complete(r, result)
		return
	}

	questions := make([]types.Question, len(segments))
	for i, seg := range segments {
		questions[i] = types.Question{
			ID:         uuid.NewString(),
			DocumentID: r.documentID,
			Ordinal:    seg.Ordinal,
			Text:       seg.Text,
			Type:       types.QuestionUnknown,
		}
	}

	// Classification fan-out, bounded, order preserved by index
	if err := s.transition(r, types.StatusClassifying, 0.4); err != nil {
		return
	}
	if err := s.classifyAll(ctx, r, questions, degraded); err != nil {
		s.fail(r, types.StatusClassifying, s.timedOut(ctx, err), err)
		return
	}

	// Embedding + clustering
	if err := s.transition(r, types.StatusClustering, 0.75); err != nil {
		return
	}
	clusteringSkipped := len(questions) < s.cfg.MinClusterSize
	var topics []types.Topic
	var clusters []types.Cluster
	if !clusteringSkipped {
		if err := s.embedAll(ctx, questions); err != nil {
			s.fail(r, types.StatusClustering, s.timedOut(ctx, err), err)
			return
		}
		topics, clusters = s.clusterAndLabel(questions)
	}

	result := s.aggregate(r.documentID, questions, topics, clusters, clusteringSkipped, degraded)
	s.complete(r, result)

	if s.sink != nil {
		// audit indexing is best effort and never changes the run's outcome
		indexCtx, indexCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer indexCancel()
		if err := s.sink.IndexQuestions(indexCtx, r.documentID, questions); err != nil {
			log.Printf("failed to index questions for %s: %v", r.documentID, err)
		}
	}
}

func (s *AnalyzeService) complete(r *run, result *types.AnalysisResult) {
	r.mu.Lock()
	r.stage = types.StatusCompleted
	r.progress = 1.0
	r.result = result
	s.notifyLocked(r)
	r.mu.Unlock()
}

func (s *AnalyzeService) timedOut(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// classifyAll classifies every question with bounded concurrency. A single
// question failing is recovered as unknown/zero-confidence; only a cancelled
// or timed-out context aborts the batch.
func (s *AnalyzeService) classifyAll(ctx context.Context, r *run, questions []types.Question, degraded bool) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)

	var done int
	var doneMu sync.Mutex
	total := len(questions)

	for i := range questions {
		// the next question's text gives the classifier surrounding context,
		// e.g. choice lines that segmentation split off the stem
		surrounding := ""
		if i+1 < len(questions) {
			surrounding = questions[i+1].Text
		}
		g.Go(func() error {
			q := &questions[i]
			result, err := s.classifier.Classify(gctx, q.Text, surrounding)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// recovered locally: unknown with zero confidence
				result = &types.Classification{Type: types.QuestionUnknown, Strategy: types.StrategyNone}
			}
			q.Type = result.Type
			q.Difficulty = result.Difficulty
			q.AnswerChoices = result.AnswerChoices
			q.ConfidenceScore = result.ConfidenceScore
			q.Strategy = result.Strategy
			if degraded {
				// segmentation found no structure, cap how much we trust this
				q.ConfidenceScore *= 0.5
			}

			doneMu.Lock()
			done++
			progress := 0.4 + 0.35*float64(done)/float64(total)
			doneMu.Unlock()
			s.reportProgress(r, progress)
			return nil
		})
	}
	return g.Wait()
}

const embedChunkSize = 16

// embedAll computes embeddings in chunks with bounded concurrency, then
// writes them back in question order before clustering starts.
func (s *AnalyzeService) embedAll(ctx context.Context, questions []types.Question) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)

	for start := 0; start < len(questions); start += embedChunkSize {
		end := start + embedChunkSize
		if end > len(questions) {
			end = len(questions)
		}
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := start; i < end; i++ {
				texts[i-start] = questions[i].Text
			}
			vectors, err := s.embedder.Embed(gctx, texts)
			if err != nil {
				return err
			}
			for i := start; i < end; i++ {
				questions[i].Embedding = vectors[i-start]
			}
			return nil
		})
	}
	return g.Wait()
}

// clusterAndLabel partitions the questions, labels each cluster and annotates
// topic assignments. The canonical question order is never changed.
func (s *AnalyzeService) clusterAndLabel(questions []types.Question) ([]types.Topic, []types.Cluster) {
	vectors := make([][]float32, len(questions))
	for i := range questions {
		vectors[i] = questions[i].Embedding
	}
	labels := s.clusterer.Cluster(vectors)

	memberIdx := make(map[int][]int)
	for i, label := range labels {
		if label != Noise {
			memberIdx[label] = append(memberIdx[label], i)
		}
	}
	clusterIDs := make([]int, 0, len(memberIdx))
	for id := range memberIdx {
		clusterIDs = append(clusterIDs, id)
	}
	sort.Ints(clusterIDs)

	allTexts := make([]string, len(questions))
	for i := range questions {
		allTexts[i] = questions[i].Text
	}

	var topics []types.Topic
	var clusters []types.Cluster
	nameCount := make(map[string]int)
	for _, cid := range clusterIDs {
		members := memberIdx[cid]
		memberTexts := make([]string, len(members))
		memberQIDs := make([]string, len(members))
		for i, idx := range members {
			memberTexts[i] = questions[idx].Text
			memberQIDs[i] = questions[idx].ID
		}
		rest := restOf(allTexts, members)

		name, keywords := s.labeler.Label(memberTexts, rest)
		// the labeler can assign the same name to two clusters, e.g. the
		// degenerate fallback; the name has to identify exactly one topic
		nameCount[name]++
		if n := nameCount[name]; n > 1 {
			name = fmt.Sprintf("%s #%d", name, n)
		}
		topic := types.Topic{
			ID:              fmt.Sprintf("topic_%d", cid),
			Name:            name,
			Keywords:        keywords,
			QuestionIDs:     memberQIDs,
			QuestionCount:   len(members),
			ConfidenceScore: 0.7,
		}
		topics = append(topics, topic)
		clusters = append(clusters, types.Cluster{
			ID:        fmt.Sprintf("cluster_%d", cid),
			Questions: memberQIDs,
			Size:      len(members),
		})

		for _, idx := range members {
			topicName := name
			questions[idx].Topic = &topicName
		}
	}
	return topics, clusters
}

func restOf(all []string, exclude []int) []string {
	excluded := make(map[int]bool, len(exclude))
	for _, i := range exclude {
		excluded[i] = true
	}
	rest := make([]string, 0, len(all)-len(exclude))
	for i, t := range all {
		if !excluded[i] {
			rest = append(rest, t)
		}
	}
	return rest
}

// aggregate assembles the AnalysisResult, recomputing every summary count
// from the actual collections so partial failures upstream cannot skew them.
func (s *AnalyzeService) aggregate(documentID string, questions []types.Question, topics []types.Topic, clusters []types.Cluster, clusteringSkipped, degraded bool) *types.AnalysisResult {
	if questions == nil {
		questions = []types.Question{}
	}
	if topics == nil {
		topics = []types.Topic{}
	}
	if clusters == nil {
		clusters = []types.Cluster{}
	}

	// topic counts come from actual membership, not upstream counters;
	// keyed by question id so topics sharing a label cannot pool counts
	questionIDs := make(map[string]bool, len(questions))
	for _, q := range questions {
		questionIDs[q.ID] = true
	}
	for i := range topics {
		n := 0
		for _, qid := range topics[i].QuestionIDs {
			if questionIDs[qid] {
				n++
			}
		}
		topics[i].QuestionCount = n
	}

	typeSet := make(map[string]bool)
	for _, q := range questions {
		typeSet[string(q.Type)] = true
	}
	questionTypes := make([]string, 0, len(typeSet))
	for t := range typeSet {
		questionTypes = append(questionTypes, t)
	}
	sort.Strings(questionTypes)

	return &types.AnalysisResult{
		DocumentID:       documentID,
		Status:           types.StatusCompleted,
		QuestionsFound:   len(questions),
		TopicsIdentified: len(topics),
		AnalysisData: types.AnalysisData{
			Questions: questions,
			Topics:    topics,
			Clusters:  clusters,
			Summary: types.Summary{
				TotalQuestions:    len(questions),
				TopicsFound:       len(topics),
				QuestionTypes:     questionTypes,
				ClusteringSkipped: clusteringSkipped,
				Degraded:          degraded,
			},
		},
	}
}
