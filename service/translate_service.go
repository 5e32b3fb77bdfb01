package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Translator rewrites extracted text into English before segmentation.
// Implementations must be safe for concurrent use.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

const translateSystemMessage = "You are a translation engine for exam documents. " +
	"You translate Hebrew text to English, preserving question numbering and " +
	"lettered answer choices. Respond with the English translation only."

const translatePromptTemplate = `Translate the following Hebrew exam text to English.
Keep question numbers and lettered answer choices exactly as they appear.
Respond with the English translation only, no commentary.

%s`

var (
	hebrewRe   = regexp.MustCompile(`[\x{0590}-\x{05FF}\x{FB1D}-\x{FB4F}]`)
	rtlMarkRe  = regexp.MustCompile(`[\x{200F}\x{202E}]`)
	spaceRunRe = regexp.MustCompile(`[ \t]{2,}`)
)

const translateChunkSize = 3000

// TranslateService translates Hebrew documents to English so the rest of the
// pipeline can work on a single language. Large documents are split on
// paragraph and sentence boundaries, the chunks are translated concurrently,
// and model output is scrubbed of any Hebrew that leaks back through.
type TranslateService struct {
	client     *openai.Client
	model      string
	limiter    *rate.Limiter
	maxRetries int
	chunkSize  int
}

func NewTranslateService(baseURL, apiKey, model string, limiter *rate.Limiter) *TranslateService {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &TranslateService{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		limiter:    limiter,
		maxRetries: 3,
		chunkSize:  translateChunkSize,
	}
}

// ContainsHebrew reports whether text has characters from the Hebrew blocks.
func ContainsHebrew(text string) bool {
	return hebrewRe.MatchString(text)
}

// Translate returns text unchanged when no Hebrew is present. Otherwise the
// text is chunked, translated with bounded concurrency and rejoined in
// chunk order.
func (t *TranslateService) Translate(ctx context.Context, text string) (string, error) {
	if !ContainsHebrew(text) {
		return text, nil
	}

	chunks := chunkByBoundaries(text, t.chunkSize)
	log.Printf("translating %d Hebrew chunk(s)", len(chunks))

	translated := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)
	for i, chunk := range chunks {
		g.Go(func() error {
			out, err := t.translateChunk(gctx, chunk)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			translated[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(translated, "\n\n"), nil
}

func (t *TranslateService) translateChunk(ctx context.Context, chunk string) (string, error) {
	retryDelay := time.Second
	var lastErr error
	for attempt := 0; attempt < t.maxRetries; attempt++ {
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}

		resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: t.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: translateSystemMessage},
				{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(translatePromptTemplate, chunk)},
			},
			Temperature: 0,
		})
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("no translation generated")
			continue
		}

		out := sanitizeTranslation(resp.Choices[0].Message.Content)
		if out == "" {
			lastErr = errors.New("empty translation")
			continue
		}
		if ContainsHebrew(out) {
			// the model echoed source text; retry, scrub on the last attempt
			lastErr = errors.New("translation still contains Hebrew")
			if attempt == t.maxRetries-1 {
				return stripHebrew(out), nil
			}
			continue
		}
		return out, nil
	}
	return "", fmt.Errorf("translation failed after %d attempts: %w", t.maxRetries, lastErr)
}

var translationArtifacts = []string{
	"Translation:",
	"English translation:",
	"Here is the translation:",
	"The translation is:",
}

// sanitizeTranslation removes the framing the model sometimes wraps around
// the translated text.
func sanitizeTranslation(raw string) string {
	out := strings.TrimSpace(raw)
	for _, prefix := range translationArtifacts {
		out = strings.TrimSpace(strings.TrimPrefix(out, prefix))
	}
	return out
}

// stripHebrew drops Hebrew characters and RTL marks that survived
// translation, keeping whatever English the model produced. Newlines are
// preserved so segmentation still sees the document structure.
func stripHebrew(text string) string {
	text = hebrewRe.ReplaceAllString(text, "")
	text = rtlMarkRe.ReplaceAllString(text, "")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRunRe.ReplaceAllString(line, " "))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// chunkByBoundaries splits text into chunks of at most max bytes, preferring
// paragraph boundaries, then sentence boundaries, then a plain split for text
// with no usable boundaries at all.
func chunkByBoundaries(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		if current.Len()+len(para)+2 > max {
			flush()
			if len(para) > max {
				for _, sentence := range splitSentences(para) {
					if current.Len()+len(sentence)+1 > max {
						flush()
					}
					if current.Len() > 0 {
						current.WriteString(" ")
					}
					current.WriteString(sentence)
				}
				continue
			}
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	// a single boundary-free run is cut at rune-aligned windows
	if len(chunks) == 1 && len(chunks[0]) > max {
		run := chunks[0]
		chunks = nil
		for len(run) > max {
			cut := max
			for cut > 0 && !utf8.RuneStart(run[cut]) {
				cut--
			}
			chunks = append(chunks, run[:cut])
			run = run[cut:]
		}
		if run != "" {
			chunks = append(chunks, run)
		}
	}
	return chunks
}

// splitSentences splits on sentence-ending punctuation, keeping the
// terminator with its sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		switch r {
		case '.', '!', '?':
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
