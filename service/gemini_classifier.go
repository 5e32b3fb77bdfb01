package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"github.com/tieubaoca/cramcortex-be/types"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

// GeminiClassifier is an alternate primary classifier backed by Gemini with
// API-key rotation: a failed call rotates to the next key and retries once.
type GeminiClassifier struct {
	apiKeys    []string
	currentKey int
	client     *genai.Client
	model      *genai.GenerativeModel
	modelName  string
	limiter    *rate.Limiter
	mu         sync.Mutex
}

func NewGeminiClassifier(apiKeys []string, modelName string, limiter *rate.Limiter) (*GeminiClassifier, error) {
	if len(apiKeys) == 0 {
		return nil, errors.New("no API keys provided")
	}
	c := &GeminiClassifier{
		apiKeys:   apiKeys,
		modelName: modelName,
		limiter:   limiter,
	}
	if err := c.initClient(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *GeminiClassifier) initClient() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(c.apiKeys[c.currentKey]))
	if err != nil {
		return err
	}
	c.client = client
	c.model = client.GenerativeModel(c.modelName)
	c.model.ResponseMIMEType = "application/json"
	return nil
}

func (c *GeminiClassifier) rotateAPIKey() error {
	c.mu.Lock()
	c.currentKey = (c.currentKey + 1) % len(c.apiKeys)
	if err := c.client.Close(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()
	return c.initClient()
}

func (c *GeminiClassifier) Classify(ctx context.Context, questionText, surrounding string) (*types.Classification, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	contextBlock := ""
	if surrounding != "" {
		contextBlock = fmt.Sprintf("\nSurrounding lines:\n%s\n", surrounding)
	}
	prompt := classifySystemMessage + "\n\n" +
		fmt.Sprintf(classifyPromptTemplate, questionText, contextBlock)

	c.mu.Lock()
	model := c.model
	c.mu.Unlock()

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// try the next key once before giving up
		if rerr := c.rotateAPIKey(); rerr != nil {
			return nil, rerr
		}
		c.mu.Lock()
		model = c.model
		c.mu.Unlock()
		resp, err = model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return nil, err
		}
	}

	if len(resp.Candidates) == 0 {
		return nil, errors.New("no response generated")
	}
	content := ""
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				content += string(text)
			}
		}
	}
	return parseClassification(content)
}

// Close releases the underlying client.
func (c *GeminiClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
