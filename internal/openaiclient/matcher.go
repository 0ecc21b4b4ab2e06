// Package openaiclient implements capability.TextMatcher with the OpenAI API: a vision
// model transcribes the document and the transcript is compared with the claimed identity
// by embedding similarity.
package openaiclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/example/authdoc/internal/capability"
	"github.com/example/authdoc/internal/logging"
	"github.com/example/authdoc/internal/verification"
)

const (
	DefaultVisionModel    = openai.GPT4VisionPreview
	DefaultEmbeddingModel = openai.AdaEmbeddingV2
	MaxTranscriptTokens   = 1024

	transcribePrompt = "Transcribe every piece of printed text on this identity document. " +
		"Reply with the text only, in reading order, separated by spaces."
)

// Config configures a Matcher.
type Config struct {
	APIKey         string
	BaseURL        string
	VisionModel    string
	EmbeddingModel string
}

// Matcher implements capability.TextMatcher.
type Matcher struct {
	client         *openai.Client
	visionModel    string
	embeddingModel openai.EmbeddingModel
	logger         *zap.Logger
}

// New builds a Matcher. Empty or unrecognised model names fall back to the defaults.
func New(cfg Config, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	m := &Matcher{
		client:         openai.NewClientWithConfig(clientCfg),
		visionModel:    cfg.VisionModel,
		embeddingModel: DefaultEmbeddingModel,
		logger:         logger.Named("openai_text_matcher"),
	}
	if m.visionModel == "" {
		m.visionModel = DefaultVisionModel
	}
	if cfg.EmbeddingModel != "" {
		model, err := parseEmbeddingModel(cfg.EmbeddingModel)
		if err != nil {
			m.logger.Warn("falling back to default embedding model",
				zap.String("requested", cfg.EmbeddingModel),
				zap.Stringer("model", DefaultEmbeddingModel),
			)
		} else {
			m.embeddingModel = model
		}
	}
	return m
}

// parseEmbeddingModel maps a model name such as "text-embedding-ada-002" onto the client's
// enum.
func parseEmbeddingModel(name string) (openai.EmbeddingModel, error) {
	var model openai.EmbeddingModel
	if err := model.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return openai.Unknown, err
	}
	if model == openai.Unknown {
		return openai.Unknown, fmt.Errorf("unknown embedding model %q", name)
	}
	return model, nil
}

// MatchText implements capability.TextMatcher. A document without readable text, or an
// identity that is not numeric, scores 0.
func (m *Matcher) MatchText(ctx context.Context, document []byte, identity string) (float64, error) {
	if identity == "" || strings.Trim(identity, "0123456789") != "" {
		return 0, nil
	}

	transcript, err := m.transcribe(ctx, document)
	if err != nil {
		return 0, logging.NewOperationError("openaiclient.transcribe", "", err)
	}
	if transcript == "" {
		m.logger.Debug("no text transcribed from document")
		return 0, nil
	}

	resp, err := m.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{transcript, identity},
		Model: m.embeddingModel,
	})
	if err != nil {
		return 0, logging.NewOperationError("openaiclient.embed", "", mapError(err))
	}
	if len(resp.Data) != 2 {
		return 0, fmt.Errorf("%w: expected 2 embeddings, got %d", capability.ErrInvalidResponse, len(resp.Data))
	}
	vectors := make([][]float32, 2)
	for _, e := range resp.Data {
		if e.Index < 0 || e.Index > 1 {
			return 0, fmt.Errorf("%w: embedding index %d", capability.ErrInvalidResponse, e.Index)
		}
		vectors[e.Index] = e.Embedding
	}

	sim, err := cosine(vectors[0], vectors[1])
	if err != nil {
		return 0, err
	}
	return verification.Round3(verification.Clamp(sim)), nil
}

func (m *Matcher) transcribe(ctx context.Context, document []byte) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimetype.Detect(document).String(), base64.StdEncoding.EncodeToString(document))
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     m.visionModel,
		MaxTokens: MaxTranscriptTokens,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: transcribePrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailHigh,
				}},
			},
		}},
	})
	if err != nil {
		return "", mapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", capability.ErrInvalidResponse)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func cosine(a, b []float32) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, fmt.Errorf("%w: embedding dimensions %d and %d", capability.ErrInvalidResponse, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// mapError wraps API and transport failures as unavailability, keeping the HTTP status.
func mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: status %d: %s", capability.ErrUnavailable, apiErr.HTTPStatusCode, apiErr.Message)
	}
	return fmt.Errorf("%w: %v", capability.ErrUnavailable, err)
}
