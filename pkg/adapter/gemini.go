package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recollect/pkg/model"
	"google.golang.org/genai"
)

type Gemini interface {
	GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiClient struct {
	client          *genai.Client
	generativeModel string
}

type GeminiOption func(*GeminiClient)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.generativeModel = model
	}
}

func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &GeminiClient{
		client:          client,
		generativeModel: "gemini-2.5-flash",
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *GeminiClient) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.generativeModel, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content")
	}
	return resp, nil
}

const geminiSystemPrompt = `You are a helpful WhatsApp assistant talking with the user %s.
Answer in the language of the user. Keep replies short enough for a chat message.`

// GeminiGenerator answers with Gemini instead of a Dify application. Gemini
// keeps no server-side session, so the conversation history travels in the
// system instruction.
type GeminiGenerator struct {
	gemini Gemini
}

func NewGeminiGenerator(gemini Gemini) *GeminiGenerator {
	return &GeminiGenerator{gemini: gemini}
}

func (g *GeminiGenerator) Generate(ctx context.Context, req *model.ReplyRequest) (string, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, geminiSystemPrompt, req.ConversationID)
	if req.History != "" {
		prompt.WriteString("\n\nRecent conversation history:\n")
		prompt.WriteString(req.History)
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt.String(), ""),
	}
	contents := []*genai.Content{
		genai.NewContentFromText(req.Query, genai.RoleUser),
	}

	resp, err := g.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", goerr.Wrap(model.ErrBackendStatus, "gemini returned error",
				goerr.V("status", apiErr.Code),
				goerr.V("message", apiErr.Message))
		}
		return "", goerr.Wrap(model.ErrBackendUnreachable, "failed to call gemini",
			goerr.V("cause", err.Error()))
	}

	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		return "", goerr.Wrap(model.ErrEmptyAnswer, "gemini response has no text")
	}

	return answer, nil
}
