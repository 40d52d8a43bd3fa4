package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/edgard/talebot/internal/conversation"
)

var safetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
}

type geminiBackend struct {
	client      *genai.Client
	model       string
	temperature float32
}

func newGeminiBackend(ctx context.Context, token, baseURL, model string, temperature float32) (*geminiBackend, error) {
	cc := &genai.ClientConfig{
		APIKey:  token,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &geminiBackend{client: client, model: model, temperature: temperature}, nil
}

func (b *geminiBackend) Complete(ctx context.Context, turns []conversation.Turn) ([]string, error) {
	system, contents := geminiContents(turns)

	temperature := b.temperature
	gc := &genai.GenerateContentConfig{
		Temperature:    &temperature,
		SafetySettings: safetySettings,
	}
	if system != "" {
		gc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	resp, err := b.client.Models.GenerateContent(ctx, b.model, contents, gc)
	if err != nil {
		return nil, fmt.Errorf("generate content request failed: %w", err)
	}

	var candidates []string
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, part := range c.Content.Parts {
			if part != nil {
				sb.WriteString(part.Text)
			}
		}
		candidates = append(candidates, sb.String())
	}
	return candidates, nil
}

// geminiContents splits turns into a system instruction and the chat contents.
// Gemini has no assistant role; the model's own turns use the "model" role.
func geminiContents(turns []conversation.Turn) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case conversation.RoleSystem:
			system = append(system, t.Content)
			continue
		case conversation.RoleAssistant:
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: t.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: t.Content}}})
		}
	}
	return strings.Join(system, "\n\n"), contents
}
