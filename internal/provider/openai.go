package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const (
	openRouterBaseURL  = "https://openrouter.ai/api/v1"
	defaultOpenAIModel = "gpt-4o-mini"
)

// OpenAI is the OpenAI-compatible chat backend. With a base URL override it
// also serves OpenRouter, which speaks the same wire protocol.
type OpenAI struct {
	client openai.Client
	model  string
	name   string
}

func newOpenAI(apiKey, model, baseURL string) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	name := "openai"
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
		name = "openrouter"
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
		name:   name,
	}
}

func (p *OpenAI) Name() string { return p.name }

func (p *OpenAI) Complete(ctx context.Context, prompt string, schema map[string]any) (Result, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "agent_output",
					Schema: schema,
				},
			},
		}
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("%s completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("%s completion: empty response", p.name)
	}
	return Result{RawText: resp.Choices[0].Message.Content}, nil
}
