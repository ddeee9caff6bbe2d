package engine

import (
	"context"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/loftcall/loftcall/pkg/core"
)

// OpenAIProvider generates narration through the OpenAI chat API (or any
// compatible endpoint via base URL override).
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider creates a provider. baseURL may be empty for the
// default endpoint.
func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	param := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
	}

	if req.System != "" {
		param.Messages = append(param.Messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.History {
		switch m.Role {
		case RoleAssistant:
			param.Messages = append(param.Messages, openai.AssistantMessage(m.Content))
		default:
			param.Messages = append(param.Messages, openai.UserMessage(m.Content))
		}
	}
	param.Messages = append(param.Messages, openai.UserMessage(req.UserText))

	for _, t := range req.Tools {
		param.Tools = append(param.Tools, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  openai.FunctionParameters(t.Parameters),
				},
			},
		})
	}

	completion, err := p.client.Chat.Completions.New(ctx, param)
	if err != nil {
		return "", core.NewProviderError(p.Name(), err)
	}
	if len(completion.Choices) == 0 {
		return "", core.NewProviderError(p.Name(), errEmptyCompletion)
	}
	return completion.Choices[0].Message.Content, nil
}
