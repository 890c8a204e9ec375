package recommend

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const ProviderOpenAI = "openai"

type OpenAI struct {
	client openai.Client
}

func NewOpenAI(apiKey, baseURL string) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}

	return &OpenAI{client: openai.NewClient(opts...)}
}

func (o *OpenAI) Name() string {
	return ProviderOpenAI
}

func (o *OpenAI) Complete(ctx context.Context, c Completion) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if c.System != "" {
		messages = append(messages, openai.SystemMessage(c.System))
	}
	messages = append(messages, openai.UserMessage(c.Prompt))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.Model),
		Messages:            messages,
		Temperature:         openai.Float(c.Temperature),
		MaxCompletionTokens: openai.Int(c.MaxTokens),
	})
	if err != nil {
		return "", err
	}

	return openaiText(resp), nil
}

// openaiText returns the first choice, the only one requested.
func openaiText(resp *openai.ChatCompletion) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}
