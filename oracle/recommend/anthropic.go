package recommend

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const ProviderAnthropic = "anthropic"

type Anthropic struct {
	client anthropic.Client
}

func NewAnthropic(apiKey, baseURL string) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}

	return &Anthropic{client: anthropic.NewClient(opts...)}
}

func (a *Anthropic) Name() string {
	return ProviderAnthropic
}

func (a *Anthropic) Complete(ctx context.Context, c Completion) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.Model),
		MaxTokens:   c.MaxTokens,
		Temperature: anthropic.Float(c.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(c.Prompt)),
		},
	}
	if c.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: c.System},
		}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	return anthropicText(resp), nil
}

// anthropicText concatenates the text blocks of a reply.
func anthropicText(resp *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}
