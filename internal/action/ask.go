package action

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"

	openai "github.com/openai/openai-go/v3"
)

const DefaultAskPrompt = `
You are VOX, a voice assistant running on a small home computer.
Your answer will be read aloud by a speech synthesizer.

RULES:
1. Answer in one or two short sentences.
2. Plain text only. No markdown, lists, code or emoji.
3. Spell out numbers and units the way they are spoken.
4. If you do not know, say so briefly.
`

// Ask forwards the utterance to an OpenAI-compatible chat model and speaks
// the answer.
type Ask struct {
	client openai.Client
	model  string
	prompt string
}

func NewAsk(client openai.Client, model, prompt string) *Ask {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultAskPrompt
	}
	if model == "" {
		model = string(openai.ChatModelGPT5Nano)
	}
	return &Ask{client: client, model: model, prompt: prompt}
}

func (a *Ask) Handle(ctx context.Context, req Request) (Result, error) {
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(a.prompt),
			openai.UserMessage(req.Text),
		},
		Model: openai.ChatModel(a.model),
	})
	if err != nil {
		return Result{}, fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("no choices in response")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return Result{}, fmt.Errorf("empty message content")
	}

	log.Debug("Answered", "question", req.Text, "answer", content)

	return Result{Phrase: content, Data: map[string]any{"answer": content}}, nil
}
