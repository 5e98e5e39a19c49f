package openai

import (
	"context"
	"fmt"

	"github.com/mikey/reply-checker/internal/autoreply"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/mikey/reply-checker/internal/utils"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Judge is an implementation of core.AutoReplyJudge using OpenAI chat completions
type Judge struct {
	client        *openai.Client
	modelName     string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewJudge creates a new OpenAI judge
func NewJudge(
	client *openai.Client,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *Judge {
	return &Judge{
		client:        client,
		modelName:     modelName,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// JudgeAutoReply asks the model whether msg was machine-generated
func (j *Judge) JudgeAutoReply(ctx context.Context, msg *core.ProviderMessage) (*core.AutoReplyVerdict, error) {
	body := j.textProcessor.ProcessText(msg.BodyText, j.maxBodySize)

	req := openai.ChatCompletionRequest{
		Model: j.modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: autoreply.JudgeSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: autoreply.JudgePrompt(msg, body)},
		},
		MaxTokens:   j.maxTokens,
		Temperature: j.temperature,
		TopP:        j.topP,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := j.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from OpenAI")
	}

	verdict, err := autoreply.ParseVerdict(resp.Choices[0].Message.Content, j.modelName)
	if err != nil {
		return nil, err
	}

	j.logger.Debug("OpenAI judged message",
		zap.String("message_id", msg.ID),
		zap.String("request_id", resp.ID),
		zap.Bool("is_auto_reply", verdict.IsAutoReply),
		zap.Float64("confidence", verdict.Confidence))
	return verdict, nil
}
