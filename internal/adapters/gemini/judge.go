package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/mikey/reply-checker/internal/autoreply"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/mikey/reply-checker/internal/utils"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Judge is an implementation of core.AutoReplyJudge using Google Gemini
type Judge struct {
	client        *genai.Client
	model         *genai.GenerativeModel
	modelName     string
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewJudge creates a new Gemini judge
func NewJudge(
	ctx context.Context,
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) (*Judge, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(temperature)
	model.SetTopP(topP)
	model.SetMaxOutputTokens(int32(maxTokens))
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = genai.NewUserContent(genai.Text(autoreply.JudgeSystemPrompt))

	return &Judge{
		client:        client,
		model:         model,
		modelName:     modelName,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}, nil
}

// Close closes the Gemini client
func (j *Judge) Close() error {
	if j.client != nil {
		return j.client.Close()
	}
	return nil
}

// JudgeAutoReply asks the model whether msg was machine-generated
func (j *Judge) JudgeAutoReply(ctx context.Context, msg *core.ProviderMessage) (*core.AutoReplyVerdict, error) {
	body := j.textProcessor.ProcessText(msg.BodyText, j.maxBodySize)

	resp, err := j.model.GenerateContent(ctx, genai.Text(autoreply.JudgePrompt(msg, body)))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content with Gemini: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}

	verdict, err := autoreply.ParseVerdict(text, j.modelName)
	if err != nil {
		return nil, err
	}

	j.logger.Debug("Gemini judged message",
		zap.String("message_id", msg.ID),
		zap.Bool("is_auto_reply", verdict.IsAutoReply),
		zap.Float64("confidence", verdict.Confidence))
	return verdict, nil
}

// responseText joins the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty response from Gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response from Gemini")
	}
	return sb.String(), nil
}
