package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mikey/reply-checker/internal/autoreply"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/mikey/reply-checker/internal/utils"
	"go.uber.org/zap"
)

// anthropicVersion is the Messages API version Bedrock expects for Claude models
const anthropicVersion = "bedrock-2023-05-31"

// InvokeModelAPI is the subset of the Bedrock runtime client the judge uses
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Judge is an implementation of core.AutoReplyJudge using Amazon Bedrock
type Judge struct {
	client        InvokeModelAPI
	modelID       string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewJudge creates a new Bedrock judge
func NewJudge(
	client InvokeModelAPI,
	modelID string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *Judge {
	return &Judge{
		client:        client,
		modelID:       modelID,
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
	prompt := autoreply.JudgePrompt(msg, body)

	payload, err := j.buildPayload(prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	resp, err := j.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(j.modelID),
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke Bedrock model: %w", err)
	}

	text, err := j.extractText(resp.Body)
	if err != nil {
		return nil, err
	}

	verdict, err := autoreply.ParseVerdict(text, j.modelID)
	if err != nil {
		return nil, err
	}

	j.logger.Debug("Bedrock judged message",
		zap.String("message_id", msg.ID),
		zap.Bool("is_auto_reply", verdict.IsAutoReply),
		zap.Float64("confidence", verdict.Confidence))
	return verdict, nil
}

// buildPayload renders the request body in the model family's format
func (j *Judge) buildPayload(prompt string) ([]byte, error) {
	switch {
	case j.isAnthropicModel():
		return json.Marshal(map[string]interface{}{
			"anthropic_version": anthropicVersion,
			"max_tokens":        j.maxTokens,
			"system":            autoreply.JudgeSystemPrompt,
			"messages": []map[string]interface{}{
				{"role": "user", "content": prompt},
			},
			"temperature": j.temperature,
			"top_p":       j.topP,
		})
	case j.isAmazonTitanModel():
		return json.Marshal(map[string]interface{}{
			"inputText": prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": j.maxTokens,
				"temperature":   j.temperature,
				"topP":          j.topP,
			},
		})
	default:
		return json.Marshal(map[string]interface{}{
			"prompt":      prompt,
			"max_tokens":  j.maxTokens,
			"temperature": j.temperature,
			"top_p":       j.topP,
		})
	}
}

// extractText pulls the generated text out of a model response body
func (j *Judge) extractText(body []byte) (string, error) {
	switch {
	case j.isAnthropicModel():
		var claudeResp struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(body, &claudeResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Claude response: %w", err)
		}
		var sb strings.Builder
		for _, c := range claudeResp.Content {
			if c.Type == "text" {
				sb.WriteString(c.Text)
			}
		}
		if sb.Len() == 0 {
			return "", fmt.Errorf("empty response from Claude model")
		}
		return sb.String(), nil

	case j.isAmazonTitanModel():
		var titanResp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &titanResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Titan response: %w", err)
		}
		if len(titanResp.Results) == 0 {
			return "", fmt.Errorf("empty response from Titan model")
		}
		return titanResp.Results[0].OutputText, nil

	default:
		var genericResp struct {
			Output   string `json:"output"`
			Text     string `json:"text"`
			Response string `json:"response"`
		}
		if err := json.Unmarshal(body, &genericResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal generic response: %w", err)
		}
		for _, s := range []string{genericResp.Output, genericResp.Text, genericResp.Response} {
			if s != "" {
				return s, nil
			}
		}
		return string(body), nil
	}
}

// isAnthropicModel checks if the model is an Anthropic Claude model,
// including cross-region inference profiles such as us.anthropic.claude-...
func (j *Judge) isAnthropicModel() bool {
	return strings.Contains(j.modelID, "anthropic.claude")
}

// isAmazonTitanModel checks if the model is an Amazon Titan model
func (j *Judge) isAmazonTitanModel() bool {
	return strings.HasPrefix(j.modelID, "amazon.titan")
}
