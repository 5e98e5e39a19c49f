package autoreply

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mikey/reply-checker/internal/core"
)

// JudgeSystemPrompt is sent as the system role where the model supports one
const JudgeSystemPrompt = "You classify inbound email as human-written or machine-generated. Respond only with JSON."

const judgePromptFormat = `Decide whether the following email was written by a person replying to an earlier message,
or was generated automatically (vacation responder, delivery notice, newsletter, ticket acknowledgement).
Respond with a JSON object containing:
- is_auto_reply: boolean (true if machine-generated)
- confidence: number between 0 and 1
- explanation: string (one sentence)

Email:
From: %s
Subject: %s
Body:
%s

Respond only with the JSON object and nothing else.`

// judgeResponse is the JSON object the model is asked to produce
type judgeResponse struct {
	IsAutoReply bool    `json:"is_auto_reply"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// JudgePrompt renders the judge prompt for msg with an already prepared body
func JudgePrompt(msg *core.ProviderMessage, body string) string {
	return fmt.Sprintf(judgePromptFormat, msg.From, msg.Subject, body)
}

// ParseVerdict reads the model's answer. Models sometimes wrap the object in
// prose or code fences, so the outermost braces are tried when the whole text
// is not valid JSON.
func ParseVerdict(text, model string) (*core.AutoReplyVerdict, error) {
	var resp judgeResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		start := strings.IndexByte(text, '{')
		end := strings.LastIndexByte(text, '}')
		if start < 0 || end <= start {
			return nil, fmt.Errorf("failed to extract JSON from judge response: %w", err)
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &resp); err != nil {
			return nil, fmt.Errorf("failed to parse judge response as JSON: %w", err)
		}
	}

	if resp.Confidence < 0 {
		resp.Confidence = 0
	}
	if resp.Confidence > 1 {
		resp.Confidence = 1
	}

	return &core.AutoReplyVerdict{
		IsAutoReply: resp.IsAutoReply,
		Confidence:  resp.Confidence,
		Explanation: resp.Explanation,
		ModelUsed:   model,
	}, nil
}
