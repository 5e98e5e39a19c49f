package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/mikey/reply-checker/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRuntime struct {
	input *bedrockruntime.InvokeModelInput
	body  string
	err   error
}

func (f *fakeRuntime) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func newTestJudge(rt InvokeModelAPI, modelID string) *Judge {
	logger := zap.NewNop()
	return NewJudge(rt, modelID, 300, 0.1, 0.9, 4096, logger, utils.NewTextProcessor(logger))
}

func TestJudge_Claude(t *testing.T) {
	rt := &fakeRuntime{body: `{"content": [{"type": "text", "text": "{\"is_auto_reply\": true, \"confidence\": 0.85}"}]}`}
	judge := newTestJudge(rt, "anthropic.claude-3-haiku-20240307-v1:0")

	verdict, err := judge.JudgeAutoReply(context.Background(), &core.ProviderMessage{ID: "m1", Subject: "Away"})
	require.NoError(t, err)
	assert.True(t, verdict.IsAutoReply)
	assert.InDelta(t, 0.85, verdict.Confidence, 1e-9)
	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", verdict.ModelUsed)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rt.input.Body, &payload))
	assert.Equal(t, anthropicVersion, payload["anthropic_version"])
	assert.EqualValues(t, 300, payload["max_tokens"])
	assert.Len(t, payload["messages"], 1)
}

func TestJudge_Titan(t *testing.T) {
	rt := &fakeRuntime{body: `{"results": [{"outputText": "{\"is_auto_reply\": false, \"confidence\": 0.6}"}]}`}
	judge := newTestJudge(rt, "amazon.titan-text-express-v1")

	verdict, err := judge.JudgeAutoReply(context.Background(), &core.ProviderMessage{ID: "m1"})
	require.NoError(t, err)
	assert.False(t, verdict.IsAutoReply)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rt.input.Body, &payload))
	assert.Contains(t, payload, "inputText")
	assert.Contains(t, payload, "textGenerationConfig")
}

func TestJudge_GenericModel(t *testing.T) {
	rt := &fakeRuntime{body: `{"output": "{\"is_auto_reply\": true, \"confidence\": 0.99}"}`}
	judge := newTestJudge(rt, "meta.llama3-8b-instruct-v1:0")

	verdict, err := judge.JudgeAutoReply(context.Background(), &core.ProviderMessage{ID: "m1"})
	require.NoError(t, err)
	assert.True(t, verdict.IsAutoReply)
}

func TestJudge_Errors(t *testing.T) {
	_, err := newTestJudge(&fakeRuntime{err: errors.New("throttled")}, "anthropic.claude-v2").
		JudgeAutoReply(context.Background(), &core.ProviderMessage{ID: "m1"})
	assert.ErrorContains(t, err, "throttled")

	_, err = newTestJudge(&fakeRuntime{body: `{"content": []}`}, "anthropic.claude-v2").
		JudgeAutoReply(context.Background(), &core.ProviderMessage{ID: "m1"})
	assert.ErrorContains(t, err, "empty response")

	_, err = newTestJudge(&fakeRuntime{body: `{"results": []}`}, "amazon.titan-text-lite-v1").
		JudgeAutoReply(context.Background(), &core.ProviderMessage{ID: "m1"})
	assert.ErrorContains(t, err, "empty response")
}

func TestJudge_ModelFamilies(t *testing.T) {
	assert.True(t, newTestJudge(nil, "us.anthropic.claude-3-5-sonnet-20240620-v1:0").isAnthropicModel())
	assert.False(t, newTestJudge(nil, "amazon.titan-text-express-v1").isAnthropicModel())
	assert.True(t, newTestJudge(nil, "amazon.titan-text-express-v1").isAmazonTitanModel())
}
