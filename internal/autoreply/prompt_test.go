package autoreply

import (
	"testing"

	"github.com/mikey/reply-checker/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantAuto bool
		wantConf float64
		wantErr  bool
	}{
		{
			name:     "plain json",
			text:     `{"is_auto_reply": true, "confidence": 0.92, "explanation": "vacation notice"}`,
			wantAuto: true,
			wantConf: 0.92,
		},
		{
			name:     "wrapped in prose",
			text:     "Sure, here it is:\n```json\n{\"is_auto_reply\": false, \"confidence\": 0.8}\n```",
			wantAuto: false,
			wantConf: 0.8,
		},
		{
			name:     "confidence clamped",
			text:     `{"is_auto_reply": true, "confidence": 7}`,
			wantAuto: true,
			wantConf: 1,
		},
		{
			name:    "no json",
			text:    "I cannot tell",
			wantErr: true,
		},
		{
			name:    "broken json",
			text:    `{"is_auto_reply": tru}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseVerdict(tt.text, "model-x")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAuto, v.IsAutoReply)
			assert.InDelta(t, tt.wantConf, v.Confidence, 1e-9)
			assert.Equal(t, "model-x", v.ModelUsed)
		})
	}
}

func TestJudgePrompt(t *testing.T) {
	msg := &core.ProviderMessage{From: "jane@x.com", Subject: "Re: Lunch"}
	prompt := JudgePrompt(msg, "Sounds good")
	assert.Contains(t, prompt, "From: jane@x.com")
	assert.Contains(t, prompt, "Subject: Re: Lunch")
	assert.Contains(t, prompt, "Sounds good")
}
