package factory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mikey/reply-checker/internal/auth"
	"github.com/mikey/reply-checker/internal/config"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/mikey/reply-checker/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

func newConfig(values map[string]interface{}) *config.Config {
	cfg := config.NewFromViper(config.NewEmptyViper())
	for k, v := range values {
		cfg.Set(k, v)
	}
	return cfg
}

func TestStoreFactory(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]interface{}
		wantErr bool
	}{
		{"memory", map[string]interface{}{"store.type": "memory"}, false},
		{"sqlite", map[string]interface{}{"store.type": "sqlite", "store.sqlite_path": filepath.Join(t.TempDir(), "db", "rc.db")}, false},
		{"unknown", map[string]interface{}{"store.type": "postgres"}, true},
		{"bad duration", map[string]interface{}{"store.type": "memory", "store.cleanup_frequency": "soon"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStoreFactory(newConfig(tt.values), zap.NewNop()).CreateStore()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, s.Close())
		})
	}
}

func TestProviderFactory(t *testing.T) {
	t.Run("outlook only", func(t *testing.T) {
		cfg := newConfig(map[string]interface{}{
			"gmail.enabled":     false,
			"outlook.enabled":   true,
			"outlook.client_id": "client",
			"auth.token_dir":    t.TempDir(),
		})
		adapters, err := NewProviderFactory(cfg, zap.NewNop()).CreateAdapters()
		require.NoError(t, err)
		require.Len(t, adapters, 1)
		assert.Equal(t, core.ProviderOutlook, adapters[0].Provider())
	})

	t.Run("yahoo oauth2", func(t *testing.T) {
		cfg := newConfig(map[string]interface{}{
			"gmail.enabled":   false,
			"yahoo.enabled":   true,
			"yahoo.auth":      "oauth2",
			"yahoo.client_id": "client",
			"auth.token_dir":  t.TempDir(),
		})
		adapters, err := NewProviderFactory(cfg, zap.NewNop()).CreateAdapters()
		require.NoError(t, err)
		require.Len(t, adapters, 1)
		assert.Equal(t, core.ProviderYahoo, adapters[0].Provider())
	})

	t.Run("outlook without client id", func(t *testing.T) {
		cfg := newConfig(map[string]interface{}{"gmail.enabled": false, "outlook.enabled": true})
		_, err := NewProviderFactory(cfg, zap.NewNop()).CreateAdapters()
		assert.Error(t, err)
	})

	t.Run("missing gmail credentials", func(t *testing.T) {
		cfg := newConfig(map[string]interface{}{
			"gmail.enabled":          true,
			"gmail.credentials_file": filepath.Join(t.TempDir(), "missing.json"),
		})
		_, err := NewProviderFactory(cfg, zap.NewNop()).CreateAdapters()
		assert.Error(t, err)
	})

	t.Run("bad auth timeout", func(t *testing.T) {
		cfg := newConfig(map[string]interface{}{
			"gmail.enabled":     false,
			"outlook.enabled":   true,
			"outlook.client_id": "client",
			"auth.http_timeout": "whenever",
		})
		_, err := NewProviderFactory(cfg, zap.NewNop()).CreateAdapters()
		assert.Error(t, err)
	})

	t.Run("unknown yahoo auth", func(t *testing.T) {
		cfg := newConfig(map[string]interface{}{"gmail.enabled": false, "yahoo.enabled": true, "yahoo.auth": "kerberos"})
		_, err := NewProviderFactory(cfg, zap.NewNop()).CreateAdapters()
		assert.Error(t, err)
	})
}

func TestProviderFactory_TokenRefreshTimeout(t *testing.T) {
	f := NewProviderFactory(newConfig(map[string]interface{}{"auth.token_dir": t.TempDir()}), zap.NewNop())
	tokens, err := f.tokenManager(core.ProviderOutlook, &oauth2.Config{})
	require.NoError(t, err)
	assert.Equal(t, auth.DefaultHTTPTimeout, tokens.RefreshTimeout())

	f.cfg.Set("auth.http_timeout", "5s")
	tokens, err = f.tokenManager(core.ProviderOutlook, &oauth2.Config{})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, tokens.RefreshTimeout())
}

func TestJudgeFactory(t *testing.T) {
	tp := utils.NewTextProcessor(zap.NewNop())

	judge, err := NewJudgeFactory(newConfig(nil), zap.NewNop(), tp).CreateJudge(context.Background())
	require.NoError(t, err)
	assert.Nil(t, judge)

	cfg := newConfig(map[string]interface{}{
		"classifier.llm.enabled":  true,
		"classifier.llm.provider": "openai",
		"openai.api_key":          "sk-test",
	})
	judge, err = NewJudgeFactory(cfg, zap.NewNop(), tp).CreateJudge(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, judge)
	assert.NoError(t, CloseJudge(judge))

	cfg.Set("openai.api_key", "")
	judge, err = NewJudgeFactory(cfg, zap.NewNop(), tp).CreateJudge(context.Background())
	assert.Error(t, err)
	assert.Nil(t, judge)

	cfg.Set("classifier.llm.provider", "llama")
	_, err = NewJudgeFactory(cfg, zap.NewNop(), tp).CreateJudge(context.Background())
	assert.Error(t, err)
}

func TestDetectionFactory(t *testing.T) {
	cfg := newConfig(map[string]interface{}{"detection.alias_batch_size": 4})
	f := NewDetectionFactory(cfg, zap.NewNop())

	p, err := f.CreatePipeline(nil, nil, f.CreateTextProcessor())
	require.NoError(t, err)
	assert.Len(t, p.Layers(), 3)

	cfg.Set("retry.base_delay", "later")
	_, err = f.CreatePipeline(nil, nil, f.CreateTextProcessor())
	assert.Error(t, err)
}
