package alias

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAliasRepo struct {
	aliases map[string][]core.Alias
	err     error
}

func (f *fakeAliasRepo) KnownAliases(_ context.Context, contactID string) ([]core.Alias, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.aliases[contactID], nil
}

func (f *fakeAliasRepo) AddKnownAlias(_ context.Context, a core.Alias) error {
	f.aliases[a.ContactID] = append(f.aliases[a.ContactID], a)
	return nil
}

func TestGenerateCandidates(t *testing.T) {
	tests := []struct {
		name        string
		email       string
		contains    []string
		notContains []string
	}{
		{
			name:  "gmail dotted address",
			email: "Jane.Doe@Gmail.com",
			contains: []string{
				"jane.doe@gmail.com",
				"janedoe@gmail.com",
				"j.anedoe@gmail.com",
				"janedo.e@gmail.com",
				"jane.doe+work@gmail.com",
				"jane.doe+newsletter@gmail.com",
				"jane.doe@googlemail.com",
			},
			notContains: []string{"jane.doe@mail.gmail.com"},
		},
		{
			name:  "plus addressed outlook",
			email: "bob+sales@outlook.com",
			contains: []string{
				"bob+sales@outlook.com",
				"bob@outlook.com",
				"bob+reply@outlook.com",
				"bob+sales@hotmail.com",
				"bob@live.com",
			},
			notContains: []string{"bob@gmail.com"},
		},
		{
			name:  "yahoo family",
			email: "amy@yahoo.com",
			contains: []string{
				"amy@ymail.com",
				"amy@rocketmail.com",
			},
		},
		{
			name:  "corporate subdomain",
			email: "ceo@sales.acme.co",
			contains: []string{
				"ceo@mail.sales.acme.co",
				"ceo@email.sales.acme.co",
				"ceo@smtp.sales.acme.co",
				"ceo@acme.co",
			},
		},
		{
			name:        "short gmail local part skips dot reinsertion",
			email:       "ab@gmail.com",
			contains:    []string{"ab@gmail.com", "ab@googlemail.com"},
			notContains: []string{"a.b@gmail.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateCandidates(tt.email)
			require.NotEmpty(t, got)
			assert.Equal(t, strings.ToLower(tt.email), got[0])
			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}
			for _, unwanted := range tt.notContains {
				assert.NotContains(t, got, unwanted)
			}
		})
	}
}

func TestGenerateCandidatesInvalid(t *testing.T) {
	assert.Nil(t, GenerateCandidates(""))
	assert.Equal(t, []string{"not-an-address"}, GenerateCandidates("not-an-address"))
}

func TestGenerateCandidatesProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	local := gen.RegexMatch(`[a-z][a-z0-9.]{0,12}(\+[a-z]{1,5})?`)
	domain := gen.OneConstOf("gmail.com", "googlemail.com", "outlook.com", "yahoo.com", "acme.io", "eu.corp.example.org")

	properties.Property("candidates are deterministic and deduplicated", prop.ForAll(
		func(l, d string) bool {
			email := l + "@" + d
			first := GenerateCandidates(email)
			second := GenerateCandidates(email)
			if len(first) != len(second) || len(first) == 0 {
				return false
			}
			seen := make(map[string]bool)
			for i := range first {
				if first[i] != second[i] || seen[first[i]] {
					return false
				}
				seen[first[i]] = true
			}
			return first[0] == strings.ToLower(email)
		},
		local, domain,
	))

	properties.Property("every candidate is lowercase with one @", prop.ForAll(
		func(l, d string) bool {
			for _, c := range GenerateCandidates(l + "@" + d) {
				if c != strings.ToLower(c) || strings.Count(c, "@") != 1 {
					return false
				}
			}
			return true
		},
		local, domain,
	))

	properties.TestingRun(t)
}

func TestResolveAliases(t *testing.T) {
	conf := 0.9
	repo := &fakeAliasRepo{aliases: map[string][]core.Alias{
		"contact-1": {
			{ContactID: "contact-1", AliasEmail: "Jane@Personal.example", Source: core.AliasSourceKnown, Confidence: &conf},
			{ContactID: "contact-1", AliasEmail: "janedoe@gmail.com", Source: core.AliasSourceKnown},
		},
	}}
	r := NewResolver(repo, zap.NewNop())

	aliases, err := r.ResolveAliases(context.Background(), "contact-1", "jane.doe@gmail.com")
	require.NoError(t, err)

	assert.NotContains(t, aliases, "jane.doe@gmail.com")
	assert.Contains(t, aliases, "jane@personal.example")
	assert.Contains(t, aliases, "jane.doe@googlemail.com")

	seen := make(map[string]bool)
	for _, a := range aliases {
		assert.False(t, seen[a], "duplicate alias %s", a)
		seen[a] = true
	}
}

func TestResolveAliasesRepoFailure(t *testing.T) {
	r := NewResolver(&fakeAliasRepo{err: errors.New("db down")}, zap.NewNop())

	aliases, err := r.ResolveAliases(context.Background(), "contact-1", "amy@yahoo.com")
	require.Error(t, err)
	assert.Contains(t, aliases, "amy@ymail.com")
}

func TestBatch(t *testing.T) {
	aliases := make([]string, 23)
	for i := range aliases {
		aliases[i] = string(rune('a'+i)) + "@x.com"
	}

	batches := Batch(aliases, 10)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 10)
	assert.Len(t, batches[2], 3)
	assert.Equal(t, "k@x.com", batches[1][0])

	assert.Nil(t, Batch(nil, 10))
	assert.Len(t, Batch(aliases, 0), 3)
}

func TestNormalizeAndSet(t *testing.T) {
	assert.Equal(t, "jane@example.com", Normalize(`"Jane Doe" <Jane@Example.com>`))
	assert.Equal(t, "jane@example.com", Normalize("  JANE@example.com "))
	assert.Equal(t, "example.com", Domain("Jane <jane@Example.com>"))
	assert.Equal(t, "", Domain("nobody"))

	s := NewSet("a@x.com", "B@Y.com", "")
	assert.True(t, s.Contains("b@y.com"))
	assert.True(t, s.Contains("Alpha <A@X.com>"))
	assert.False(t, s.Contains("c@x.com"))
}
