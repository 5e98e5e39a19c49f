package alias

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/mikey/reply-checker/internal/core"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of aliases combined into one sender query
const DefaultBatchSize = 10

// syntheticTags are plus-address tags commonly used for filtering
var syntheticTags = []string{"work", "personal", "reply", "auto", "newsletter", "list"}

// gmailDomains share dot-insensitive local parts
var gmailDomains = []string{"gmail.com", "googlemail.com"}

// consumerFamilies are domains operated by the same mailbox provider
var consumerFamilies = [][]string{
	gmailDomains,
	{"outlook.com", "hotmail.com", "live.com"},
	{"yahoo.com", "ymail.com", "rocketmail.com"},
}

// corporatePrefixes are mail-host subdomains tried for corporate domains
var corporatePrefixes = []string{"mail.", "email.", "smtp."}

// Resolver merges generated candidates with aliases learned elsewhere
type Resolver struct {
	repo   core.AliasRepository
	logger *zap.Logger
}

// NewResolver creates a new alias resolver
func NewResolver(repo core.AliasRepository, logger *zap.Logger) *Resolver {
	return &Resolver{
		repo:   repo,
		logger: logger,
	}
}

// ResolveAliases returns every alias for the contact except the original
// address. Generated candidates are always returned; an error reports that
// known aliases could not be loaded.
func (r *Resolver) ResolveAliases(ctx context.Context, contactID, email string) ([]string, error) {
	original := Normalize(email)
	seen := map[string]bool{original: true}
	var aliases []string

	add := func(addr string) {
		addr = Normalize(addr)
		if addr == "" || seen[addr] {
			return
		}
		seen[addr] = true
		aliases = append(aliases, addr)
	}

	for _, candidate := range GenerateCandidates(email) {
		add(candidate)
	}

	if contactID == "" || r.repo == nil {
		return aliases, nil
	}

	known, err := r.repo.KnownAliases(ctx, contactID)
	if err != nil {
		r.logger.Warn("Failed to load known aliases",
			zap.String("contact_id", contactID),
			zap.Error(err))
		return aliases, fmt.Errorf("failed to load known aliases: %w", err)
	}
	for _, a := range known {
		add(a.AliasEmail)
	}

	r.logger.Debug("Resolved aliases",
		zap.String("contact_id", contactID),
		zap.Int("aliases", len(aliases)),
		zap.Int("known", len(known)))

	return aliases, nil
}

// GenerateCandidates returns deterministic alias candidates for an address.
// The first element is always the normalized original.
func GenerateCandidates(email string) []string {
	original := Normalize(email)
	local, domain, ok := splitAddress(original)
	if !ok {
		if original == "" {
			return nil
		}
		return []string{original}
	}

	var out []string
	seen := make(map[string]bool)
	add := func(l, d string) {
		if l == "" || d == "" {
			return
		}
		addr := l + "@" + d
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}

	add(local, domain)

	base := local
	if i := strings.IndexByte(local, '+'); i >= 0 {
		base = local[:i]
	}
	add(base, domain)

	for _, tag := range syntheticTags {
		add(base+"+"+tag, domain)
	}

	if contains(gmailDomains, domain) {
		dotless := strings.ReplaceAll(base, ".", "")
		add(dotless, domain)
		if n := len(dotless); n > 2 {
			add(dotless[:1]+"."+dotless[1:], domain)
			add(dotless[:n-1]+"."+dotless[n-1:], domain)
		}
	}

	family := familyOf(domain)
	for _, d := range family {
		if d == domain {
			continue
		}
		add(local, d)
		add(base, d)
	}

	if family == nil {
		for _, prefix := range corporatePrefixes {
			if !strings.HasPrefix(domain, prefix) {
				add(base, prefix+domain)
			}
		}
		if labels := strings.Split(domain, "."); len(labels) > 2 {
			add(base, strings.Join(labels[1:], "."))
		}
	}

	return out
}

// Batch splits aliases into consecutive chunks of at most size elements
func Batch(aliases []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var batches [][]string
	for start := 0; start < len(aliases); start += size {
		end := start + size
		if end > len(aliases) {
			end = len(aliases)
		}
		batches = append(batches, aliases[start:end])
	}
	return batches
}

// Normalize extracts the bare address from a header value and lowercases it
func Normalize(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if strings.ContainsAny(addr, "<\"") {
		if parsed, err := mail.ParseAddress(addr); err == nil {
			addr = parsed.Address
		}
	}
	return strings.ToLower(addr)
}

// Domain returns the lowercased domain of an address
func Domain(addr string) string {
	_, d, ok := splitAddress(Normalize(addr))
	if !ok {
		return ""
	}
	return d
}

// Set is a normalized address set
type Set map[string]bool

// NewSet builds a Set from raw addresses
func NewSet(addrs ...string) Set {
	s := make(Set, len(addrs))
	for _, a := range addrs {
		if n := Normalize(a); n != "" {
			s[n] = true
		}
	}
	return s
}

// Contains reports whether addr, after normalization, is in the set
func (s Set) Contains(addr string) bool {
	return s[Normalize(addr)]
}

// Matches reports whether addr normalizes to any address in set
func Matches(addr string, set []string) bool {
	n := Normalize(addr)
	if n == "" {
		return false
	}
	for _, candidate := range set {
		if Normalize(candidate) == n {
			return true
		}
	}
	return false
}

func splitAddress(addr string) (string, string, bool) {
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 || at == len(addr)-1 {
		return "", "", false
	}
	return addr[:at], addr[at+1:], true
}

func familyOf(domain string) []string {
	for _, family := range consumerFamilies {
		if contains(family, domain) {
			return family
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
