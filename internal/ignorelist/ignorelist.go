package ignorelist

import (
	"strings"

	"go.uber.org/zap"
)

// Checker decides whether messages from a sender domain must never count as replies
type Checker struct {
	domains []string
	logger  *zap.Logger
}

// NewChecker creates a new ignore list checker
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	// Normalize domains (lowercase)
	normalizedDomains := make([]string, 0, len(domains))
	for _, domain := range domains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain != "" {
			normalizedDomains = append(normalizedDomains, domain)
		}
	}

	if len(normalizedDomains) > 0 && logger != nil {
		logger.Info("Initialized ignored sender domains", zap.Strings("domains", normalizedDomains))
	}

	return &Checker{
		domains: normalizedDomains,
		logger:  logger,
	}
}

// IsIgnored checks if the sender's domain, or a parent of it, is ignored
func (c *Checker) IsIgnored(from string) bool {
	if c == nil || len(c.domains) == 0 {
		return false
	}

	// Extract domain from email address
	at := strings.LastIndexByte(from, '@')
	if at < 0 || at == len(from)-1 {
		return false
	}
	domain := strings.ToLower(strings.TrimRight(from[at+1:], ">"))

	for _, ignored := range c.domains {
		if domain == ignored || strings.HasSuffix(domain, "."+ignored) {
			if c.logger != nil {
				c.logger.Debug("Sender domain is ignored",
					zap.String("domain", domain),
					zap.String("email", from))
			}
			return true
		}
	}

	return false
}
