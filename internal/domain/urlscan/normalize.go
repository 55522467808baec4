package urlscan

import (
	"fmt"
	"strings"

	"github.com/secwatch/account-security/internal/domain"
)

// trailingPunctuation is stripped from user-pasted URLs ("see example.com.")
const trailingPunctuation = ".,;:!?"

// Normalize canonicalizes a user-supplied URL: whitespace removed, trailing
// punctuation stripped, https:// assumed when no scheme separator is present,
// scheme and host lower-cased, empty path defaulted to "/", params and
// fragment dropped. Normalizing an already-normalized URL is a no-op.
func Normalize(raw string) (string, error) {
	value := strings.Map(func(r rune) rune {
		if isSpace(r) {
			return -1
		}
		return r
	}, raw)
	value = strings.TrimRight(value, trailingPunctuation)
	if !strings.Contains(value, "://") {
		value = "https://" + value
	}

	parts, err := splitURL(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}

	scheme := strings.ToLower(parts.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	path := parts.Path
	if path == "" {
		path = "/"
	}

	return urlParts{
		Scheme: scheme,
		Netloc: strings.ToLower(parts.Netloc),
		Path:   path,
		Query:  parts.Query,
	}.String(), nil
}

// Validate checks the host of a normalized URL.
//
// Hosts must be plain dotted DNS names made of [a-z0-9.-]. Bracketed IPv6
// literals, internationalized domains, explicit ports and userinfo are all
// rejected.
func Validate(normalized string) error {
	parts, err := splitURL(normalized)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	host := strings.ToLower(strings.TrimSpace(parts.Netloc))

	switch {
	case host == "":
		return fmt.Errorf("%w: missing host", domain.ErrInvalidURL)
	case strings.Contains(host, " "):
		return fmt.Errorf("%w: host contains spaces", domain.ErrInvalidURL)
	case !strings.Contains(host, "."):
		return fmt.Errorf("%w: host must contain a domain", domain.ErrInvalidURL)
	case strings.HasPrefix(host, ".") || strings.HasSuffix(host, "."):
		return fmt.Errorf("%w: malformed domain", domain.ErrInvalidURL)
	case !isHostCharset(host):
		return fmt.Errorf("%w: unsupported host characters", domain.ErrInvalidURL)
	}
	return nil
}

// Canonicalize normalizes raw and validates the result
func Canonicalize(raw string) (string, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	if err := Validate(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// Host returns the lower-cased network location of a URL that already
// passed Validate
func Host(normalized string) string {
	parts, err := splitURL(normalized)
	if err != nil {
		return ""
	}
	return strings.ToLower(parts.Netloc)
}

func isHostCharset(host string) bool {
	for i := 0; i < len(host); i++ {
		c := host[i]
		if !(('a' <= c && c <= 'z') || ('0' <= c && c <= '9') || c == '.' || c == '-') {
			return false
		}
	}
	return true
}
