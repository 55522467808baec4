package ports

import (
	"context"

	"github.com/secwatch/account-security/internal/domain"
)

// ScanCache memoizes scan results per (model fingerprint, normalized URL).
// A miss is (nil, nil).
type ScanCache interface {
	Get(ctx context.Context, fingerprint, normalizedURL string) (*domain.ScanResult, error)
	Set(ctx context.Context, fingerprint, normalizedURL string, result *domain.ScanResult) error
	Close() error
}
