package urlscan

import (
	"golang.org/x/net/publicsuffix"
)

// RegisteredDomain returns the eTLD+1 of host ("login.paypal.co.uk" ->
// "paypal.co.uk"), or "" when host has none. Audit only: it is never a
// model feature.
func RegisteredDomain(host string) string {
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return domain
}
