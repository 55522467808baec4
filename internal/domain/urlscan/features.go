package urlscan

import (
	"math"
	"net/netip"
	"strings"
	"unicode"
	"unicode/utf8"
)

// NumFeatures is the length of every FeatureVector
const NumFeatures = 23

// FeatureNames lists the features in the order the classifier was trained on.
// Reordering this list invalidates every deployed model.
var FeatureNames = [NumFeatures]string{
	"url_length",
	"dot_count",
	"hyphen_count",
	"slash_count",
	"subdomain_count",
	"has_ip_address",
	"uses_https",
	"suspicious_keyword_count",
	"digit_count",
	"special_char_count",
	"domain_length",
	"path_length",
	"query_length",
	"fragment_length",
	"query_param_count",
	"ampersand_count",
	"at_symbol_count",
	"percent_count",
	"double_slash_count",
	"has_port_number",
	"is_shortened_domain",
	"host_entropy",
	"path_entropy",
}

// SuspiciousKeywords are counted as raw substrings of the lower-cased URL
var SuspiciousKeywords = []string{
	"login",
	"verify",
	"secure",
	"account",
	"bank",
	"update",
}

// ShortenerDomains are well-known URL shortening services
var ShortenerDomains = map[string]bool{
	"bit.ly":      true,
	"tinyurl.com": true,
	"t.co":        true,
	"goo.gl":      true,
	"ow.ly":       true,
	"is.gd":       true,
	"buff.ly":     true,
	"adf.ly":      true,
	"cutt.ly":     true,
	"rb.gy":       true,
	"tiny.cc":     true,
}

// invalidHost is parsed when a URL can't be split even after sanitizing
const invalidHost = "http://invalid.local"

// FeatureVector is the fixed-order lexical summary of a URL.
// Booleans are encoded as 0/1.
type FeatureVector [NumFeatures]float64

// Map returns the vector keyed by feature name
func (v FeatureVector) Map() map[string]float64 {
	m := make(map[string]float64, NumFeatures)
	for i, name := range FeatureNames {
		m[name] = v[i]
	}
	return m
}

// Extract computes the feature vector of any string. It never fails: an
// empty string yields a vector of mostly zeros and unparseable input falls
// back to a sentinel host.
//
// The output must stay bit-for-bit stable for a given input, since it is the
// contract deployed models were trained against.
func Extract(url string) FeatureVector {
	url = strings.TrimFunc(url, isSpace)
	parsed := safeSplit(url)
	host := hostOf(parsed)
	urlLower := strings.ToLower(url)

	keywordHits := 0
	for _, kw := range SuspiciousKeywords {
		keywordHits += strings.Count(urlLower, kw)
	}

	digits, special := 0, 0
	for _, r := range url {
		if isDigit(r) {
			digits++
		}
		if !isASCIIAlnum(r) {
			special++
		}
	}

	hasIP := isIPLiteral(host)

	return FeatureVector{
		float64(utf8.RuneCountInString(url)),
		float64(strings.Count(url, ".")),
		float64(strings.Count(url, "-")),
		float64(strings.Count(url, "/")),
		float64(subdomainCount(host, hasIP)),
		boolFeature(hasIP),
		boolFeature(parsed.Scheme == "https"),
		float64(keywordHits),
		float64(digits),
		float64(special),
		float64(utf8.RuneCountInString(host)),
		float64(utf8.RuneCountInString(parsed.Path)),
		float64(utf8.RuneCountInString(parsed.Query)),
		float64(utf8.RuneCountInString(parsed.Fragment)),
		float64(strings.Count(parsed.Query, "=")),
		float64(strings.Count(parsed.Query, "&")),
		float64(strings.Count(url, "@")),
		float64(strings.Count(url, "%")),
		float64(max(strings.Count(url, "//")-1, 0)),
		boolFeature(strings.Contains(parsed.Netloc, ":")),
		boolFeature(ShortenerDomains[host]),
		Entropy(host),
		Entropy(parsed.Path),
	}
}

// nonDecimalDigits holds the characters with Numeric_Type=Digit that are not
// decimal digits (superscripts, subscripts, circled digits). Together with
// unicode.Digit (Nd) it forms the digit set the deployed models were trained
// with.
var nonDecimalDigits = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x00b2, Hi: 0x00b3, Stride: 1},
		{Lo: 0x00b9, Hi: 0x00b9, Stride: 1},
		{Lo: 0x1369, Hi: 0x1371, Stride: 1},
		{Lo: 0x19da, Hi: 0x19da, Stride: 1},
		{Lo: 0x2070, Hi: 0x2070, Stride: 1},
		{Lo: 0x2074, Hi: 0x2079, Stride: 1},
		{Lo: 0x2080, Hi: 0x2089, Stride: 1},
		{Lo: 0x2460, Hi: 0x2468, Stride: 1},
		{Lo: 0x2474, Hi: 0x247c, Stride: 1},
		{Lo: 0x2488, Hi: 0x2490, Stride: 1},
		{Lo: 0x24ea, Hi: 0x24ea, Stride: 1},
		{Lo: 0x24f5, Hi: 0x24fd, Stride: 1},
		{Lo: 0x24ff, Hi: 0x24ff, Stride: 1},
		{Lo: 0x2776, Hi: 0x277e, Stride: 1},
		{Lo: 0x2780, Hi: 0x2788, Stride: 1},
		{Lo: 0x278a, Hi: 0x2792, Stride: 1},
	},
	R32: []unicode.Range32{
		{Lo: 0x10a40, Hi: 0x10a43, Stride: 1},
		{Lo: 0x10e60, Hi: 0x10e68, Stride: 1},
		{Lo: 0x11052, Hi: 0x1105a, Stride: 1},
		{Lo: 0x1f100, Hi: 0x1f10a, Stride: 1},
	},
	LatinOffset: 2,
}

func isDigit(r rune) bool {
	return unicode.IsDigit(r) || unicode.Is(nonDecimalDigits, r)
}

// Entropy returns the Shannon entropy (base 2) of the characters of s.
// The empty string has entropy 0.
func Entropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	order := make([]rune, 0)
	length := 0
	for _, r := range s {
		if counts[r] == 0 {
			order = append(order, r)
		}
		counts[r]++
		length++
	}

	// Summation follows first-occurrence order so the float result is stable
	sum := 0.0
	for _, r := range order {
		p := float64(counts[r]) / float64(length)
		sum += p * math.Log2(p)
	}
	if sum == 0 {
		return 0
	}
	return -sum
}

// safeSplit splits url, assuming http:// when no scheme separator is present.
// Malformed bracketed hosts are retried without brackets, then replaced by a
// sentinel.
func safeSplit(url string) urlParts {
	candidate := url
	if !strings.Contains(url, "://") {
		candidate = "http://" + url
	}
	if p, err := splitURL(candidate); err == nil {
		return p
	}
	sanitized := strings.NewReplacer("[", "", "]", "").Replace(candidate)
	if p, err := splitURL(sanitized); err == nil {
		return p
	}
	p, _ := splitURL(invalidHost)
	return p
}

// hostOf returns the lower-cased network location without port. Userinfo
// is kept, matching the training pipeline.
func hostOf(p urlParts) string {
	host := p.Netloc
	if host == "" {
		host, _, _ = strings.Cut(p.Path, "/")
	}
	host, _, _ = strings.Cut(host, ":")
	return strings.ToLower(strings.TrimFunc(host, isSpace))
}

func subdomainCount(host string, isIP bool) int {
	if host == "" || isIP {
		return 0
	}
	labels := 0
	for _, part := range strings.Split(host, ".") {
		if part != "" {
			labels++
		}
	}
	return max(labels-2, 0)
}

func isIPLiteral(host string) bool {
	_, err := netip.ParseAddr(host)
	return err == nil
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func isASCIIAlnum(r rune) bool {
	return ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')
}

// isSpace also treats the ASCII file/group/record/unit separators as space
func isSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1c && r <= 0x1f)
}
