package urlscan

import (
	"errors"
	"net/netip"
	"strings"
)

// errBracketedHost is returned when brackets in the network location are
// unbalanced or wrap something that is not an IPv6 literal
var errBracketedHost = errors.New("invalid bracketed host")

// urlParts is a lenient six-way split of a URL string.
//
// net/url is deliberately not used here: it rejects many inputs found in
// phishing datasets (spaces, raw unicode, stray percent signs), while the
// feature contract requires a total, reproducible split of any string.
type urlParts struct {
	Scheme   string
	Netloc   string
	Path     string
	Params   string
	Query    string
	Fragment string
}

const schemeChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789+-."

// schemes whose last path segment may carry ";params"
var paramSchemes = map[string]bool{
	"": true, "ftp": true, "hdl": true, "prospero": true, "http": true, "imap": true,
	"https": true, "shttp": true, "rtsp": true, "rtsps": true, "rtspu": true, "sip": true,
	"sips": true, "mms": true, "sftp": true, "tel": true,
}

// schemes that are rendered with a "//" authority even when it's empty
var netlocSchemes = map[string]bool{
	"ftp": true, "http": true, "gopher": true, "nntp": true, "telnet": true, "imap": true,
	"wais": true, "file": true, "mms": true, "https": true, "shttp": true, "snews": true,
	"prospero": true, "rtsp": true, "rtsps": true, "rtspu": true, "rsync": true, "svn": true,
	"svn+ssh": true, "sftp": true, "nfs": true, "git": true, "git+ssh": true, "ws": true,
	"wss": true, "itms-services": true,
}

// splitURL splits raw into its components. The only failure mode is a
// malformed bracketed host.
func splitURL(raw string) (urlParts, error) {
	var p urlParts

	raw = strings.TrimLeftFunc(raw, func(r rune) bool { return r <= ' ' })
	raw = strings.NewReplacer("\t", "", "\r", "", "\n", "").Replace(raw)

	if i := strings.IndexByte(raw, ':'); i > 0 && isASCIILetter(raw[0]) {
		valid := true
		for j := 0; j < i; j++ {
			if strings.IndexByte(schemeChars, raw[j]) < 0 {
				valid = false
				break
			}
		}
		if valid {
			p.Scheme = strings.ToLower(raw[:i])
			raw = raw[i+1:]
		}
	}

	if strings.HasPrefix(raw, "//") {
		end := len(raw)
		for _, c := range "/?#" {
			if i := strings.IndexRune(raw[2:], c); i >= 0 && i+2 < end {
				end = i + 2
			}
		}
		p.Netloc, raw = raw[2:end], raw[end:]

		open, closed := strings.Contains(p.Netloc, "["), strings.Contains(p.Netloc, "]")
		if open != closed {
			return urlParts{}, errBracketedHost
		}
		if open && closed {
			if err := checkBracketedNetloc(p.Netloc); err != nil {
				return urlParts{}, err
			}
		}
	}

	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw, p.Fragment = raw[:i], raw[i+1:]
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw, p.Query = raw[:i], raw[i+1:]
	}
	p.Path = raw

	if paramSchemes[p.Scheme] && strings.Contains(p.Path, ";") {
		p.Path, p.Params = splitParams(p.Path)
	}
	return p, nil
}

// splitParams detaches ";params" from the last path segment
func splitParams(path string) (string, string) {
	start := 0
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		start = i
	}
	i := strings.IndexByte(path[start:], ';')
	if i < 0 {
		return path, ""
	}
	i += start
	return path[:i], path[i+1:]
}

func checkBracketedNetloc(netloc string) error {
	hostPort := netloc
	if i := strings.LastIndexByte(netloc, '@'); i >= 0 {
		hostPort = netloc[i+1:]
	}
	before, bracketed, _ := strings.Cut(hostPort, "[")
	if before != "" {
		return errBracketedHost
	}
	host, port, _ := strings.Cut(bracketed, "]")
	if port != "" && !strings.HasPrefix(port, ":") {
		return errBracketedHost
	}
	if strings.HasPrefix(host, "v") {
		// IPvFuture literal: "v" 1*HEXDIG "." 1*(unreserved / sub-delims / ":")
		return nil
	}
	addr, err := netip.ParseAddr(host)
	if err != nil || !addr.Is6() {
		return errBracketedHost
	}
	return nil
}

// String reassembles the parts
func (p urlParts) String() string {
	u := p.Path
	if p.Params != "" {
		u += ";" + p.Params
	}
	switch {
	case p.Netloc != "":
		if u != "" && !strings.HasPrefix(u, "/") {
			u = "/" + u
		}
		u = "//" + p.Netloc + u
	case strings.HasPrefix(u, "//"):
		u = "//" + u
	case p.Scheme != "" && netlocSchemes[p.Scheme] && (u == "" || strings.HasPrefix(u, "/")):
		u = "//" + u
	}
	if p.Scheme != "" {
		u = p.Scheme + ":" + u
	}
	if p.Query != "" {
		u += "?" + p.Query
	}
	if p.Fragment != "" {
		u += "#" + p.Fragment
	}
	return u
}

func isASCIILetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
