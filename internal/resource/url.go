// Package resource parses and holds the absolute URL of the thing being
// downloaded. It does no network work; it only validates the shape of
// the URL and derives the output filename the way a browser would.
package resource

import (
	"fmt"
	"strings"

	"github.com/nilfheim/boltget/internal/dlerr"
)

// URL is immutable after Parse. Components are substrings of the
// original input; nothing is looked up or normalized beyond lowercasing
// the scheme.
type URL struct {
	raw      string
	Scheme   string
	Userinfo string
	Host     string // bracketed if IPv6, port excluded
	Port     string
	Path     string
	Query    string
	Fragment string
}

// Parse validates and decomposes an absolute URL of the form
// scheme://[userinfo@]host[:port][/path][?query][#fragment].
func Parse(raw string) (*URL, error) {
	rest := raw
	idx := strings.Index(rest, "://")
	if idx <= 0 {
		return nil, dlerr.New(dlerr.KindInvalidURL, "resource/url", fmt.Errorf("missing scheme delimiter in %q", raw))
	}
	scheme := strings.ToLower(rest[:idx])
	rest = rest[idx+3:]

	// split off fragment, then query, then path from the authority+path blob
	var fragment, query string
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		fragment = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		query = rest[i+1:]
		rest = rest[:i]
	}

	authority := rest
	path := "/"
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		authority = rest[:i]
		path = rest[i:]
	}

	userinfo := ""
	if i := strings.IndexByte(authority, '@'); i >= 0 {
		userinfo = authority[:i]
		authority = authority[i+1:]
	}

	host, port, err := splitHostPort(authority)
	if err != nil {
		return nil, dlerr.New(dlerr.KindInvalidURL, "resource/url", err)
	}
	if host == "" {
		return nil, dlerr.New(dlerr.KindInvalidURL, "resource/url", fmt.Errorf("empty host in %q", raw))
	}

	return &URL{
		raw:      raw,
		Scheme:   scheme,
		Userinfo: userinfo,
		Host:     host,
		Port:     port,
		Path:     path,
		Query:    query,
		Fragment: fragment,
	}, nil
}

// splitHostPort handles bracketed IPv6 hosts ("[::1]:8080") in addition
// to plain "host:port" authorities.
func splitHostPort(authority string) (host, port string, err error) {
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", fmt.Errorf("unterminated IPv6 literal in %q", authority)
		}
		host = authority[:end+1]
		remainder := authority[end+1:]
		if strings.HasPrefix(remainder, ":") {
			port = remainder[1:]
		}
		return host, port, nil
	}
	if i := strings.LastIndexByte(authority, ':'); i >= 0 {
		return authority[:i], authority[i+1:], nil
	}
	return authority, "", nil
}

// String reconstructs an absolute URL equivalent to the parsed input.
func (u *URL) String() string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	if u.Userinfo != "" {
		b.WriteString(u.Userinfo)
		b.WriteByte('@')
	}
	b.WriteString(u.Host)
	if u.Port != "" {
		b.WriteByte(':')
		b.WriteString(u.Port)
	}
	b.WriteString(u.Path)
	if u.Query != "" {
		b.WriteByte('?')
		b.WriteString(u.Query)
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.Fragment)
	}
	return b.String()
}

// Origin is the connection-cache key: scheme://host[:port].
func (u *URL) Origin() string {
	if u.Port == "" {
		return u.Scheme + "://" + u.Host
	}
	return u.Scheme + "://" + u.Host + ":" + u.Port
}

// Filename returns the last path component, defaulting to index.html
// when the path names a directory or is empty.
func (u *URL) Filename() string {
	path := u.Path
	if path == "" || strings.HasSuffix(path, "/") {
		return "index.html"
	}
	parts := strings.Split(path, "/")
	name := parts[len(parts)-1]
	if name == "" {
		return "index.html"
	}
	return name
}
