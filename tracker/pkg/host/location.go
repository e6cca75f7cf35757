package host

import (
	"fmt"
	"net/url"
	"strings"
)

// Location is a parsed page URL.
type Location struct {
	Href     string
	Protocol string
	Host     string
	Hostname string
	Port     string
	Pathname string
	Search   string
	Hash     string
}

// ParseLocation parses an absolute href.
func ParseLocation(href string) (Location, error) {
	u, err := url.Parse(href)
	if err != nil {
		return Location{}, fmt.Errorf("invalid location %q: %w", href, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return Location{}, fmt.Errorf("location %q is not absolute", href)
	}
	return fromURL(u), nil
}

func fromURL(u *url.URL) Location {
	loc := Location{
		Href:     u.String(),
		Protocol: u.Scheme + ":",
		Host:     u.Host,
		Hostname: u.Hostname(),
		Port:     u.Port(),
		Pathname: u.EscapedPath(),
	}
	if loc.Pathname == "" {
		loc.Pathname = "/"
	}
	if u.RawQuery != "" {
		loc.Search = "?" + u.RawQuery
	}
	if u.Fragment != "" {
		loc.Hash = "#" + u.EscapedFragment()
	}
	return loc
}

// Origin returns scheme://host.
func (l Location) Origin() string {
	if l.Protocol == "" || l.Host == "" {
		return ""
	}
	return strings.TrimSuffix(l.Protocol, ":") + "://" + l.Host
}

// URL returns the parsed form of Href.
func (l Location) URL() (*url.URL, error) {
	return url.Parse(l.Href)
}

// Resolve resolves ref against the location, like an anchor's href
// property does.
func (l Location) Resolve(ref string) (Location, error) {
	base, err := l.URL()
	if err != nil {
		return Location{}, err
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return Location{}, fmt.Errorf("invalid href %q: %w", ref, err)
	}
	return fromURL(base.ResolveReference(r)), nil
}

// WithHash returns the location with its fragment replaced.
func (l Location) WithHash(hash string) Location {
	hash = strings.TrimPrefix(hash, "#")
	u, err := l.URL()
	if err != nil {
		return l
	}
	u.Fragment = hash
	u.RawFragment = ""
	return fromURL(u)
}
