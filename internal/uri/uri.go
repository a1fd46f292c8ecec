package uri

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// URI is an absolute, normalized URI.
type URI struct {
	Scheme   string
	Host     string
	Port     string
	Path     string
	RawQuery string
	Fragment string
	Opaque   string
	User     *url.Userinfo
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
	"ftp":   "21",
}

var idnaProfile = idna.New(idna.MapForLookup(), idna.StrictDomainName(false))

// Parse parses raw and returns its normalized form. Only absolute URIs are
// accepted.
func Parse(raw string) (URI, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return URI{}, fmt.Errorf("empty uri")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return URI{}, fmt.Errorf("url.Parse: %w", err)
	}
	if u.Scheme == "" {
		return URI{}, fmt.Errorf("uri %q is not absolute", raw)
	}
	return FromURL(u)
}

// MustParse is like Parse but panics on error. Intended for tests and
// constants.
func MustParse(raw string) URI {
	u, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// FromURL normalizes an already parsed URL.
func FromURL(u *url.URL) (URI, error) {
	n := URI{
		Scheme:   strings.ToLower(u.Scheme),
		RawQuery: u.RawQuery,
		Fragment: u.Fragment,
		Opaque:   u.Opaque,
		User:     u.User,
	}
	if n.Opaque != "" {
		// mailto:, tel:, data: and friends have no authority.
		return n, nil
	}

	host := strings.TrimSuffix(u.Hostname(), ".")
	switch {
	case host == "" || net.ParseIP(host) != nil || isASCII(host):
		n.Host = strings.ToLower(host)
	default:
		ascii, err := idnaProfile.ToASCII(host)
		if err != nil {
			return URI{}, fmt.Errorf("invalid host %q: %w", host, err)
		}
		n.Host = strings.ToLower(ascii)
	}
	n.Port = u.Port()
	if p, ok := defaultPorts[n.Scheme]; ok && p == n.Port {
		n.Port = ""
	}

	n.Path = u.EscapedPath()
	if strings.HasPrefix(n.Path, "/") {
		n.Path = removeDotSegments(n.Path)
	}
	if n.Path == "" && n.IsHTTP() {
		n.Path = "/"
	}
	return n, nil
}

// removeDotSegments resolves "." and ".." in an escaped absolute path. It
// works on the escaped form so that encoded slashes stay inside their
// segment.
func removeDotSegments(p string) string {
	segs := strings.Split(p, "/")[1:]
	out := make([]string, 0, len(segs))
	for i, seg := range segs {
		switch seg {
		case ".", "..":
			if seg == ".." && len(out) > 0 {
				out = out[:len(out)-1]
			}
			if i == len(segs)-1 {
				out = append(out, "")
			}
		default:
			out = append(out, seg)
		}
	}
	return "/" + strings.Join(out, "/")
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// IsHTTP reports whether the URI uses http or https.
func (u URI) IsHTTP() bool {
	return u.Scheme == "http" || u.Scheme == "https"
}

// IsFile reports whether the URI points to the local filesystem.
func (u URI) IsFile() bool {
	return u.Scheme == "file"
}

// Hostport returns host[:port] with IPv6 literals bracketed.
func (u URI) Hostport() string {
	if u.Port == "" {
		if strings.Contains(u.Host, ":") {
			return "[" + u.Host + "]"
		}
		return u.Host
	}
	return net.JoinHostPort(u.Host, u.Port)
}

// URL converts the URI back to a *url.URL, fragment included.
func (u URI) URL() *url.URL {
	out := &url.URL{
		Scheme:   u.Scheme,
		Opaque:   u.Opaque,
		User:     u.User,
		Host:     u.Hostport(),
		RawQuery: u.RawQuery,
		Fragment: u.Fragment,
	}
	if u.Opaque == "" {
		if p, err := url.PathUnescape(u.Path); err == nil {
			out.Path = p
			out.RawPath = u.Path
		} else {
			out.Path = u.Path
		}
	}
	return out
}

// String returns the normalized URI including the fragment.
func (u URI) String() string {
	return u.URL().String()
}

// WithoutFragment returns a copy of u with the fragment removed.
func (u URI) WithoutFragment() URI {
	u.Fragment = ""
	return u
}

// Key returns the cache and dedup key of u: the normalized URI without
// fragment, with a trailing slash dropped from any non-root path.
func (u URI) Key() string {
	k := u.WithoutFragment()
	if len(k.Path) > 1 {
		k.Path = strings.TrimRight(k.Path, "/")
		if k.Path == "" {
			k.Path = "/"
		}
	}
	return k.String()
}

// KeyWithFragment is Key plus the fragment, used when fragments are verified
// and two requests for the same document may legitimately differ.
func (u URI) KeyWithFragment() string {
	if u.Fragment == "" {
		return u.Key()
	}
	return u.Key() + "#" + u.Fragment
}

// Equal compares two URIs by key.
func (u URI) Equal(o URI) bool {
	return u.Key() == o.Key()
}

// IP returns the host as an IP address, or nil when the host is a name.
func (u URI) IP() net.IP {
	return net.ParseIP(u.Host)
}

func (u URI) LogValue() slog.Value {
	return slog.StringValue(u.String())
}
