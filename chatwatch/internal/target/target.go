// Package target classifies location strings of the remote messenger and
// guards against latching onto the platform's own default conversations.
package target

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Kind is the classification of a location.
type Kind string

const (
	KindChannel       Kind = "channel"        // one specific conversation thread
	KindSearch        Kind = "search"         // conversation list with a query
	KindMessengerRoot Kind = "messenger-root" // bare conversation list
	KindUnrelated     Kind = "unrelated"      // well-formed, outside the messenger
	KindNone          Kind = "none"           // empty or unparseable
)

// DefaultOrigin is the site every relative location is resolved against.
const DefaultOrigin = "https://www.avito.ru"

// MessengerPath is the conversation-list root.
const MessengerPath = "/profile/messenger"

var (
	channelPath = regexp.MustCompile(`^/profile/messenger/channel/[^/]+/?$`)
	rootPath    = regexp.MustCompile(`^/profile/messenger/?$`)
)

// DefaultLoginPatterns mark a location as the login view. Matched as
// case-insensitive substrings of the full location.
var DefaultLoginPatterns = []string{"#login", "/login", "/auth", "authorization"}

// Classification is the result of Classify.
type Classification struct {
	Kind     Kind   `json:"kind"`
	Location string `json:"location"` // absolute form; "" for KindNone
}

// Classifier is a pure, total location classifier bound to one origin.
type Classifier struct {
	origin        *url.URL
	domain        string
	loginPatterns []string
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLoginPatterns replaces the login view patterns.
func WithLoginPatterns(p []string) Option {
	return func(c *Classifier) {
		if len(p) > 0 {
			c.loginPatterns = p
		}
	}
}

// New creates a Classifier for origin (scheme + host). Empty origin means
// DefaultOrigin.
func New(origin string, opts ...Option) (*Classifier, error) {
	if origin == "" {
		origin = DefaultOrigin
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("target: invalid origin %q", origin)
	}
	c := &Classifier{
		origin:        &url.URL{Scheme: u.Scheme, Host: u.Host},
		domain:        registrable(u.Hostname()),
		loginPatterns: DefaultLoginPatterns,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Origin returns the configured origin, e.g. "https://www.avito.ru".
func (c *Classifier) Origin() string { return c.origin.String() }

// MessengerURL returns the absolute conversation-list root.
func (c *Classifier) MessengerURL() string { return c.origin.String() + MessengerPath }

// Normalize turns a relative location into an absolute one against the
// origin. Other inputs are returned trimmed.
func (c *Classifier) Normalize(loc string) string {
	loc = strings.TrimSpace(loc)
	if strings.HasPrefix(loc, "/") && !strings.HasPrefix(loc, "//") {
		return c.origin.String() + loc
	}
	return loc
}

// Classify classifies loc. It never fails; bad input is KindNone.
func (c *Classifier) Classify(loc string) Classification {
	loc = c.Normalize(loc)
	if loc == "" {
		return Classification{Kind: KindNone}
	}
	u, err := url.Parse(loc)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Classification{Kind: KindNone}
	}
	out := Classification{Location: loc}
	if registrable(u.Hostname()) != c.domain {
		out.Kind = KindUnrelated
		return out
	}

	// Channel is the longer, more specific shape and wins over the root.
	switch {
	case channelPath.MatchString(u.Path):
		out.Kind = KindChannel
	case rootPath.MatchString(u.Path):
		if u.Query().Has("q") {
			out.Kind = KindSearch
		} else {
			out.Kind = KindMessengerRoot
		}
	default:
		out.Kind = KindUnrelated
	}
	return out
}

// SameChannel reports whether a and b point at the same conversation,
// ignoring query strings, fragments and a trailing slash.
func (c *Classifier) SameChannel(a, b string) bool {
	ca, cb := c.Classify(a), c.Classify(b)
	if ca.Kind != KindChannel || cb.Kind != KindChannel {
		return false
	}
	return channelKey(ca.Location) == channelKey(cb.Location)
}

// LoginLocation reports whether loc is the site's login view.
func (c *Classifier) LoginLocation(loc string) bool {
	lower := strings.ToLower(loc)
	for _, p := range c.loginPatterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func channelKey(loc string) string {
	u, err := url.Parse(loc)
	if err != nil {
		return loc
	}
	return registrable(u.Hostname()) + strings.TrimSuffix(u.Path, "/")
}

// registrable returns the public suffix + 1 of host, or host itself when
// it has none (localhost, IPs in tests).
func registrable(host string) string {
	host = strings.ToLower(host)
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}
