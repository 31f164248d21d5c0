package bolt

import (
	"crypto/tls"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/graphshed/gobolt/errors"
)

// DefaultPort is the standard Bolt port.
const DefaultPort = 7687

// Default tunables applied by ParseProfile when no override is given.
const (
	DefaultMaxPoolSize     = 100
	DefaultConnectTimeout  = 5 * time.Second
	DefaultSocketTimeout   = 10 * time.Second
	DefaultAcquireTimeout  = 60 * time.Second
	DefaultEntityCacheSize = 1024
)

// Address is a resolved (host, port) pair.
type Address struct {
	Host string
	Port int
}

// NewAddress builds an Address from a host and port.
func NewAddress(host string, port int) Address {
	return Address{Host: host, Port: port}
}

// ParseAddress parses a "host:port" string, defaulting the port to the
// standard Bolt port when absent. IPv6 literals must be bracketed.
func ParseAddress(s string) (Address, error) {
	if !strings.Contains(s, ":") || strings.HasSuffix(s, "]") {
		return Address{Host: strings.Trim(s, "[]"), Port: DefaultPort}, nil
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, errors.Wrap(err, errors.ServiceUnavailable, "invalid address %q", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Address{}, errors.New(errors.ServiceUnavailable, "invalid port in address %q", s)
	}
	return Address{Host: host, Port: port}, nil
}

// String formats the address as host:port, bracketing IPv6 literals.
func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Resolve expands the address host through DNS into one or more concrete
// candidates. A host that is already an IP literal resolves to itself.
func (a Address) Resolve() ([]Address, error) {
	if ip := net.ParseIP(a.Host); ip != nil {
		return []Address{a}, nil
	}
	ips, err := net.LookupHost(a.Host)
	if err != nil {
		return nil, errors.Wrap(err, errors.ServiceUnavailable, "could not resolve address %q", a.Host)
	}
	out := make([]Address, len(ips))
	for i, ip := range ips {
		out[i] = Address{Host: ip, Port: a.Port}
	}
	return out, nil
}

// Profile is an immutable connection target descriptor. Equality is
// value-based, so a Profile can serve as a pooling or cache key.
type Profile struct {
	Scheme   string
	Host     string
	Port     int
	User     string
	Password string

	// Secure enables TLS; Verify additionally validates the server
	// certificate chain and host name.
	Secure bool
	Verify bool

	// Routing enables cluster mode: statements are dispatched through
	// the routing table instead of straight to Host:Port.
	Routing bool

	Database string

	MaxPoolSize     int
	ConnectTimeout  time.Duration
	SocketTimeout   time.Duration
	AcquireTimeout  time.Duration
	RoutingTableTTL time.Duration // overrides the server-provided TTL when non-zero
	EntityCacheSize int
	UserAgent       string
}

// Option overrides a Profile field after URI parsing.
type Option func(*Profile)

// WithAuth sets basic-auth credentials.
func WithAuth(user, password string) Option {
	return func(p *Profile) { p.User, p.Password = user, password }
}

// WithDatabase sets the default database name for the profile.
func WithDatabase(database string) Option {
	return func(p *Profile) { p.Database = database }
}

// WithMaxPoolSize bounds the number of connections per address.
func WithMaxPoolSize(n int) Option {
	return func(p *Profile) { p.MaxPoolSize = n }
}

// WithConnectTimeout bounds TCP connect plus TLS handshake.
func WithConnectTimeout(d time.Duration) Option {
	return func(p *Profile) { p.ConnectTimeout = d }
}

// WithSocketTimeout sets the per-operation socket read/write deadline.
func WithSocketTimeout(d time.Duration) Option {
	return func(p *Profile) { p.SocketTimeout = d }
}

// WithAcquireTimeout bounds how long a pool acquire may block.
func WithAcquireTimeout(d time.Duration) Option {
	return func(p *Profile) { p.AcquireTimeout = d }
}

// WithRoutingTableTTL overrides the server-provided routing table TTL.
func WithRoutingTableTTL(d time.Duration) Option {
	return func(p *Profile) { p.RoutingTableTTL = d }
}

// WithUserAgent overrides the user agent sent in HELLO.
func WithUserAgent(ua string) Option {
	return func(p *Profile) { p.UserAgent = ua }
}

// ParseProfile derives a Profile from a URI plus overrides. Recognized
// schemes: bolt, bolt+s, bolt+ssc (direct) and neo4j, neo4j+s, neo4j+ssc
// (routing). The +s variants enable TLS with certificate verification;
// +ssc enables TLS but accepts self-signed certificates.
func ParseProfile(uri string, opts ...Option) (Profile, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Profile{}, errors.Wrap(err, errors.ServiceUnavailable, "could not parse connection URI %q", uri)
	}

	p := Profile{
		Scheme:          strings.ToLower(u.Scheme),
		Host:            u.Hostname(),
		Port:            DefaultPort,
		MaxPoolSize:     DefaultMaxPoolSize,
		ConnectTimeout:  DefaultConnectTimeout,
		SocketTimeout:   DefaultSocketTimeout,
		AcquireTimeout:  DefaultAcquireTimeout,
		EntityCacheSize: DefaultEntityCacheSize,
		UserAgent:       ClientID,
	}

	switch p.Scheme {
	case "bolt":
	case "bolt+s":
		p.Secure, p.Verify = true, true
	case "bolt+ssc":
		p.Secure = true
	case "neo4j":
		p.Routing = true
	case "neo4j+s":
		p.Routing, p.Secure, p.Verify = true, true, true
	case "neo4j+ssc":
		p.Routing, p.Secure = true, true
	default:
		return Profile{}, errors.New(errors.ServiceUnavailable, "unsupported connection URI scheme: %q", u.Scheme)
	}

	if p.Host == "" {
		return Profile{}, errors.New(errors.ServiceUnavailable, "connection URI %q has no host", uri)
	}

	if portStr := u.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Profile{}, errors.New(errors.ServiceUnavailable, "invalid port in connection URI %q", uri)
		}
		p.Port = port
	}

	if u.User != nil {
		p.User = u.User.Username()
		if pwd, ok := u.User.Password(); ok {
			p.Password = pwd
		}
	}

	for _, opt := range opts {
		opt(&p)
	}

	return p, nil
}

// Address returns the profile's initial target address.
func (p Profile) Address() Address {
	return Address{Host: p.Host, Port: p.Port}
}

// tlsConfig builds the TLS client configuration for a given server host.
func (p Profile) tlsConfig(serverName string) *tls.Config {
	return &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: !p.Verify,
		MinVersion:         tls.VersionTLS12,
	}
}
