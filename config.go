package bolt

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/graphshed/gobolt/errors"
)

// duration decodes Go duration strings like "3s" or "2m" from YAML.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrap(err, errors.ClientError, "invalid duration %q", s)
	}
	*d = duration(parsed)
	return nil
}

// profileFile is the YAML shape of an on-disk connection profile. Zero
// fields fall back to the URI scheme's defaults.
type profileFile struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	MaxPoolSize     int      `yaml:"max_pool_size"`
	ConnectTimeout  duration `yaml:"connect_timeout"`
	SocketTimeout   duration `yaml:"socket_timeout"`
	AcquireTimeout  duration `yaml:"acquire_timeout"`
	RoutingTableTTL duration `yaml:"routing_table_ttl"`
	EntityCacheSize int      `yaml:"entity_cache_size"`
	UserAgent       string   `yaml:"user_agent"`
}

// LoadProfile reads a connection profile from a YAML file. Explicit
// opts are applied last and win over the file's values.
func LoadProfile(path string, opts ...Option) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, errors.Wrap(err, errors.ClientError, "could not read profile file %q", path)
	}

	var f profileFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Profile{}, errors.Wrap(err, errors.ClientError, "could not parse profile file %q", path)
	}
	if f.URI == "" {
		return Profile{}, errors.New(errors.ClientError, "profile file %q sets no uri", path)
	}

	fileOpts := []Option{}
	if f.User != "" {
		fileOpts = append(fileOpts, WithAuth(f.User, f.Password))
	}
	if f.Database != "" {
		fileOpts = append(fileOpts, WithDatabase(f.Database))
	}
	if f.MaxPoolSize > 0 {
		fileOpts = append(fileOpts, WithMaxPoolSize(f.MaxPoolSize))
	}
	if f.ConnectTimeout > 0 {
		fileOpts = append(fileOpts, WithConnectTimeout(time.Duration(f.ConnectTimeout)))
	}
	if f.SocketTimeout > 0 {
		fileOpts = append(fileOpts, WithSocketTimeout(time.Duration(f.SocketTimeout)))
	}
	if f.AcquireTimeout > 0 {
		fileOpts = append(fileOpts, WithAcquireTimeout(time.Duration(f.AcquireTimeout)))
	}
	if f.RoutingTableTTL > 0 {
		fileOpts = append(fileOpts, WithRoutingTableTTL(time.Duration(f.RoutingTableTTL)))
	}
	if f.UserAgent != "" {
		fileOpts = append(fileOpts, WithUserAgent(f.UserAgent))
	}
	if f.EntityCacheSize > 0 {
		fileOpts = append(fileOpts, func(p *Profile) { p.EntityCacheSize = f.EntityCacheSize })
	}

	return ParseProfile(f.URI, append(fileOpts, opts...)...)
}
