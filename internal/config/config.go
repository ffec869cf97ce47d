package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/poolgate/internal/backend"
)

type Config struct {
	Metrics   MetricsConfig    `yaml:"metrics"`
	Listeners []ListenerConfig `yaml:"listeners"`
	Backends  []BackendConfig  `yaml:"backends"`
	Clusters  []ClusterConfig  `yaml:"clusters"`
	Balancers []GroupConfig    `yaml:"balancers"`
	Rings     []RingConfig     `yaml:"rings"`
	Routes    RoutesConfig     `yaml:"routes"`
}

type MetricsConfig struct {
	Address string `yaml:"address"`
}

type ListenerConfig struct {
	Address        string        `yaml:"address"`
	Route          string        `yaml:"route"`
	ReadOnly       bool          `yaml:"read_only"`
	MaxConnections int           `yaml:"max_connections"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// Driver names accepted in BackendConfig.Driver.
const (
	DriverTCP      = "tcp"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Pool kinds accepted in PoolConfig.Kind.
const (
	PoolNone    = "none"
	PoolFixed   = "fixed"
	PoolElastic = "elastic"
)

type BackendConfig struct {
	Name        string        `yaml:"name"`
	Driver      string        `yaml:"driver"`
	DSN         string        `yaml:"dsn"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
	Defaults    SessionConfig `yaml:"defaults"`
}

type PoolConfig struct {
	Kind          string        `yaml:"kind"`
	Size          int           `yaml:"size"`
	InitialSize   int           `yaml:"initial_size"`
	MaxSize       int           `yaml:"max_size"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	BorrowTimeout time.Duration `yaml:"borrow_timeout"`
}

// SessionConfig holds the settings a pool restores on every return.
// AutoCommit defaults to true when omitted.
type SessionConfig struct {
	AutoCommit *bool  `yaml:"auto_commit"`
	Isolation  string `yaml:"isolation"`
	ReadOnly   bool   `yaml:"read_only"`
	Catalog    string `yaml:"catalog"`
}

func (s SessionConfig) Settings() (backend.Settings, error) {
	iso, err := backend.ParseIsolation(s.Isolation)
	if err != nil {
		return backend.Settings{}, err
	}
	out := backend.DefaultSettings
	if s.AutoCommit != nil {
		out.AutoCommit = *s.AutoCommit
	}
	out.Isolation = iso
	out.ReadOnly = s.ReadOnly
	out.Catalog = s.Catalog
	return out, nil
}

type FailoverConfig struct {
	LoopDetection *bool `yaml:"loop_detection"`
	LogSuppressed bool  `yaml:"log_suppressed"`
}

// Enabled reports whether failing over is on; it is unless turned off.
func (f FailoverConfig) Enabled() bool {
	return f.LoopDetection == nil || *f.LoopDetection
}

type ClusterConfig struct {
	Name     string         `yaml:"name"`
	Master   string         `yaml:"master"`
	Slaves   []string       `yaml:"slaves"`
	Failover FailoverConfig `yaml:"failover"`
}

type GroupConfig struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

type RingConfig struct {
	Name     string         `yaml:"name"`
	Members  []string       `yaml:"members"`
	Failover FailoverConfig `yaml:"failover"`
}

type RoutesConfig struct {
	Default string            `yaml:"default"`
	Table   map[string]string `yaml:"table"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a yaml document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	for i := range c.Listeners {
		l := &c.Listeners[i]
		if l.MaxConnections == 0 {
			l.MaxConnections = 100
		}
	}
	for i := range c.Backends {
		b := &c.Backends[i]
		if b.DialTimeout == 0 {
			b.DialTimeout = 5 * time.Second
		}
		if b.Pool.Kind == "" {
			b.Pool.Kind = PoolFixed
		}
		switch b.Pool.Kind {
		case PoolFixed:
			if b.Pool.Size == 0 {
				b.Pool.Size = 10
			}
		case PoolElastic:
			if b.Pool.MaxSize == 0 {
				b.Pool.MaxSize = 10
			}
		}
	}
}

// Validate checks that every name is unique and every reference resolves.
func (c *Config) Validate() error {
	var errs []error
	names := map[string]string{}
	declare := func(kind, name string) {
		if name == "" {
			errs = append(errs, fmt.Errorf("%s without a name", kind))
			return
		}
		if prev, ok := names[name]; ok {
			errs = append(errs, fmt.Errorf("%s %q: name already used by a %s", kind, name, prev))
			return
		}
		names[name] = kind
	}

	backends := map[string]bool{}
	for _, b := range c.Backends {
		declare("backend", b.Name)
		backends[b.Name] = true
		if err := b.validate(); err != nil {
			errs = append(errs, fmt.Errorf("backend %q: %w", b.Name, err))
		}
	}
	member := func(owner, name string) {
		if !backends[name] {
			errs = append(errs, fmt.Errorf("%s: unknown backend %q", owner, name))
		}
	}
	for _, cl := range c.Clusters {
		declare("cluster", cl.Name)
		owner := fmt.Sprintf("cluster %q", cl.Name)
		member(owner, cl.Master)
		for _, s := range cl.Slaves {
			member(owner, s)
		}
	}
	for _, g := range c.Balancers {
		declare("balancer", g.Name)
		owner := fmt.Sprintf("balancer %q", g.Name)
		if len(g.Members) == 0 {
			errs = append(errs, fmt.Errorf("%s: no members", owner))
		}
		for _, m := range g.Members {
			member(owner, m)
		}
	}
	for _, r := range c.Rings {
		declare("ring", r.Name)
		owner := fmt.Sprintf("ring %q", r.Name)
		if len(r.Members) < 2 {
			errs = append(errs, fmt.Errorf("%s: needs at least 2 members", owner))
		}
		for _, m := range r.Members {
			member(owner, m)
		}
	}

	for key, target := range c.Routes.Table {
		if _, ok := names[target]; !ok {
			errs = append(errs, fmt.Errorf("route %q: unknown target %q", key, target))
		}
	}
	if c.Routes.Default != "" {
		if _, ok := names[c.Routes.Default]; !ok {
			errs = append(errs, fmt.Errorf("default route: unknown target %q", c.Routes.Default))
		}
	}

	for _, l := range c.Listeners {
		if l.Address == "" {
			errs = append(errs, errors.New("listener without an address"))
		}
		if _, ok := c.Routes.Table[l.Route]; !ok && c.Routes.Default == "" {
			errs = append(errs, fmt.Errorf("listener %s: route %q not in the table and no default route", l.Address, l.Route))
		}
		if l.MaxConnections < 0 {
			errs = append(errs, fmt.Errorf("listener %s: negative max_connections", l.Address))
		}
	}

	return errors.Join(errs...)
}

func (b BackendConfig) validate() error {
	switch b.Driver {
	case DriverTCP, DriverMySQL, DriverPostgres, DriverRedis:
	default:
		return fmt.Errorf("unknown driver %q", b.Driver)
	}
	if b.DSN == "" {
		return errors.New("dsn is required")
	}
	if _, err := b.Defaults.Settings(); err != nil {
		return err
	}
	p := b.Pool
	switch p.Kind {
	case PoolNone:
	case PoolFixed:
		if p.Size <= 0 {
			return fmt.Errorf("fixed pool size must be positive, got %d", p.Size)
		}
	case PoolElastic:
		if p.MaxSize <= 0 {
			return fmt.Errorf("elastic pool max_size must be positive, got %d", p.MaxSize)
		}
		if p.InitialSize < 0 || p.InitialSize > p.MaxSize {
			return fmt.Errorf("elastic pool initial_size %d outside [0, %d]", p.InitialSize, p.MaxSize)
		}
	default:
		return fmt.Errorf("unknown pool kind %q", p.Kind)
	}
	return nil
}
