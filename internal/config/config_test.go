package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/poolgate/internal/backend"
)

const sampleConfig = `
metrics:
  address: ":9090"
listeners:
  - address: ":6432"
    route: orders
    max_connections: 100
    read_timeout: 30s
    write_timeout: 30s
  - address: ":6433"
    route: orders
    read_only: true
backends:
  - name: primary
    driver: postgres
    dsn: "postgres://app@localhost:5433/orders?sslmode=disable"
    pool:
      kind: fixed
      size: 20
      borrow_timeout: 2s
    defaults:
      isolation: read_committed
  - name: replica1
    driver: tcp
    dsn: "localhost:5434"
    pool:
      kind: elastic
      initial_size: 2
      max_size: 10
      idle_timeout: 1m
  - name: replica2
    driver: tcp
    dsn: "localhost:5435"
    pool:
      kind: none
    defaults:
      auto_commit: false
clusters:
  - name: orders
    master: primary
    slaves: [replica1, replica2]
    failover:
      log_suppressed: true
balancers:
  - name: reads
    members: [replica1, replica2]
rings:
  - name: ha
    members: [replica1, replica2]
    failover:
      loop_detection: false
routes:
  table:
    orders: orders
    reads: reads
`

func TestLoad(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "config*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpfile.Name())

	if _, err := tmpfile.Write([]byte(sampleConfig)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Metrics.Address != ":9090" {
		t.Errorf("cfg.Metrics.Address = %v, want %v", cfg.Metrics.Address, ":9090")
	}
	if len(cfg.Listeners) != 2 {
		t.Fatalf("len(cfg.Listeners) = %v, want %v", len(cfg.Listeners), 2)
	}
	if cfg.Listeners[0].ReadTimeout != 30*time.Second {
		t.Errorf("cfg.Listeners[0].ReadTimeout = %v, want %v", cfg.Listeners[0].ReadTimeout, 30*time.Second)
	}
	if cfg.Listeners[1].MaxConnections != 100 {
		t.Errorf("cfg.Listeners[1].MaxConnections = %v, want default %v", cfg.Listeners[1].MaxConnections, 100)
	}
	if !cfg.Listeners[1].ReadOnly {
		t.Error("cfg.Listeners[1].ReadOnly = false, want true")
	}
	if cfg.Backends[0].Pool.Size != 20 {
		t.Errorf("cfg.Backends[0].Pool.Size = %v, want %v", cfg.Backends[0].Pool.Size, 20)
	}
	if cfg.Backends[0].DialTimeout != 5*time.Second {
		t.Errorf("cfg.Backends[0].DialTimeout = %v, want default %v", cfg.Backends[0].DialTimeout, 5*time.Second)
	}
	if cfg.Backends[1].Pool.IdleTimeout != time.Minute {
		t.Errorf("cfg.Backends[1].Pool.IdleTimeout = %v, want %v", cfg.Backends[1].Pool.IdleTimeout, time.Minute)
	}
	if len(cfg.Clusters[0].Slaves) != 2 {
		t.Errorf("len(cfg.Clusters[0].Slaves) = %v, want %v", len(cfg.Clusters[0].Slaves), 2)
	}
	if !cfg.Clusters[0].Failover.Enabled() {
		t.Error("cluster failover disabled, want enabled by default")
	}
	if cfg.Rings[0].Failover.Enabled() {
		t.Error("ring failover enabled, want disabled")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("non_existent_file.yaml")
	if err == nil {
		t.Error("Load() expected error for non-existent file, got nil")
	}
}

func TestSessionConfig_Settings(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	s, err := cfg.Backends[0].Defaults.Settings()
	require.NoError(t, err)
	assert.Equal(t, backend.Settings{AutoCommit: true, Isolation: backend.IsolationReadCommitted}, s)

	s, err = cfg.Backends[2].Defaults.Settings()
	require.NoError(t, err)
	assert.False(t, s.AutoCommit)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
backends:
  - name: a
    driver: tcp
    dsn: "localhost:1"
  - name: b
    driver: redis
    dsn: "redis://localhost:6379/0"
    pool:
      kind: elastic
routes:
  default: a
`))
	require.NoError(t, err)
	assert.Equal(t, PoolFixed, cfg.Backends[0].Pool.Kind)
	assert.Equal(t, 10, cfg.Backends[0].Pool.Size)
	assert.Equal(t, 10, cfg.Backends[1].Pool.MaxSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "unknown driver",
			yaml: `
backends:
  - {name: a, driver: oracle, dsn: x}
`,
			wantErr: `unknown driver "oracle"`,
		},
		{
			name: "missing dsn",
			yaml: `
backends:
  - {name: a, driver: tcp}
`,
			wantErr: "dsn is required",
		},
		{
			name: "duplicate name",
			yaml: `
backends:
  - {name: a, driver: tcp, dsn: x}
balancers:
  - {name: a, members: [a]}
`,
			wantErr: "name already used by a backend",
		},
		{
			name: "unknown cluster member",
			yaml: `
backends:
  - {name: a, driver: tcp, dsn: x}
clusters:
  - {name: c, master: a, slaves: [ghost]}
`,
			wantErr: `unknown backend "ghost"`,
		},
		{
			name: "ring too small",
			yaml: `
backends:
  - {name: a, driver: tcp, dsn: x}
rings:
  - {name: r, members: [a]}
`,
			wantErr: "needs at least 2 members",
		},
		{
			name: "elastic initial above max",
			yaml: `
backends:
  - name: a
    driver: tcp
    dsn: x
    pool: {kind: elastic, initial_size: 5, max_size: 2}
`,
			wantErr: "initial_size 5 outside [0, 2]",
		},
		{
			name: "bad isolation",
			yaml: `
backends:
  - name: a
    driver: tcp
    dsn: x
    defaults: {isolation: snapshot}
`,
			wantErr: `unknown isolation level "snapshot"`,
		},
		{
			name: "route to unknown target",
			yaml: `
routes:
  table: {k: nowhere}
`,
			wantErr: `route "k": unknown target "nowhere"`,
		},
		{
			name: "listener route without default",
			yaml: `
backends:
  - {name: a, driver: tcp, dsn: x}
routes:
  table: {k: a}
listeners:
  - {address: ":1", route: other}
`,
			wantErr: `route "other" not in the table`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
