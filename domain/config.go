// Package domain implements casual's orchestrator: the process that
// boots, supervises, and shuts down every other process according to a
// declarative configuration, and exposes an event bus for lifecycle
// events. Grounded in shape on the teacher's server.Config/facade
// pattern (server/types.go, server/hioload.go): a config struct with
// sane defaults, a facade that owns every subsystem behind a mutex and
// a started flag, and an explicit Shutdown with a timeout.
package domain

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/casual-go/casual/internal/casualerr"
	"github.com/casual-go/casual/internal/wire"
)

// RestartPolicy controls what the orchestrator does when a spawned
// process exits.
type RestartPolicy struct {
	Restart bool
	Cooldown time.Duration
}

// Resource is a named dependency a group can require, e.g. a
// transaction resource or a buffer pool.
type Resource struct {
	Name string
}

// Group is one node of the boot DAG: a named bucket of resources with
// dependencies on other groups.
type Group struct {
	Name         string   `toml:"name"`
	Resources    []string `toml:"resources"`
	Dependencies []string `toml:"dependencies"`
}

// Server is a process that advertises services.
type Server struct {
	Path               string            `toml:"path"`
	Alias              string            `toml:"alias"`
	Arguments          []string          `toml:"arguments"`
	Instances          int               `toml:"instances"`
	Memberships        []string          `toml:"memberships"`
	Environment        map[string]string `toml:"environment"`
	Restart            bool              `toml:"restart"`
	RestartCooldown    time.Duration     `toml:"restart_cooldown"`
	RestrictedServices []string          `toml:"restricted_services"`
	Resources          []string          `toml:"resources"`
}

// Executable is a Server without a restricted service list.
type Executable struct {
	Path        string            `toml:"path"`
	Alias       string            `toml:"alias"`
	Arguments   []string          `toml:"arguments"`
	Instances   int               `toml:"instances"`
	Memberships []string          `toml:"memberships"`
	Environment map[string]string `toml:"environment"`
	Restart     bool              `toml:"restart"`
}

// ServiceOverride configures routes and a timeout for a named service.
type ServiceOverride struct {
	Name    string        `toml:"name"`
	Routes  []string      `toml:"routes"`
	Timeout time.Duration `toml:"timeout"`
}

// TransactionResourceConfig declares an XA resource available to
// servers.
type TransactionResourceConfig struct {
	Name      string `toml:"name"`
	Key       string `toml:"key"`
	Instances int    `toml:"instances"`
	OpenInfo  string `toml:"open_info"`
	CloseInfo string `toml:"close_info"`
}

// GatewayConnection is one outbound or inbound peer connection.
type GatewayConnection struct {
	Address          string   `toml:"address"`
	Services         []string `toml:"services"`
	Queues           []string `toml:"queues"`
	Reversed         bool     `toml:"reversed"`
	InboundByteLimit int64    `toml:"inbound_byte_limit"`
}

// GatewayConfig declares this domain's gateway groups.
type GatewayConfig struct {
	Inbound  []GatewayConnection `toml:"inbound"`
	Outbound []GatewayConnection `toml:"outbound"`
}

// QueueRetryConfig is the retry policy attached to one queue.
type QueueRetryConfig struct {
	Count int           `toml:"count"`
	Delay time.Duration `toml:"delay"`
}

// QueueConfig declares one queue within a group.
type QueueConfig struct {
	Name       string           `toml:"name"`
	Retry      QueueRetryConfig `toml:"retry"`
	ErrorQueue string           `toml:"error_queue"`
}

// ForwardConfig declares a queue-forward or service-forward.
type ForwardConfig struct {
	Source       string        `toml:"source"`
	TargetQueue  string        `toml:"target_queue"`
	TargetDelay  time.Duration `toml:"target_delay"`
	Service      string        `toml:"service"`
	ReplyQueue   string        `toml:"reply_queue"`
	Instances    int           `toml:"instances"`
}

// QueueGroupConfig declares one queue-group process.
type QueueGroupConfig struct {
	Name       string          `toml:"name"`
	Queuebase  string          `toml:"queuebase"`
	Queues     []QueueConfig   `toml:"queues"`
	Forwards   []ForwardConfig `toml:"forwards"`
}

// Model is the full declarative domain configuration, decoded from a
// single TOML file.
type Model struct {
	DomainName  string                      `toml:"domain_name"`
	Groups      []Group                     `toml:"groups"`
	Servers     []Server                    `toml:"servers"`
	Executables []Executable                `toml:"executables"`
	Services    []ServiceOverride           `toml:"services"`
	Resources   []TransactionResourceConfig `toml:"transaction_resources"`
	Gateway     GatewayConfig               `toml:"gateway"`
	Queue       []QueueGroupConfig          `toml:"queue_groups"`
}

// LoadModel decodes and validates a TOML configuration file.
func LoadModel(path string) (*Model, error) {
	var m Model
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, casualerr.Newf(casualerr.KindInvalidConfiguration, "decode %s: %v", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate rejects duplicate aliases, unknown group references, and
// unresolvable membership dependencies, per spec §4.3.
func (m *Model) Validate() error {
	groupNames := make(map[string]bool, len(m.Groups))
	for _, g := range m.Groups {
		if groupNames[g.Name] {
			return casualerr.Newf(casualerr.KindInvalidConfiguration, "duplicate group %q", g.Name)
		}
		groupNames[g.Name] = true
	}
	for _, g := range m.Groups {
		for _, dep := range g.Dependencies {
			if !groupNames[dep] {
				return casualerr.Newf(casualerr.KindInvalidConfiguration, "group %q depends on unknown group %q", g.Name, dep)
			}
		}
	}

	aliases := make(map[string]bool)
	checkAlias := func(alias string) error {
		if alias == "" {
			return nil
		}
		if aliases[alias] {
			return casualerr.Newf(casualerr.KindInvalidConfiguration, "duplicate alias %q", alias)
		}
		aliases[alias] = true
		return nil
	}

	for _, s := range m.Servers {
		if err := checkAlias(s.Alias); err != nil {
			return err
		}
		for _, mem := range s.Memberships {
			if !groupNames[mem] {
				return casualerr.Newf(casualerr.KindInvalidConfiguration, "server %q: unknown group membership %q", s.Alias, mem)
			}
		}
	}
	for _, e := range m.Executables {
		if err := checkAlias(e.Alias); err != nil {
			return err
		}
		for _, mem := range e.Memberships {
			if !groupNames[mem] {
				return casualerr.Newf(casualerr.KindInvalidConfiguration, "executable %q: unknown group membership %q", e.Alias, mem)
			}
		}
	}

	for _, qg := range m.Queue {
		if err := checkAlias(qg.Name); err != nil {
			return err
		}
	}

	return nil
}

func (m *Model) String() string {
	return fmt.Sprintf("domain %q: %d groups, %d servers, %d executables", m.DomainName, len(m.Groups), len(m.Servers), len(m.Executables))
}

// MessageType range reserved for domain-internal messages (process
// connect, spawn acknowledgements) — allocated after wire's core block.
const (
	TypeConnectAck wire.Type = 1000 + iota
	TypeProcessSpawn
	TypeProcessExit
)
