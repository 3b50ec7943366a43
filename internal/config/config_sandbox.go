package config

import "time"

// SandboxConfig configures the Chat Server's connection to the Code
// Interpreter Service (cmd/sandboxd), and the pool-side tunables that
// service itself reads when self-hosted alongside the Chat Server.
type SandboxConfig struct {
	// URLs lists the sandbox service replicas this process can route to.
	// A single entry is the common case; more than one enables client-side
	// load distribution across horizontally scaled sandboxd instances.
	URLs []string `yaml:"urls"`

	// ReplicaCount is the number of sandboxd replicas expected to be
	// reachable, used to size the consistent-hash ring in
	// internal/tools/sandbox/firecracker.RoutingClient.
	ReplicaCount int `yaml:"replica_count"`

	// BearerToken authenticates requests to the sandbox service's HTTP API.
	BearerToken string `yaml:"bearer_token"`

	// PoolSize is the number of warm VMs the sandbox service keeps ready.
	PoolSize int `yaml:"pool_size"`

	// MaxSessions caps concurrent session-to-VM bindings per replica.
	MaxSessions int `yaml:"max_sessions"`

	// DefaultTimeout applies to an execute call when the request omits one.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// MaxTimeout is the upper bound a caller may request per execution.
	MaxTimeout time.Duration `yaml:"max_timeout"`

	// MaxCodeSize bounds the size in bytes of code accepted by /v1/execute.
	MaxCodeSize int `yaml:"max_code_size"`

	// VsockPort is the guest-agent's listening port inside every microVM.
	VsockPort uint32 `yaml:"vsock_port"`

	// IdleTimeout is how long an unused session-VM binding is kept before
	// the pool reclaims the VM.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// DefaultSandboxConfig returns the pool's operating defaults.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		ReplicaCount:   1,
		PoolSize:       4,
		MaxSessions:    64,
		DefaultTimeout: 30 * time.Second,
		MaxTimeout:     5 * time.Minute,
		MaxCodeSize:    1 << 20,
		VsockPort:      52,
		IdleTimeout:    30 * time.Minute,
	}
}
