package process

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/nodekeeper/internal/detector"
	"github.com/loykin/nodekeeper/internal/logger"
)

// Role selects which node a supervisor manages. It only decides which
// settings populate the Spec; supervisors behave identically for both.
type Role string

const (
	RoleDaemon         Role = "daemon"
	RoleAccountManager Role = "account_manager"
)

// ParseRole accepts the canonical names plus a few spellings used on the CLI.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daemon", "node":
		return RoleDaemon, nil
	case "account_manager", "account-manager", "accountmanager", "wallet":
		return RoleAccountManager, nil
	default:
		return "", fmt.Errorf("unknown role %q (want daemon or account_manager)", s)
	}
}

// KillPolicy decides how Dispose ends a live process.
type KillPolicy string

const (
	// KillPolicyTerminate waits up to StopGrace for a responsive process and
	// kills it afterwards; unresponsive processes are killed at once.
	KillPolicyTerminate KillPolicy = "terminate"
	// KillPolicyWait blocks until the process exits on its own. Never kills.
	KillPolicyWait KillPolicy = "wait"
)

// Defaults applied by Spec.WithDefaults.
const (
	DefaultRPCHost     = "127.0.0.1"
	DefaultPollDueTime = time.Second
	DefaultPollPeriod  = time.Second
	DefaultStopGrace   = 10 * time.Second
)

// Spec describes the node to supervise. A Supervisor copies it at
// construction and never mutates it.
type Spec struct {
	Name        string        `json:"name" mapstructure:"name"`
	Role        Role          `json:"role" mapstructure:"role"`
	Executable  string        `json:"executable" mapstructure:"executable"`
	Args        []string      `json:"args" mapstructure:"args"` // default launch arguments
	WorkDir     string        `json:"work_dir" mapstructure:"work_dir"`
	Env         []string      `json:"env" mapstructure:"env"` // extra KEY=VALUE entries on top of the OS env
	RPCHost     string        `json:"rpc_host" mapstructure:"rpc_host"`
	RPCPort     int           `json:"rpc_port" mapstructure:"rpc_port"`
	PollDueTime time.Duration `json:"poll_due_time" mapstructure:"poll_due_time"`
	PollPeriod  time.Duration `json:"poll_period" mapstructure:"poll_period"`
	KillPolicy  KillPolicy    `json:"kill_policy" mapstructure:"kill_policy"`
	StopGrace   time.Duration `json:"stop_grace" mapstructure:"stop_grace"`
	StopCommand string        `json:"stop_command" mapstructure:"stop_command"` // console line sent before the grace wait
	PIDFile     string        `json:"pid_file" mapstructure:"pid_file"`
	Log         logger.Config `json:"log" mapstructure:"log"`

	// Probe overrides the default TCP reachability check.
	Probe detector.Detector `json:"-" mapstructure:"-"`
}

// WithDefaults returns a copy with unset fields filled in.
func (s Spec) WithDefaults() Spec {
	if s.Role == "" {
		s.Role = RoleDaemon
	}
	if s.Name == "" {
		s.Name = string(s.Role)
	}
	if s.RPCHost == "" {
		s.RPCHost = DefaultRPCHost
	}
	if s.PollDueTime <= 0 {
		s.PollDueTime = DefaultPollDueTime
	}
	if s.PollPeriod <= 0 {
		s.PollPeriod = DefaultPollPeriod
	}
	if s.KillPolicy == "" {
		s.KillPolicy = KillPolicyTerminate
	}
	if s.StopGrace <= 0 {
		s.StopGrace = DefaultStopGrace
	}
	s.Args = append([]string(nil), s.Args...)
	s.Env = append([]string(nil), s.Env...)
	return s
}

// Validate reports configuration errors that would make every Start fail.
func (s Spec) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Executable) == "" {
		errs = append(errs, errors.New("executable is required"))
	}
	switch s.Role {
	case "", RoleDaemon, RoleAccountManager:
	default:
		errs = append(errs, fmt.Errorf("invalid role %q", s.Role))
	}
	if s.Probe == nil && (s.RPCPort <= 0 || s.RPCPort > 65535) {
		errs = append(errs, fmt.Errorf("rpc_port %d out of range", s.RPCPort))
	}
	switch s.KillPolicy {
	case "", KillPolicyTerminate, KillPolicyWait:
	default:
		errs = append(errs, fmt.Errorf("invalid kill_policy %q, must be one of: terminate, wait", s.KillPolicy))
	}
	if s.PollDueTime < 0 || s.PollPeriod < 0 || s.StopGrace < 0 {
		errs = append(errs, errors.New("durations cannot be negative"))
	}
	for i, kv := range s.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || strings.TrimSpace(k) == "" {
			errs = append(errs, fmt.Errorf("env[%d] %q is invalid, must be in KEY=VALUE format", i, kv))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("spec %q: %w", s.Name, errors.Join(errs...))
	}
	return nil
}

func (s Spec) probe() detector.Detector {
	if s.Probe != nil {
		return s.Probe
	}
	return detector.TCPDetector{Host: s.RPCHost, Port: s.RPCPort}
}
