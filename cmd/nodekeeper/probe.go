package main

import (
	"fmt"
	"time"

	"github.com/loykin/nodekeeper/internal/config"
	"github.com/loykin/nodekeeper/internal/detector"
	"github.com/loykin/nodekeeper/internal/process"
	"github.com/spf13/cobra"
)

// ProbeFlags holds flags for the probe command.
type ProbeFlags struct {
	Role    string
	Host    string
	Port    int
	Timeout time.Duration
}

func createProbeCommand(global *GlobalFlags, flags *ProbeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check once whether a node's RPC endpoint accepts connections",
		Long: `Run the availability probe a single time. Host and port come from the
role's config section unless given as flags. Exits non-zero when down.

Examples:
  nodekeeper probe --role daemon
  nodekeeper probe --port 11898`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			det, err := probeFor(global.ConfigPath, *flags)
			if err != nil {
				return err
			}
			up, err := det.Alive()
			if err != nil {
				return err
			}
			if !up {
				return fmt.Errorf("%s: down", det.Describe())
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: up\n", det.Describe())
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Role, "role", string(process.RoleDaemon), "role whose config section to use")
	cmd.Flags().StringVar(&flags.Host, "host", "", "override rpc host")
	cmd.Flags().IntVar(&flags.Port, "port", 0, "override rpc port")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", detector.DefaultDialTimeout, "connect timeout")
	return cmd
}

func probeFor(cfgPath string, flags ProbeFlags) (detector.Detector, error) {
	role, err := process.ParseRole(flags.Role)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	n, err := cfg.Node(role)
	if err != nil {
		return nil, err
	}
	if n.ProbeCommand != "" && flags.Host == "" && flags.Port == 0 {
		return detector.CommandDetector{Command: n.ProbeCommand, Timeout: flags.Timeout}, nil
	}
	d := detector.TCPDetector{Host: n.RPCHost, Port: n.RPCPort, Timeout: flags.Timeout}
	if flags.Host != "" {
		d.Host = flags.Host
	}
	if flags.Port != 0 {
		d.Port = flags.Port
	}
	return d, nil
}
