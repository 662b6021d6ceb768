package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/loykin/nodekeeper/pkg/client"
	"github.com/spf13/cobra"
)

func apiClient(global *GlobalFlags) *client.Client {
	return client.New(client.Config{BaseURL: global.APIUrl, Timeout: global.APITimeout})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func createStatusCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show supervised node status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sts, err := apiClient(global).Status(cmd.Context(), global.Name)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tROLE\tPID\tRUNNING\tAVAILABLE\tUPTIME\tEXIT")
			for _, st := range sts {
				uptime, exit := "-", "-"
				if st.Running && !st.StartedAt.IsZero() {
					uptime = time.Since(st.StartedAt).Truncate(time.Second).String()
				}
				if st.ExitCode != nil {
					exit = fmt.Sprint(*st.ExitCode)
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%t\t%s\t%s\n", st.Name, st.Role, st.PID, st.Running, st.Available, uptime, exit)
			}
			return tw.Flush()
		},
	}
}

func createStartCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start [-- node args...]",
		Short: "Start a stopped node through the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			var nodeArgs []string
			if cmd.ArgsLenAtDash() >= 0 {
				nodeArgs = args[cmd.ArgsLenAtDash():]
			}
			st, err := apiClient(global).Start(cmd.Context(), global.Name, nodeArgs)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s started (pid %d)\n", st.Name, st.PID)
			return nil
		},
	}
}

func createConsoleCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "console <command...>",
		Short: "Write a line to the node's console",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return apiClient(global).Console(cmd.Context(), global.Name, strings.Join(args, " "))
		},
	}
}

func createCallCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Make a JSON-RPC call through the availability gate",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params json.RawMessage
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("params must be valid JSON")
				}
				params = json.RawMessage(args[1])
			}
			resp, err := apiClient(global).Call(cmd.Context(), global.Name, args[0], params)
			if err != nil && !errors.Is(err, client.ErrUnavailable) {
				return err
			}
			if perr := printJSON(cmd.OutOrStdout(), resp); perr != nil {
				return perr
			}
			return err
		},
	}
}

func createSendCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "send <command>",
		Short: "Post a raw RPC command and discard the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return apiClient(global).Send(cmd.Context(), global.Name, args[0])
		},
	}
}

func createKillCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "kill",
		Short: "Force-terminate the node without waiting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return apiClient(global).Kill(cmd.Context(), global.Name)
		},
	}
}

func createLogsCommand(global *GlobalFlags) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print recent console lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			lines, err := apiClient(global).Logs(cmd.Context(), global.Name, n)
			if err != nil {
				return err
			}
			for _, l := range lines {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s\n", l.Time.Format(time.RFC3339), l.Stream, l.Line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 100, "number of lines")
	return cmd
}

func createHistoryCommand(global *GlobalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print stored lifecycle events, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			events, err := apiClient(global).History(cmd.Context(), global.Name, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum events")
	return cmd
}
