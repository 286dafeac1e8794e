package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/coord/internal/rpc"
	"github.com/steveyegge/coord/internal/types"
	"github.com/steveyegge/coord/internal/ui"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Register agents and inspect the registry",
}

var agentRegisterCmd = &cobra.Command{
	Use:   "register [agent-id]",
	Short: "Register an agent (an id is generated when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentType, _ := cmd.Flags().GetString("type")
		caps, _ := cmd.Flags().GetStringSlice("capability")
		var id string
		if len(args) == 1 {
			id = args[0]
		}
		return withClient(func(c *rpc.Client) error {
			got, err := c.Register(id, agentType, caps)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(rpc.RegisterResult{AgentID: got})
				return nil
			}
			fmt.Println(got)
			return nil
		})
	},
}

var agentHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat <agent-id>",
	Short: "Refresh an agent's liveness",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *rpc.Client) error {
			if err := c.Heartbeat(args[0]); err != nil {
				return err
			}
			return printOK("%s Heartbeat recorded for %s", ui.RenderPassIcon(), args[0])
		})
	},
}

var agentStatusCmd = &cobra.Command{
	Use:   "set-status <agent-id> <idle|busy> [command-id]",
	Short: "Set an agent's status",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var commandID *uint64
		if len(args) == 3 {
			id, err := parseCommandID(args[2])
			if err != nil {
				return err
			}
			commandID = &id
		}
		status := types.AgentStatus(strings.ToLower(args[1]))
		return withClient(func(c *rpc.Client) error {
			if err := c.UpdateStatus(args[0], status, commandID); err != nil {
				return err
			}
			return printOK("%s %s is now %s", ui.RenderPassIcon(), args[0], ui.RenderAgentStatus(status))
		})
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *rpc.Client) error {
			agents, err := c.ListAgents()
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(agents)
				return nil
			}
			if len(agents) == 0 {
				fmt.Println(ui.RenderMuted("No agents registered"))
				return nil
			}
			now := time.Now()
			for _, a := range agents {
				printAgentLine(a, now)
			}
			return nil
		})
	},
}

var agentShowCmd = &cobra.Command{
	Use:   "show <agent-id>",
	Short: "Show one agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *rpc.Client) error {
			a, err := c.GetAgent(args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(a)
				return nil
			}
			now := time.Now()
			fmt.Printf("%s  %s\n", ui.RenderAccent(a.AgentID), ui.RenderAgentStatus(a.Status))
			fmt.Printf("  type:          %s\n", a.AgentType)
			fmt.Printf("  capabilities:  %s\n", strings.Join(a.Capabilities, ", "))
			fmt.Printf("  registered:    %s ago\n", ui.Age(a.RegisteredAt, now))
			fmt.Printf("  heartbeat:     %s ago\n", ui.Age(a.LastHeartbeat, now))
			if a.CurrentCommandID != nil {
				fmt.Printf("  command:       #%d\n", *a.CurrentCommandID)
			}
			if a.DeadSince != nil {
				fmt.Printf("  dead since:    %s\n", a.DeadSince.Format(time.RFC3339))
			}
			return nil
		})
	},
}

var agentUnregisterCmd = &cobra.Command{
	Use:   "unregister <agent-id>",
	Short: "Remove an agent, releasing its locks and requeueing its command",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *rpc.Client) error {
			if err := c.Unregister(args[0]); err != nil {
				return err
			}
			return printOK("%s Unregistered %s", ui.RenderPassIcon(), args[0])
		})
	},
}

func printAgentLine(a *types.AgentSession, now time.Time) {
	cmdCol := "-"
	if a.CurrentCommandID != nil {
		cmdCol = "#" + strconv.FormatUint(*a.CurrentCommandID, 10)
	}
	fmt.Printf("%-24s %-12s %-8s %6s  %s\n",
		ui.Truncate(a.AgentID, 24), ui.Truncate(a.AgentType, 12), cmdCol,
		ui.Age(a.LastHeartbeat, now), ui.RenderAgentStatus(a.Status))
}

// printOK prints a confirmation line, or {"ok": true} with --json.
func printOK(format string, args ...any) error {
	if jsonOutput {
		outputJSON(rpc.OKResult{OK: true})
		return nil
	}
	if quietFlag {
		return nil
	}
	fmt.Printf(format+"\n", args...)
	return nil
}

func parseCommandID(s string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid command id %q", s)
	}
	return id, nil
}

func init() {
	agentRegisterCmd.Flags().StringP("type", "t", "", "Agent type (required)")
	_ = agentRegisterCmd.MarkFlagRequired("type")
	agentRegisterCmd.Flags().StringSliceP("capability", "c", nil, "Capability (repeatable or comma-separated)")

	agentCmd.AddCommand(agentRegisterCmd, agentHeartbeatCmd, agentStatusCmd,
		agentListCmd, agentShowCmd, agentUnregisterCmd)
	rootCmd.AddCommand(agentCmd)
}
