package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/coord/internal/rpc"
	"github.com/steveyegge/coord/internal/timeparsing"
	"github.com/steveyegge/coord/internal/types"
	"github.com/steveyegge/coord/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Add, claim and finish queued commands",
}

var queueAddCmd = &cobra.Command{
	Use:   "add <payload>",
	Short: "Queue a command",
	Long: `Queue a command. The payload is stored as given when it is valid JSON,
otherwise as a JSON string. Higher priorities are dequeued first; equal
priorities are served in arrival order.

Examples:
  coord queue add '{"task":"build","target":"api"}' --priority 5
  coord queue add "run tests"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		priority, _ := cmd.Flags().GetInt("priority")
		return withClient(func(c *rpc.Client) error {
			id, err := c.AddCommand(parsePayload(args[0]), priority)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(rpc.QueueAddResult{CommandID: id})
				return nil
			}
			fmt.Println(id)
			return nil
		})
	},
}

var queueDequeueCmd = &cobra.Command{
	Use:   "dequeue <agent-id>",
	Short: "Claim the highest-priority pending command for an idle agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *rpc.Client) error {
			command, err := c.Dequeue(args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(command)
				return nil
			}
			if command == nil {
				fmt.Println(ui.RenderMuted("Queue is empty"))
				return nil
			}
			printCommand(command)
			return nil
		})
	},
}

var queueStartCmd = &cobra.Command{
	Use:   "start <command-id> <agent-id>",
	Short: "Mark an assigned command as running",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseCommandID(args[0])
		if err != nil {
			return err
		}
		return withClient(func(c *rpc.Client) error {
			if err := c.StartCommand(id, args[1]); err != nil {
				return err
			}
			return printOK("%s Command #%d running", ui.RenderPassIcon(), id)
		})
	},
}

var queueCompleteCmd = &cobra.Command{
	Use:   "complete <command-id> <agent-id> [result]",
	Short: "Finish a command successfully",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseCommandID(args[0])
		if err != nil {
			return err
		}
		var result string
		if len(args) == 3 {
			result = args[2]
		}
		return withClient(func(c *rpc.Client) error {
			if err := c.CompleteCommand(id, args[1], parsePayload(result)); err != nil {
				return err
			}
			return printOK("%s Command #%d completed", ui.RenderPassIcon(), id)
		})
	},
}

var queueFailCmd = &cobra.Command{
	Use:   "fail <command-id> <agent-id> <message>",
	Short: "Finish a command with an error",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseCommandID(args[0])
		if err != nil {
			return err
		}
		msg := strings.Join(args[2:], " ")
		return withClient(func(c *rpc.Client) error {
			if err := c.FailCommand(id, args[1], msg); err != nil {
				return err
			}
			return printOK("%s Command #%d failed: %s", ui.RenderFailIcon(), id, msg)
		})
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List commands, optionally filtered by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		since, _ := cmd.Flags().GetString("since")
		var cutoff time.Time
		if since != "" {
			var err error
			if cutoff, err = timeparsing.ParseSince(since, time.Now()); err != nil {
				return fmt.Errorf("--since: %w", err)
			}
		}
		return withClient(func(c *rpc.Client) error {
			commands, err := c.ListCommands(types.CommandStatus(status))
			if err != nil {
				return err
			}
			if !cutoff.IsZero() {
				commands = updatedSince(commands, cutoff)
			}
			if jsonOutput {
				outputJSON(commands)
				return nil
			}
			if len(commands) == 0 {
				fmt.Println(ui.RenderMuted("No commands"))
				return nil
			}
			now := time.Now()
			for _, command := range commands {
				owner := command.AssignedTo
				if owner == "" {
					owner = "-"
				}
				fmt.Printf("#%-6d p%-4d %-20s %6s  %-40s %s\n",
					command.CommandID, command.Priority, ui.Truncate(owner, 20),
					ui.Age(command.CreatedAt, now),
					ui.Truncate(string(command.Payload), 40),
					ui.RenderCommandStatus(command.Status))
			}
			return nil
		})
	},
}

var queueShowCmd = &cobra.Command{
	Use:   "show <command-id>",
	Short: "Show one command",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseCommandID(args[0])
		if err != nil {
			return err
		}
		return withClient(func(c *rpc.Client) error {
			command, err := c.GetCommand(id)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(command)
				return nil
			}
			printCommand(command)
			return nil
		})
	},
}

func updatedSince(commands []*types.Command, cutoff time.Time) []*types.Command {
	out := commands[:0]
	for _, c := range commands {
		if !c.UpdatedAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out
}

func printCommand(c *types.Command) {
	fmt.Printf("%s  %s\n", ui.RenderAccent(fmt.Sprintf("#%d", c.CommandID)), ui.RenderCommandStatus(c.Status))
	fmt.Printf("  priority:   %d\n", c.Priority)
	fmt.Printf("  payload:    %s\n", c.Payload)
	if c.AssignedTo != "" {
		fmt.Printf("  assigned:   %s\n", c.AssignedTo)
	}
	if c.RequeueCount > 0 {
		fmt.Printf("  requeued:   %d\n", c.RequeueCount)
	}
	if len(c.Result) > 0 {
		fmt.Printf("  result:     %s\n", c.Result)
	}
	if c.Error != "" {
		fmt.Printf("  error:      %s\n", ui.RenderFail(c.Error))
	}
	fmt.Printf("  created:    %s\n", c.CreatedAt.Format(time.RFC3339))
}

func init() {
	queueAddCmd.Flags().IntP("priority", "p", 0, "Priority (higher runs first)")
	queueListCmd.Flags().StringP("status", "s", "", "Filter by status (pending, assigned, running, completed, failed)")
	queueListCmd.Flags().String("since", "", "Only commands updated since then: 2h, 1d, yesterday, 2025-01-31")

	queueCmd.AddCommand(queueAddCmd, queueDequeueCmd, queueStartCmd,
		queueCompleteCmd, queueFailCmd, queueListCmd, queueShowCmd)
	rootCmd.AddCommand(queueCmd)
}
