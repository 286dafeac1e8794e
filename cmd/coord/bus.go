package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/coord/internal/rpc"
	"github.com/steveyegge/coord/internal/ui"
)

var busCmd = &cobra.Command{
	Use:   "bus",
	Short: "Publish and watch events",
}

var busPublishCmd = &cobra.Command{
	Use:   "publish <topic> [payload]",
	Short: "Publish an event to every matching subscriber",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload string
		if len(args) == 2 {
			payload = args[1]
		}
		return withClient(func(c *rpc.Client) error {
			n, err := c.Publish(args[0], parsePayload(payload))
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(rpc.PublishResult{Delivered: n})
				return nil
			}
			fmt.Printf("Delivered to %d subscriber(s)\n", n)
			return nil
		})
	},
}

var busSubscribeCmd = &cobra.Command{
	Use:   "subscribe <pattern>...",
	Short: "Stream events matching one or more topic patterns",
	Long: `Stream events until interrupted. Patterns are exact topics, a prefix
ending in ".*" (agent.* matches agent.registered and agent.x.y), or "*" for
everything.

With --json each event is printed as one JSON line.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *rpc.Client) error {
			for _, pattern := range args {
				if _, err := c.Subscribe(pattern); err != nil {
					return err
				}
			}
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "%s Watching %v (Ctrl-C to stop)\n", ui.RenderInfoIcon(), args)
			}
			enc := json.NewEncoder(os.Stdout)
			ctx := cmd.Context()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-c.Done():
					return fmt.Errorf("daemon closed the connection")
				case ev, ok := <-c.Events():
					if !ok {
						return nil
					}
					if jsonOutput {
						if err := enc.Encode(ev); err != nil {
							return err
						}
						continue
					}
					fmt.Printf("%s %s %s\n",
						ui.RenderMuted(ev.EmittedAt.Local().Format("15:04:05")),
						ui.RenderAccent(ev.Topic), ev.Payload)
				}
			}
		})
	},
}

func init() {
	busCmd.AddCommand(busPublishCmd, busSubscribeCmd)
	rootCmd.AddCommand(busCmd)
}
