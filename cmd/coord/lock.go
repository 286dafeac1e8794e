package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/coord/internal/rpc"
	"github.com/steveyegge/coord/internal/timeparsing"
	"github.com/steveyegge/coord/internal/ui"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Take and release named resource locks",
}

var errLockHeld = errors.New("lock is held")

var lockAcquireCmd = &cobra.Command{
	Use:   "acquire <resource> <agent-id>",
	Short: "Try to take a lock",
	Long: `Try to take a lock for an agent. Re-acquiring a lock you already hold
extends it. With --wait, retries with backoff until the lock is granted or
the wait runs out.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetString("ttl")
		wait, _ := cmd.Flags().GetDuration("wait")
		var timeout time.Duration
		if ttl != "" {
			var err error
			if timeout, err = timeparsing.ParseTTL(ttl, time.Now()); err != nil {
				return fmt.Errorf("--ttl: %w", err)
			}
		}
		return withClient(func(c *rpc.Client) error {
			var (
				res *rpc.LockAcquireResult
				err error
			)
			if wait > 0 {
				res, err = c.AcquireLockWithRetry(cmd.Context(), args[0], args[1], timeout, wait)
			} else {
				res, err = c.AcquireLock(args[0], args[1], timeout)
			}
			// A timed-out wait still reports the last holder.
			if err != nil && res == nil {
				return err
			}
			if jsonOutput {
				outputJSON(res)
			} else if res.Granted {
				fmt.Printf("%s %s locked by %s%s\n", ui.RenderPassIcon(), args[0], args[1], expiresSuffix(res.ExpiresAt))
			} else {
				fmt.Printf("%s %s held by %s%s\n", ui.RenderWarnIcon(), args[0], res.Owner, expiresSuffix(res.ExpiresAt))
			}
			if !res.Granted {
				return errLockHeld
			}
			return nil
		})
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release <resource> <agent-id>",
	Short: "Release a lock you hold",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *rpc.Client) error {
			if err := c.ReleaseLock(args[0], args[1]); err != nil {
				return err
			}
			return printOK("%s Released %s", ui.RenderPassIcon(), args[0])
		})
	},
}

var lockCheckCmd = &cobra.Command{
	Use:   "check <resource>",
	Short: "Show who holds a lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *rpc.Client) error {
			res, err := c.CheckLock(args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(res)
				return nil
			}
			if !res.Held {
				fmt.Printf("%s is free\n", args[0])
				return nil
			}
			fmt.Printf("%s held by %s%s\n", args[0], ui.RenderAccent(res.Owner), expiresSuffix(res.ExpiresAt))
			return nil
		})
	},
}

var lockListCmd = &cobra.Command{
	Use:   "list",
	Short: "List held locks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *rpc.Client) error {
			held, err := c.ListLocks()
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(held)
				return nil
			}
			if len(held) == 0 {
				fmt.Println(ui.RenderMuted("No locks held"))
				return nil
			}
			for _, l := range held {
				fmt.Printf("%-32s %-24s%s\n", ui.Truncate(l.Resource, 32), ui.Truncate(l.OwnerAgentID, 24), expiresSuffix(&l.ExpiresAt))
			}
			return nil
		})
	},
}

func expiresSuffix(t *time.Time) string {
	if t == nil {
		return ""
	}
	left := time.Until(*t).Round(time.Second)
	if left < 0 {
		left = 0
	}
	return ui.RenderMuted(fmt.Sprintf(" (expires in %s)", left))
}

func init() {
	lockAcquireCmd.Flags().String("ttl", "", `Lock lifetime: 10m, +2h or "tomorrow at 9am" (default: daemon's default-lock-timeout)`)
	lockAcquireCmd.Flags().Duration("wait", 0, "Keep retrying for up to this long")

	lockCmd.AddCommand(lockAcquireCmd, lockReleaseCmd, lockCheckCmd, lockListCmd)
	rootCmd.AddCommand(lockCmd)
}
