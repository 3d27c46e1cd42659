package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/cli/output"
	"github.com/driftsync/driftsync/internal/client"
)

var (
	flagDebounce time.Duration
	flagSweep    time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Manage and run directory sync pairs",
	Long: `Manage sync pairs (a local directory mapped to a remote one) and
run synchronization. Pairs are stored in the file named by --sync-config.`,
}

var syncListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured sync pairs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printPairs(pairStore())
	},
}

var syncAddCmd = &cobra.Command{
	Use:   "add <local> <remote>",
	Short: "Add a sync pair",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := pairStore().Add(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Added sync pair %s: %s -> %s\n", id, args[0], args[1])
		return nil
	},
}

var syncRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a sync pair",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := pairStore().Remove(args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed sync pair %s\n", args[0])
		return nil
	},
}

var syncRunCmd = &cobra.Command{
	Use:   "run [id]",
	Short: "Sync one pair, or all pairs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		var id string
		if len(args) == 1 {
			id = args[0]
		}
		return runSyncPairs(c, pairStore(), id)
	},
}

var syncAutoCmd = &cobra.Command{
	Use:   "auto",
	Short: "Watch local directories and sync on change",
	Long: `Watch every configured pair's local directory and re-run its sync
whenever files change, with a debounce so edit bursts collapse into one
run. A periodic sweep syncs everything regardless of events. Runs until
interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		pairs, err := pairStore().Load()
		if err != nil {
			return err
		}
		if len(pairs) == 0 {
			return errors.New("no sync pairs configured (use: driftsync sync add)")
		}

		fmt.Printf("Watching %d pair(s). Ctrl+C to stop.\n", len(pairs))
		err = c.AutoSync(cmd.Context(), pairs, client.AutoSyncOptions{
			Debounce:      flagDebounce,
			SweepInterval: flagSweep,
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	syncAutoCmd.Flags().DurationVar(&flagDebounce, "debounce", 2*time.Second, "quiet period before a changed pair syncs")
	syncAutoCmd.Flags().DurationVar(&flagSweep, "sweep", 5*time.Minute, "interval of the unconditional full sweep")

	syncCmd.AddCommand(syncListCmd)
	syncCmd.AddCommand(syncAddCmd)
	syncCmd.AddCommand(syncRemoveCmd)
	syncCmd.AddCommand(syncRunCmd)
	syncCmd.AddCommand(syncAutoCmd)
}

// printPairs renders the pair store as a table.
func printPairs(store *client.PairStore) error {
	pairs, err := store.Load()
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		fmt.Println("No sync pairs configured.")
		return nil
	}

	ids, err := store.IDs()
	if err != nil {
		return err
	}

	table := output.NewTableData("ID", "Local", "Remote")
	for _, id := range ids {
		pair := pairs[id]
		table.AddRow(id, pair.LocalPath, pair.RemotePath)
	}
	table.Render(os.Stdout)
	return nil
}

// runSyncPairs syncs the named pair, or every pair when id is empty.
func runSyncPairs(c *client.Client, store *client.PairStore, id string) error {
	pairs, err := store.Load()
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return errors.New("no sync pairs configured (use: driftsync sync add)")
	}

	ids, err := store.IDs()
	if err != nil {
		return err
	}
	if id != "" {
		if _, ok := pairs[id]; !ok {
			return fmt.Errorf("no sync pair %q", id)
		}
		ids = []string{id}
	}

	ctx := context.Background()
	for _, pid := range ids {
		pair := pairs[pid]
		result, err := c.Sync(ctx, pair.LocalPath, pair.RemotePath)
		if err != nil {
			return fmt.Errorf("pair %s (%s -> %s): %w", pid, pair.LocalPath, pair.RemotePath, err)
		}
		if result.NoChanges {
			fmt.Printf("Pair %s: up to date\n", pid)
		} else {
			fmt.Printf("Pair %s: uploaded %d file(s), %s\n",
				pid, result.Uploaded, humanize.Bytes(uint64(result.Bytes)))
		}
	}
	return nil
}
