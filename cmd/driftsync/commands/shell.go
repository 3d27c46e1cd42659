package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/cli/prompt"
	"github.com/driftsync/driftsync/internal/client"
	"github.com/driftsync/driftsync/pkg/transport"
)

// shellHelp doubles as the command's long help and the in-shell "help"
// output. A const breaks the init cycle a reference to shellCmd from
// runShellCommand would create.
const shellHelp = `Open an interactive shell against a driftsync server.

Shell commands:
  ls                      list the current remote directory
  cd <name>               change remote directory (".." goes up)
  upload <file> [remote]  upload a local file
  supload <dir>           upload a whole local directory tree
  all                     download every file in the current directory
  <filename>              download one file into the working directory
  kill                    erase all server files (asks for confirmation)
  sync list               show configured sync pairs
  sync add <local> <rem>  add a sync pair
  sync remove <id>        remove a sync pair
  sync run [id]           sync one pair, or all pairs
  sync auto               watch local pairs and sync on change
  help                    this summary
  (empty line)            exit`

var shellCmd = &cobra.Command{
	Use:   "shell [host] [port]",
	Short: "Interactive command shell",
	Long:  shellHelp,
	Args:  cobra.MaximumNArgs(2),
	RunE:  runShell,
}

func runShell(cmd *cobra.Command, args []string) error {
	if len(args) >= 1 {
		flagHost = args[0]
	}
	if len(args) == 2 {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid port %q", args[1])
		}
		flagPort = port
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Printf("Connected to %s:%d. Empty line exits.\n", flagHost, flagPort)

	for {
		line, err := prompt.Line(fmt.Sprintf("%s:%d", flagHost, flagPort))
		if err != nil {
			if prompt.IsAborted(err) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return nil
		}

		if err := runShellCommand(c, line); err != nil {
			printShellError(err)
		}
	}
}

// runShellCommand executes one shell line. A bare word that is not a
// command is treated as a file name to download.
func runShellCommand(c *client.Client, line string) error {
	ctx := context.Background()
	fields := strings.Fields(line)

	switch fields[0] {
	case "help":
		fmt.Println(shellHelp)
		return nil

	case "ls":
		entries, err := c.List(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("(empty)")
			return nil
		}
		for _, entry := range entries {
			if entry.Dir {
				fmt.Println(entry.Name + "/")
			} else {
				fmt.Println(entry.Name)
			}
		}
		return nil

	case "cd":
		if len(fields) != 2 {
			return errors.New("usage: cd <name>")
		}
		msg, err := c.CD(ctx, fields[1])
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil

	case "upload":
		if len(fields) < 2 || len(fields) > 3 {
			return errors.New("usage: upload <file> [remote]")
		}
		remote := fields[1]
		if len(fields) == 3 {
			remote = fields[2]
		}
		sent, err := c.Upload(ctx, fields[1], remote)
		if err != nil {
			return err
		}
		fmt.Printf("Uploaded %s (%s)\n", remote, humanize.Bytes(uint64(sent)))
		return nil

	case "supload":
		if len(fields) != 2 {
			return errors.New("usage: supload <dir>")
		}
		result, err := c.Supload(ctx, fields[1])
		if err != nil {
			return err
		}
		fmt.Printf("Uploaded %s: %d dirs, %d files, %s\n",
			result.Root, result.Dirs, result.Files, humanize.Bytes(uint64(result.Bytes)))
		return nil

	case "all":
		fetched, err := c.DownloadAll(ctx, ".")
		if err != nil {
			return err
		}
		fmt.Printf("Downloaded %d files\n", len(fetched))
		return nil

	case "kill":
		ok, err := prompt.ConfirmDanger("Erase ALL files on the server", "kill")
		if err != nil || !ok {
			return err
		}
		msg, err := c.Kill(ctx)
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil

	case "sync":
		return runShellSync(c, fields[1:])

	default:
		if len(fields) != 1 {
			return fmt.Errorf("unknown command %q (try help)", fields[0])
		}
		name := fields[0]
		received, err := c.Download(ctx, name, name)
		if err != nil {
			return err
		}
		fmt.Printf("Downloaded %s (%s)\n", name, humanize.Bytes(uint64(received)))
		return nil
	}
}

// runShellSync handles the in-shell "sync ..." commands, sharing logic
// with the non-interactive sync subcommand.
func runShellSync(c *client.Client, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: sync list|add|remove|run|auto")
	}

	store := pairStore()
	switch args[0] {
	case "list":
		return printPairs(store)
	case "add":
		if len(args) != 3 {
			return errors.New("usage: sync add <local> <remote>")
		}
		id, err := store.Add(args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Printf("Added sync pair %s\n", id)
		return nil
	case "remove":
		if len(args) != 2 {
			return errors.New("usage: sync remove <id>")
		}
		if err := store.Remove(args[1]); err != nil {
			return err
		}
		fmt.Printf("Removed sync pair %s\n", args[1])
		return nil
	case "run":
		var id string
		if len(args) == 2 {
			id = args[1]
		}
		return runSyncPairs(c, store, id)
	case "auto":
		return runShellAutoSync(c, store)
	default:
		return fmt.Errorf("unknown sync command %q", args[0])
	}
}

// runShellAutoSync watches every pair until the user interrupts, then
// returns to the prompt.
func runShellAutoSync(c *client.Client, store *client.PairStore) error {
	pairs, err := store.Load()
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return errors.New("no sync pairs configured (use: sync add)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Watching %d pair(s). Ctrl+C returns to the shell.\n", len(pairs))
	err = c.AutoSync(ctx, pairs, client.AutoSyncOptions{})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// printShellError keeps the shell alive on transfer failures and busy
// rejections.
func printShellError(err error) {
	switch {
	case errors.Is(err, transport.ErrExhausted):
		fmt.Println("No reply from server. Is it running?")
	case errors.Is(err, client.ErrBusy):
		fmt.Println("Server is syncing, please retry in a moment.")
	default:
		fmt.Printf("Error: %v\n", err)
	}
}
