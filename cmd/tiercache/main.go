// Command tiercache inspects and edits a file-backed tiercache store.
package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"

	"github.com/agentuity/go-tiercache/cache"
)

// Version as provided by the build.
var Version = "dev"

type store = cache.Cache[string, []byte]

// withStore opens the configured store, runs fn and flushes the store.
func withStore(cmd *cobra.Command, fn func(c *store) error) error {
	s, err := resolveSettings(cmd)
	if err != nil {
		return err
	}
	fs, err := cache.NewFileStore[string, []byte](s.store, s.opts...)
	if err != nil {
		return err
	}
	c := cache.New[string, []byte](fs, s.opts...)
	s.log.Debug("using %s with index %s", fs.Dir(), fs.IndexPath())
	runErr := fn(c)
	if err := c.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print the value stored under KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(c *store) error {
				val, ok := c.Value(args[0])
				if !ok {
					return errors.Newf("%s: not found", args[0])
				}
				_, err := cmd.OutOrStdout().Write(val)
				return err
			})
		},
	}
}

func newSetCommand() *cobra.Command {
	var expires, removeAfter string
	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store VALUE under KEY; VALUE \"-\" reads standard input",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := []byte(args[1])
			if args[1] == "-" {
				var err error
				if value, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return errors.Wrap(err, "reading standard input")
				}
			}
			now := time.Now()
			var attrs cache.Attributes
			if expires != "" {
				t, err := parseOffset(now, expires)
				if err != nil {
					return err
				}
				attrs = cache.ExpiresAt(t)
			}
			if removeAfter != "" {
				t, err := parseOffset(now, removeAfter)
				if err != nil {
					return err
				}
				attrs = attrs.RemoveAt(t)
			}
			return withStore(cmd, func(c *store) error {
				c.SetValue(args[0], value, attrs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&expires, "expires", "", "expire the entry after this long, e.g. 1d2h")
	cmd.Flags().StringVar(&removeAfter, "remove-after", "", "remove the entry after this long")
	return cmd
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm KEY...",
		Aliases: []string{"remove"},
		Short:   "Remove entries",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(c *store) error {
				for _, key := range args {
					c.RemoveValue(key)
				}
				return nil
			})
		},
	}
}

func describe(now time.Time, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	if !now.Before(t) {
		return "passed"
	}
	return str2duration.String(t.Sub(now).Round(time.Second))
}

func newListCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List keys with their deadlines",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(c *store) error {
				entries := c.Storage().AllAttributes()
				keys := make([]string, 0, len(entries))
				for key, attrs := range entries {
					if all || !attrs.ShouldBeRemoved() {
						keys = append(keys, key)
					}
				}
				slices.Sort(keys)
				now := time.Now()
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "KEY\tEXPIRES\tREMOVES")
				for _, key := range keys {
					attrs := entries[key]
					fmt.Fprintf(w, "%s\t%s\t%s\n", key, describe(now, attrs.ExpirationDate), describe(now, attrs.RemovalDate))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include expired entries not yet reclaimed")
	return cmd
}

func newPurgeCommand() *cobra.Command {
	var expiredOnly bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove every dead entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(c *store) error {
				if expiredOnly {
					c.Remove(cache.Attributes.HasExpired)
				} else {
					c.Remove(cache.Attributes.ShouldBeRemoved)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&expiredOnly, "expired", false, "only remove entries past their expiration date")
	return cmd
}

func newClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(c *store) error {
				c.RemoveAll()
				return nil
			})
		},
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tiercache",
		Short:         "Inspect and edit a file-backed cache",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.String("config", "", "YAML config file (env TIERCACHE_CONFIG)")
	flags.String("store", "", "store name (env TIERCACHE_STORE, default \"default\")")
	flags.String("namespace", "", "application namespace for default directories (env TIERCACHE_NAMESPACE)")
	flags.String("base-dir", "", "directory holding the store data (env TIERCACHE_BASE_DIR)")
	flags.String("index-dir", "", "directory holding the store index (env TIERCACHE_INDEX_DIR)")
	flags.String("log-level", "", "log level: trace, debug, info, warn, error (env TIERCACHE_LOG_LEVEL)")
	root.AddCommand(
		newGetCommand(),
		newSetCommand(),
		newRemoveCommand(),
		newListCommand(),
		newPurgeCommand(),
		newClearCommand(),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error: "+strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}
