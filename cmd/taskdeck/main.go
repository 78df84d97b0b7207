// Command taskdeck is the TaskDeck configuration tool. The desktop shell
// embeds the settings manager directly; this binary exposes the same API
// for scripting and troubleshooting.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/taskdeck/taskdeck/internal/settings"
	"github.com/taskdeck/taskdeck/internal/settings/store"
)

var (
	configDir string
	verbose   bool

	mgr *settings.Manager
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "taskdeck",
		Short:        "TaskDeck configuration tool",
		Long:         "Inspect and edit TaskDeck settings and keybindings from the command line.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}

			var opts []settings.Option
			if configDir != "" {
				opts = append(opts, settings.WithConfigDir(configDir))
			}
			mgr = settings.NewManager(opts...)
			if err := mgr.Initialize(cmd.Context()); err != nil {
				return err
			}
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if mgr != nil {
				mgr.Dispose()
			}
		},
	}

	root.PersistentFlags().StringVar(&configDir, "config-dir", "", "override the config directory")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(pathsCmd())
	root.AddCommand(settingsCmd())
	root.AddCommand(keybindingsCmd())
	return root
}

func pathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print the managed file locations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Println("settings:    " + mgr.SettingsPath())
			cmd.Println("keybindings: " + mgr.KeybindingsPath())
			return nil
		},
	}
}

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and edit settings",
	}

	get := &cobra.Command{
		Use:   "get [path]",
		Short: "Print the merged settings, or one value by dotted path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := mgr.SettingsMap()
			if len(args) == 0 {
				out, err := toml.Marshal(doc)
				if err != nil {
					return err
				}
				cmd.Print(string(out))
				return nil
			}
			v, ok := store.Lookup(doc, args[0])
			if !ok {
				return fmt.Errorf("no setting at %q", args[0])
			}
			cmd.Println(fmt.Sprintf("%v", v))
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <path> <value>",
		Short: "Set one value by dotted path",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			partial := make(map[string]any)
			store.SetPath(partial, args[0], parseScalar(args[1]))
			return mgr.UpdateSettings(partial)
		},
	}

	cmd.AddCommand(get, set)
	return cmd
}

func keybindingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "keybindings",
		Aliases: []string{"kb"},
		Short:   "Inspect and edit keybindings",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List current keybindings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, kb := range mgr.Keybindings() {
				line := fmt.Sprintf("%-16s %s", kb.Key, kb.Command)
				if kb.When != "" {
					line += "  [" + kb.When + "]"
				}
				cmd.Println(line)
			}
			return nil
		},
	}

	var when string
	add := &cobra.Command{
		Use:   "add <key> <command>",
		Short: "Add a keybinding, replacing any existing binding for the key",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return mgr.AddKeybinding(settings.Keybinding{
				Key:     args[0],
				Command: args[1],
				When:    when,
			})
		},
	}
	add.Flags().StringVar(&when, "when", "", "context expression gating the binding")

	remove := &cobra.Command{
		Use:   "remove <key>",
		Short: "Remove the keybinding for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return mgr.RemoveKeybinding(args[0])
		},
	}

	cmd.AddCommand(list, add, remove)
	return cmd
}

// parseScalar interprets a CLI value argument as bool, integer, float, or
// string, in that order.
func parseScalar(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
