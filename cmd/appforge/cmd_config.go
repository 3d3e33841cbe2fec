package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/appforge/internal/config"
)

var configChangedOnly bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd, configPathCmd)
	configListCmd.Flags().BoolVar(&configChangedOnly, "changed", false, "only show settings that differ from the defaults")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the config file",
}

// formatValue prints lists comma-separated so `config set` accepts the
// output back unchanged.
func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}

func writeEntries(out io.Writer, entries []config.Entry, changedOnly bool) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE\tDEFAULT")
	for _, e := range entries {
		if changedOnly && !e.Changed {
			continue
		}
		dflt := "-"
		if e.Changed {
			dflt = formatValue(e.Default)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Key, formatValue(e.Value), dflt)
	}
	return w.Flush()
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List settings with the defaults they override",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		entries, err := config.Entries(cfg, true)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}
		return writeEntries(os.Stdout, entries, configChangedOnly)
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, err := config.GetValue(cfgPath, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, formatValue(val))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting in the config file",
	Long:  "Change one setting in the config file. Values are read as YAML; list settings also take a comma-separated list.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		if err := config.SetValue(cfgPath, args[0], args[1]); err != nil {
			return err
		}
		if config.IsSecretKey(args[0]) {
			fmt.Fprintf(os.Stdout, "Set %s\n", args[0])
			return nil
		}
		val, err := config.GetValue(cfgPath, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Set %s = %s\n", args[0], formatValue(val))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(os.Stdout, cfgPath)
	},
}
