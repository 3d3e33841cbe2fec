package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/user/appforge/internal/recognize"
	"github.com/user/appforge/internal/types"
)

func init() {
	rootCmd.AddCommand(recognizeCmd, policyCmd)
	policyCmd.AddCommand(policyShowCmd)
}

var recognizeCmd = &cobra.Command{
	Use:   "recognize <sessionID>",
	Short: "Run pattern recognition over a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		patterns, err := a.Engine.Recognize(contextOf(cmd), types.SessionID(args[0]))
		if err != nil {
			return err
		}
		if len(patterns) == 0 {
			fmt.Println("No patterns recognized.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tCONFIDENCE\tEVENTS\tSCREEN")
		for _, p := range patterns {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\t%s\n",
				p.ID,
				p.Type,
				p.Confidence,
				len(p.EventIDs),
				p.Metadata.Screen,
			)
		}
		return w.Flush()
	},
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect the recognition scoring policy",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the scoring policy in effect",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		policy := recognize.DefaultPolicy()
		if path := cfg.PolicyPath(); path != "" {
			if policy, err = recognize.LoadPolicy(path); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "# %s\n", path)
		} else {
			fmt.Fprintln(os.Stdout, "# built-in")
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(policy); err != nil {
			return err
		}
		return enc.Close()
	},
}
