package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/lk2023060901/modhost/pkg/app"
	"github.com/lk2023060901/modhost/pkg/manager"
	"github.com/lk2023060901/modhost/pkg/module"
)

const appName = "modhost"

func newRootCommand() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           appName,
		Short:         "Load cyclic modules from plugins and run them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "modhost.yaml", "config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the host until interrupted",
			RunE: func(cmd *cobra.Command, _ []string) error {
				a := app.NewBaseApplication(appName)
				if err := a.SetConfigPath(cfgFile); err != nil {
					return err
				}
				err := a.Run(cmd.Context())
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			},
		},
		newListCommand(&cfgFile),
	)
	return root
}

func newListCommand(cfgFile *string) *cobra.Command {
	var root string
	var recursive bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Load the plugin directory and print the modules found",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if root == "" {
				cfg, err := app.LoadConfigFromFile(*cfgFile)
				if err != nil {
					return err
				}
				root = cfg.Host.Modules.Root
				recursive = recursive || cfg.Host.Modules.Recursive
			}

			mgr, err := manager.New(root, manager.WithRecursive(recursive), manager.WithVerbose(true))
			if err != nil {
				return err
			}
			defer mgr.Close()

			out := cmd.OutOrStdout()
			for _, m := range mgr.Modules() {
				fmt.Fprintf(out, "%s\t%s\n", m, formatDependencies(m))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "plugin directory, overrides host.modules.root")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "scan subdirectories")
	return cmd
}

func formatDependencies(m *module.Module) string {
	deps := m.Dependencies()
	if len(deps) == 0 {
		return "-"
	}
	var sb strings.Builder
	for i, d := range deps {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(d.String())
		if !m.HasDependency(d.Name()) {
			sb.WriteString("(unresolved)")
		}
	}
	return sb.String()
}
