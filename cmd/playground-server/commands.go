package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"playground/internal/diff"
	"playground/internal/persistence"
	"playground/internal/server/bootstrap"
	"playground/internal/serverconfig"
)

var (
	heading = color.New(color.Bold, color.FgCyan).SprintFunc()
	green   = color.New(color.FgGreen).SprintFunc()
	yellow  = color.New(color.FgYellow).SprintFunc()
	gray    = color.New(color.FgHiBlack).SprintFunc()
)

type cli struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "playground-server",
		Short:         "Context store and config evolution service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "",
		"bootstrap config file (yaml or json); PLAYGROUND_* env vars override it")

	root.AddCommand(c.newServeCommand())
	root.AddCommand(c.newConfigCommand())
	return root
}

func (c *cli) newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := bootstrap.LoadConfig(c.configPath)
			if err != nil {
				return err
			}
			return bootstrap.Run(cmd.Context(), cfg)
		},
	}
}

func (c *cli) newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the server config document",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective server config as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.showConfig(cmd, cmd.OutOrStdout())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "diff [backup]",
		Short: "Show what changed between a backup (the newest by default) and the current config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backup := ""
			if len(args) == 1 {
				backup = args[0]
			}
			return c.diffConfig(cmd, cmd.OutOrStdout(), backup)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the server config file and report sections that fall back to defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.validateConfig(cmd, cmd.OutOrStdout())
		},
	})
	return cmd
}

func (c *cli) showConfig(cmd *cobra.Command, out io.Writer) error {
	boot, err := bootstrap.LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	store := serverconfig.NewStore(boot.ServerConfigPath(), persistence.NewFileGateway())
	current, err := store.Reload(cmd.Context())
	if err != nil {
		fmt.Fprintln(out, yellow("Warning: "+err.Error()+"; showing defaults"))
	}

	rendered, err := toYAML(current)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, heading("Server config"), gray(boot.ServerConfigPath()))
	fmt.Fprint(out, rendered)
	return nil
}

func (c *cli) validateConfig(cmd *cobra.Command, out io.Writer) error {
	boot, err := bootstrap.LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	path := boot.ServerConfigPath()
	fmt.Fprintln(out, heading("Validating"), gray(path))

	data, err := persistence.NewFileGateway().ReadSnapshot(cmd.Context(), path)
	if persistence.IsNotFound(err) {
		fmt.Fprintln(out, yellow("No config file; defaults apply and will be written on first start."))
		return nil
	}
	if err != nil {
		return err
	}

	cfg, fallbacks, err := serverconfig.Decode(data)
	if err != nil {
		return err
	}
	if len(fallbacks) > 0 {
		sort.Slice(fallbacks, func(i, j int) bool { return fallbacks[i].Section < fallbacks[j].Section })
		for _, fb := range fallbacks {
			fmt.Fprintln(out, yellow("  fallback"), fb.String())
		}
		return fmt.Errorf("%d section(s) fall back to defaults", len(fallbacks))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Fprintln(out, green("OK"), fmt.Sprintf("logging.level=%s, %d feature flags", cfg.Logging.Level, len(cfg.FeatureFlags)))
	return nil
}

func (c *cli) diffConfig(cmd *cobra.Command, out io.Writer, backup string) error {
	boot, err := bootstrap.LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	path := boot.ServerConfigPath()
	if backup == "" {
		backups, err := filepath.Glob(path + ".*.bak")
		if err != nil {
			return err
		}
		if len(backups) == 0 {
			fmt.Fprintln(out, yellow("No backups next to "+path))
			return nil
		}
		sort.Strings(backups)
		backup = backups[len(backups)-1]
	}

	gateway := persistence.NewFileGateway()
	before, err := gateway.ReadSnapshot(cmd.Context(), backup)
	if err != nil {
		return err
	}
	after, err := gateway.ReadSnapshot(cmd.Context(), path)
	if err != nil {
		return err
	}

	result := diff.NewGenerator(!color.NoColor).Unified(string(before), string(after), filepath.Base(path))
	fmt.Fprintln(out, heading("Diff"), gray(backup+" -> "+path))
	fmt.Fprint(out, result.Patch)
	fmt.Fprintln(out, result.Summary())
	return nil
}

// toYAML renders cfg with the same keys as the JSON document.
func toYAML(cfg serverconfig.ServerConfig) (string, error) {
	data, err := serverconfig.Encode(cfg)
	if err != nil {
		return "", err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", err
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
