package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pmr-go/internal/app"
	"pmr-go/internal/config"
	"pmr-go/internal/encryption"
	"pmr-go/internal/pmr"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file named by the environment defaults.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a PMRApp. The caller must defer app.Close().
// operation names the CLI command being run (e.g. "register", "sync").
func newApp(ctx context.Context, operation string) (*app.PMRApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewPMRApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// withApp runs fn against a new PMRApp and joins the Close error, which
// carries snapshot upload failures.
func withApp(cmd *cobra.Command, operation string, fn func(context.Context, *app.PMRApp) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, operation)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	return errors.Join(runErr, a.Close())
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid workspace id %q", arg)
	}
	return id, nil
}

// readPassphrase prompts on the terminal, or reads PMR_PASSPHRASE when set.
func readPassphrase(prompt string) (string, error) {
	if p := os.Getenv("PMR_PASSPHRASE"); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal: set PMR_PASSPHRASE")
	}

	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "pmr",
	Short:        "Mirror remote git repositories and browse their contents",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		instanceID := uuid.New().String()
		cfg := config.NewConfig(instanceID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir:    %s\n", defaults["base_dir"])
		if cfg.Encryption.Type == "age" {
			fmt.Println("Run `pmr config keygen` before the first catalog change.")
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Instance ID: %s\n", cfg.InstanceID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Git Root:    %s\n", cfg.GitRoot)
		fmt.Printf("Database:    %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:       %s (%s)\n", v.Name, v.Type)
		}
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		return nil
	},
}

var configKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create the snapshot encryption keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}

		var passphrase string
		if enc.NeedsPassphrase() {
			if passphrase, err = readPassphrase("New passphrase: "); err != nil {
				return err
			}
			if os.Getenv("PMR_PASSPHRASE") == "" {
				again, err := readPassphrase("Repeat passphrase: ")
				if err != nil {
					return err
				}
				if again != passphrase {
					return fmt.Errorf("passphrases do not match")
				}
			}
		}

		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Println("Encryption keys created.")
		return nil
	},
}

// catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage catalog snapshots",
}

var catalogRestoreCmd = &cobra.Command{
	Use:   "restore DEST",
	Short: "Download and decrypt the latest catalog snapshot to DEST",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}

		var passphrase string
		if enc.NeedsPassphrase() {
			if passphrase, err = readPassphrase("Passphrase: "); err != nil {
				return err
			}
		}

		version, err := app.RestoreCatalog(cmd.Context(), cfg, args[0], passphrase)
		if err != nil {
			return err
		}
		fmt.Printf("Restored catalog version %d to %s\n", version, args[0])
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register URL DESCRIPTION",
	Short: "Register a remote repository",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		long, _ := cmd.Flags().GetString("long")
		return withApp(cmd, "register", func(ctx context.Context, a *app.PMRApp) error {
			id, err := a.Register(ctx, args[0], args[1], long)
			if err != nil {
				return err
			}
			fmt.Printf("Registered workspace %d\n", id)
			return nil
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update ID DESCRIPTION",
	Short: "Change the description of a workspace",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		long, _ := cmd.Flags().GetString("long")
		return withApp(cmd, "update", func(ctx context.Context, a *app.PMRApp) error {
			return a.Update(ctx, id, args[1], long)
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered workspaces",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "list", func(ctx context.Context, a *app.PMRApp) error {
			workspaces, err := a.List(ctx)
			if err != nil {
				return err
			}
			if len(workspaces) == 0 {
				fmt.Println("No workspaces registered.")
				return nil
			}
			for _, w := range workspaces {
				fmt.Println(w)
			}
			return nil
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync ID",
	Short: "Clone or fetch the mirror of a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, "sync", func(ctx context.Context, a *app.PMRApp) error {
			if err := a.Sync(ctx, id); err != nil {
				if pmr.IsRetryable(err) {
					return fmt.Errorf("%w (retry later)", err)
				}
				return err
			}
			fmt.Printf("Workspace %d synchronized\n", id)
			return nil
		})
	},
}

var indexTagsCmd = &cobra.Command{
	Use:   "index-tags ID",
	Short: "Re-index the tags of a synchronized workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, "index-tags", func(ctx context.Context, a *app.PMRApp) error {
			return a.IndexTags(ctx, id)
		})
	},
}

var tagsCmd = &cobra.Command{
	Use:   "tags ID",
	Short: "List the indexed tags of a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, "tags", func(ctx context.Context, a *app.PMRApp) error {
			tags, err := a.Tags(ctx, id)
			if err != nil {
				return err
			}
			for _, t := range tags {
				fmt.Println(t)
			}
			return nil
		})
	},
}

var syncsCmd = &cobra.Command{
	Use:   "syncs ID",
	Short: "List the sync attempts of a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, "syncs", func(ctx context.Context, a *app.PMRApp) error {
			attempts, err := a.Syncs(ctx, id)
			if err != nil {
				return err
			}
			for _, s := range attempts {
				fmt.Println(s)
				if s.Message != "" {
					fmt.Printf("    %s\n", s.Message)
				}
			}
			return nil
		})
	},
}

var infoCmd = &cobra.Command{
	Use:   "info ID",
	Short: "Describe the object at a path in a revision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		rev, _ := cmd.Flags().GetString("commit")
		path, _ := cmd.Flags().GetString("path")
		format, _ := cmd.Flags().GetString("output")

		return withApp(cmd, "info", func(ctx context.Context, a *app.PMRApp) error {
			resolved, err := a.Resolve(ctx, id, rev, path)
			if err != nil {
				return err
			}
			info, err := resolved.Info()
			if err != nil {
				return err
			}
			return writeInfo(os.Stdout, newInfoReport(resolved.CommitInfo(), resolved.Path(), info), format)
		})
	},
}

var catCmd = &cobra.Command{
	Use:   "cat ID",
	Short: "Write the content of a file in a revision to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		rev, _ := cmd.Flags().GetString("commit")
		path, _ := cmd.Flags().GetString("path")
		force, _ := cmd.Flags().GetBool("force")

		return withApp(cmd, "cat", func(ctx context.Context, a *app.PMRApp) error {
			resolved, err := a.Resolve(ctx, id, rev, path)
			if err != nil {
				return err
			}
			info, err := resolved.Info()
			if err != nil {
				return err
			}
			if err := checkBinaryOutput(info, term.IsTerminal(int(os.Stdout.Fd())), force); err != nil {
				return err
			}
			_, err = resolved.WriteContent(os.Stdout)
			return err
		})
	},
}

var objectCmd = &cobra.Command{
	Use:   "object ID SPEC",
	Short: "Resolve REV[:PATH] to an object kind and id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, "object", func(ctx context.Context, a *app.PMRApp) error {
			summary, err := a.Lookup(ctx, id, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", summary.Kind, summary.ID)
			return nil
		})
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View catalog operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		return withApp(cmd, "history", func(ctx context.Context, a *app.PMRApp) error {
			ops, err := a.History(ctx, limit)
			if err != nil {
				return err
			}
			if len(ops) == 0 {
				fmt.Println("No operations recorded.")
				return nil
			}

			for _, op := range ops {
				duration := ""
				if op.FinishedAt != nil {
					duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Second).String()
				}
				fmt.Printf("#%d  %-12s  %-8s  %s  %-8s  %s\n",
					op.ID,
					op.Operation,
					op.Parameters,
					op.StartedAt.Local().Format("2006-01-02 15:04:05"),
					op.Status,
					duration,
				)
			}
			return nil
		})
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeygenCmd)

	// catalog subcommands
	catalogCmd.AddCommand(catalogRestoreCmd)

	registerCmd.Flags().StringP("long", "l", "", "Long description")
	updateCmd.Flags().StringP("long", "l", "", "Long description")

	for _, c := range []*cobra.Command{infoCmd, catCmd} {
		c.Flags().StringP("commit", "c", pmr.DefaultRevision, "Revision to read")
		c.Flags().StringP("path", "p", "", "Path inside the revision")
	}
	infoCmd.Flags().StringP("output", "o", "text", "Output format: text or yaml")
	catCmd.Flags().Bool("force", false, "Write binary content to a terminal")
	catCmd.MarkFlagRequired("path")

	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(indexTagsCmd)
	rootCmd.AddCommand(tagsCmd)
	rootCmd.AddCommand(syncsCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(objectCmd)
	rootCmd.AddCommand(historyCmd)
}
