package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"dbcfg/internal/app"
	"dbcfg/internal/config"
	"dbcfg/internal/encryption"
	"dbcfg/internal/manifest"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readConfig reads the config file named by the application defaults.
func readConfig() (*config.Config, error) {
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

// newApp reads the config and creates a DBCfgApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Apply", "History").
func newApp(cmd *cobra.Command, operation string) (*app.DBCfgApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	verbose, _ := cmd.Flags().GetBool("verbose")

	a, err := app.NewDBCfgApp(cfg, operation, app.Options{
		Passphrase: func() (string, error) { return promptSecret("Passphrase: ") },
		Verbose:    verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// promptSecret reads a line from the terminal without echo.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading from terminal: %w", err)
	}
	return string(b), nil
}

// promptNewSecret asks twice and requires both answers to match.
func promptNewSecret(what string) (string, error) {
	first, err := promptSecret(what + ": ")
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", fmt.Errorf("%s must not be empty", strings.ToLower(what))
	}
	second, err := promptSecret("Repeat " + strings.ToLower(what) + ": ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("entries do not match")
	}
	return first, nil
}

var rootCmd = &cobra.Command{
	Use:          "dbcfg",
	Short:        "Declarative SQL Server database configuration",
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

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
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
		fmt.Printf("Host ID:  %s\n", cfg.HostID)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Engine:   %s", cfg.Engine.Type)
		if cfg.Engine.Host != "" {
			fmt.Printf(" %s:%d", cfg.Engine.Host, cfg.Engine.Port)
		}
		fmt.Println()
		fmt.Printf("History:  %s\n", cfg.History.Type)
		for _, ar := range cfg.Archives {
			fmt.Printf("Archive:  %s (%s)\n", ar.Name, ar.Type)
		}
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the engine connection and archives",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "CheckArchives")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.CheckArchives(); err != nil {
			return err
		}
		fmt.Println("Configuration OK")
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		sealer, err := encryption.NewSealerFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if sealer.IsConfigured() {
			return fmt.Errorf("keys already exist at %s", cfg.Encryption.PrivateKeyPath)
		}

		passphrase, err := promptNewSecret("Passphrase")
		if err != nil {
			return err
		}
		if err := sealer.Setup(passphrase); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Keys written to %s\n", cfg.Encryption.PublicKeyPath)
		return nil
	},
}

var keysSealPasswordCmd = &cobra.Command{
	Use:   "seal-password",
	Short: "Seal the engine password into the configured password file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		password, err := promptNewSecret("Engine password")
		if err != nil {
			return err
		}
		if err := app.SealPassword(cfg, password); err != nil {
			return err
		}
		fmt.Printf("Password sealed to %s\n", cfg.Engine.PasswordFile)
		return nil
	},
}

// show command
var showCmd = &cobra.Command{
	Use:   "show DATABASE",
	Short: "Print the current configuration of a database as a manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Show")
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.Show(args[0])
		if err != nil {
			return err
		}
		return manifest.Encode(os.Stdout, m)
	},
}

// plan command
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the changes a manifest would make",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")

		a, err := newApp(cmd, "Plan")
		if err != nil {
			return err
		}
		defer a.Close()

		changes, err := a.Plan(path)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			fmt.Println("No changes.")
			return nil
		}
		for _, c := range changes {
			fmt.Println(c.String())
		}
		fmt.Printf("\n%d change(s)\n", len(changes))
		return nil
	},
}

// apply command
var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		force, _ := cmd.Flags().GetBool("force")
		scriptPath, _ := cmd.Flags().GetString("script")

		a, err := newApp(cmd, "Apply")
		if err != nil {
			return err
		}
		defer a.Close()

		if scriptPath != "" {
			var w io.Writer = os.Stdout
			if scriptPath != "-" {
				f, err := os.Create(scriptPath)
				if err != nil {
					return fmt.Errorf("creating script file: %w", err)
				}
				defer f.Close()
				w = f
			}
			if err := a.SetScript(w); err != nil {
				return err
			}
		}

		op, err := a.Apply(path, force)
		if err != nil {
			if op != nil {
				return fmt.Errorf("apply #%d %s: %w", op.ID, op.Status, err)
			}
			return err
		}
		if op == nil {
			fmt.Println("No changes.")
			return nil
		}
		if op.ScriptOnly {
			fmt.Fprintf(os.Stderr, "Scripted apply #%d of %s\n", op.ID, op.Database)
			return nil
		}
		fmt.Printf("Applied #%d to %s\n", op.ID, op.Database)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history [DATABASE]",
	Short: "View apply history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		database := ""
		if len(args) > 0 {
			database = args[0]
		}

		a, err := newApp(cmd, "History")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(database, limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No apply operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
			}
			flags := ""
			if op.Forced {
				flags += " forced"
			}
			if op.ScriptOnly {
				flags += " script"
			}
			fmt.Printf("#%d  %-20s  %s  %-10s  %s%s\n",
				op.ID,
				op.Database,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				flags,
			)
		}
		return nil
	},
}

// changes command
var changesCmd = &cobra.Command{
	Use:   "changes ID",
	Short: "View the changes of an apply operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid operation ID %q", args[0])
		}

		a, err := newApp(cmd, "Changes")
		if err != nil {
			return err
		}
		defer a.Close()

		changes, err := a.Changes(id)
		if err != nil {
			return err
		}
		for _, c := range changes {
			line := fmt.Sprintf("%3d  %s %s %s", c.Seq, c.Action, c.Entity, c.Name)
			if c.Properties != "" {
				line += " [" + c.Properties + "]"
			}
			fmt.Println(line)
		}
		return nil
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Read archived snapshots",
}

var snapshotGetCmd = &cobra.Command{
	Use:   "get DATABASE [VERSION]",
	Short: "Print an archived manifest, the latest by default",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var version int64
		if len(args) > 1 {
			v, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || v <= 0 {
				return fmt.Errorf("invalid version %q", args[1])
			}
			version = v
		}

		a, err := newApp(cmd, "Snapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Snapshot(args[0], version, os.Stdout)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configCheckCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)
	keysCmd.AddCommand(keysSealPasswordCmd)

	// snapshot subcommands
	snapshotCmd.AddCommand(snapshotGetCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().StringP("file", "f", "", "Manifest file")
	planCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().StringP("file", "f", "", "Manifest file")
	applyCmd.MarkFlagRequired("file")
	applyCmd.Flags().Bool("force", false, "Roll back open transactions when an alter needs exclusive access")
	applyCmd.Flags().String("script", "", "Write the statements to FILE (- for stdout) instead of executing them")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(changesCmd)
	rootCmd.AddCommand(snapshotCmd)
}
