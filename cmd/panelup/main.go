package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"panelup/internal/app"
	"panelup/internal/config"
	"panelup/internal/encryption"
	"panelup/internal/report"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file from the default location.
func loadConfig() (*config.Config, string, error) {
	path := app.GetDefaults()["config_path"]
	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("reading config: %w", err)
	}
	return cfg, path, nil
}

// withApp reads the config, creates a PanelupApp for command and runs fn.
// The outcome of fn is logged before the app is closed.
func withApp(cmd *cobra.Command, command string, fn func(ctx context.Context, a *app.PanelupApp) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	var level slog.Leveler = slog.LevelInfo
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = slog.LevelDebug
	}

	ctx := cmd.Context()
	a, err := app.NewPanelupApp(ctx, cfg, command, app.Options{LogLevel: level})
	if err != nil {
		return fmt.Errorf("initializing app: %w", err)
	}
	defer a.Close()

	err = fn(ctx, a)
	a.Finish(err)
	return err
}

var rootCmd = &cobra.Command{
	Use:          "panelup",
	Short:        "Self-update tool for panel installations",
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
		defaults := app.GetDefaults()

		root, _ := cmd.Flags().GetString("install-root")
		if root == "" {
			return fmt.Errorf("--install-root is required")
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("resolving install root: %w", err)
		}

		cfg := config.NewConfig(absRoot, defaults["base_dir"])
		cfg.Release.Repository, _ = cmd.Flags().GetString("repository")
		cfg.CurrentVersion, _ = cmd.Flags().GetString("current-version")

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Install root: %s\n", cfg.InstallRoot)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		if cfg.Release.Repository == "" {
			fmt.Println("Set release.repository before checking for updates.")
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Install root:    %s\n", cfg.InstallRoot)
		fmt.Printf("Current version: %s\n", cfg.CurrentVersion)
		fmt.Printf("Repository:      %s\n", cfg.Release.Repository)
		fmt.Printf("Base Dir:        %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:         %s\n", cfg.LogDir)
		fmt.Printf("Backups:         %s (require complete: %t)\n", cfg.Backup.Dir, cfg.Backup.RequireComplete)
		fmt.Printf("Export:          enabled=%t encrypt=%t vault=%s/%s\n",
			cfg.Backup.Export.Enabled, cfg.Backup.Export.Encrypt, cfg.Vault.Type, cfg.Vault.Name)
		fmt.Printf("Server:          %s (user %s, password set: %t)\n",
			cfg.Server.ListenAddr, cfg.Server.AdminUser, cfg.Server.AdminPasswordHash != "")
		if err := cfg.Validate(); err != nil {
			fmt.Printf("\n%v\n", err)
		}
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the database, keys, vault and cache are usable",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "config-check", func(ctx context.Context, a *app.PanelupApp) error {
			failed := 0
			for _, c := range a.CheckSetup() {
				status := "ok"
				if c.Err != nil {
					status = "FAIL: " + c.Err.Error()
					failed++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-11s %-40s %s\n", c.Name, c.Detail, status)
			}
			if failed > 0 {
				return fmt.Errorf("%d setup checks failed", failed)
			}
			return nil
		})
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the key pair used to encrypt backup exports",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if enc.IsConfigured() {
			return fmt.Errorf("keys already exist at %s", cfg.Encryption.PrivateKeyPath)
		}

		passphrase, err := readNewSecret("passphrase")
		if err != nil {
			return err
		}
		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}

		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		if age, ok := enc.(*encryption.AgeEncryptor); ok {
			if pub, err := age.PublicKey(); err == nil {
				fmt.Printf("Public key:  %s\n", pub)
			}
		}
		return nil
	},
}

var configAdminPasswordCmd = &cobra.Command{
	Use:   "admin-password",
	Short: "Set the password for the admin HTTP surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		password, err := readNewSecret("admin password")
		if err != nil {
			return err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hashing password: %w", err)
		}
		cfg.Server.AdminPasswordHash = string(hash)
		if err := config.WriteToFile(path, cfg); err != nil {
			return err
		}
		fmt.Printf("Admin password for %q updated in %s\n", cfg.Server.AdminUser, path)
		return nil
	},
}

// update workflow commands
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check for a newer release",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "check", func(ctx context.Context, a *app.PanelupApp) error {
			out, err := a.Check(ctx)
			report.WriteOutcome(cmd.OutOrStdout(), out, false)
			return err
		})
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the latest release",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "download", func(ctx context.Context, a *app.PanelupApp) error {
			out, err := a.Download(ctx)
			report.WriteOutcome(cmd.OutOrStdout(), out, false)
			return err
		})
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show what installing the downloaded release would change",
	RunE: func(cmd *cobra.Command, args []string) error {
		allowCore, _ := cmd.Flags().GetBool("allow-core")
		verbose, _ := cmd.Flags().GetBool("verbose")
		return withApp(cmd, "preview", func(ctx context.Context, a *app.PanelupApp) error {
			out, err := a.Preview(ctx, allowCore)
			report.WriteOutcome(cmd.OutOrStdout(), out, verbose)
			return err
		})
	},
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Back up the installation and apply the downloaded release",
	RunE: func(cmd *cobra.Command, args []string) error {
		allowCore, _ := cmd.Flags().GetBool("allow-core")
		verbose, _ := cmd.Flags().GetBool("verbose")
		return withApp(cmd, "install", func(ctx context.Context, a *app.PanelupApp) error {
			out, err := a.Install(ctx, allowCore)
			report.WriteOutcome(cmd.OutOrStdout(), out, verbose)
			return err
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the downloaded release and start over",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "reset", func(ctx context.Context, a *app.PanelupApp) error {
			if err := a.ResetSession(); err != nil {
				return err
			}
			fmt.Println("Update session cleared.")
			return nil
		})
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View update operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, "history", func(ctx context.Context, a *app.PanelupApp) error {
			ops, err := a.History(limit)
			if err != nil {
				return err
			}
			report.WriteHistory(cmd.OutOrStdout(), ops)
			return nil
		})
	},
}

// backups command
var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "Manage pre-install backups",
}

var backupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local backup snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "backups-list", func(ctx context.Context, a *app.PanelupApp) error {
			snaps, err := a.Backups()
			if err != nil {
				return err
			}
			report.WriteBackups(cmd.OutOrStdout(), snaps)
			return nil
		})
	},
}

var backupsExportsCmd = &cobra.Command{
	Use:   "exports",
	Short: "List backup exports stored in the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "backups-exports", func(ctx context.Context, a *app.PanelupApp) error {
			keys, err := a.Exports()
			if err != nil {
				return err
			}
			report.WriteExports(cmd.OutOrStdout(), keys)
			return nil
		})
	},
}

var backupsPullCmd = &cobra.Command{
	Use:   "pull KEY DEST",
	Short: "Download (and decrypt) a backup export from the vault",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "backups-pull", func(ctx context.Context, a *app.PanelupApp) error {
			var passphrase string
			if filepath.Ext(args[0]) == ".age" {
				var err error
				if passphrase, err = readSecret("Passphrase: "); err != nil {
					return err
				}
			}
			if err := a.PullExport(args[0], passphrase, args[1]); err != nil {
				return err
			}
			fmt.Printf("Export written to %s\n", args[1])
			return nil
		})
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin HTTP surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "serve", func(ctx context.Context, a *app.PanelupApp) error {
			srv, err := a.NewServer()
			if err != nil {
				return err
			}
			httpSrv := srv.HTTPServer()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				fmt.Printf("Listening on %s\n", httpSrv.Addr)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	},
}

// version reports the installed version recorded by the last install.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the installed version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "version", func(ctx context.Context, a *app.PanelupApp) error {
			fmt.Println(a.Service().CurrentVersion())
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "Log debug messages")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("install-root", "", "Directory of the live installation")
	configInitCmd.Flags().String("repository", "", "Release repository as owner/name")
	configInitCmd.Flags().String("current-version", "0.0.0", "Installed version before the first update")
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configCheckCmd)
	configCmd.AddCommand(configKeysCmd)
	configCmd.AddCommand(configAdminPasswordCmd)

	// workflow
	for _, c := range []*cobra.Command{previewCmd, installCmd} {
		c.Flags().Bool("allow-core", false, "Also replace the entry point (index.php) and .htaccess")
		c.Flags().BoolP("verbose", "v", false, "List every file action")
	}

	// backups subcommands
	backupsCmd.AddCommand(backupsListCmd)
	backupsCmd.AddCommand(backupsExportsCmd)
	backupsCmd.AddCommand(backupsPullCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of operations to show")
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
