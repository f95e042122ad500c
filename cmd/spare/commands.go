package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Chapsvision-dev/spare/internal/backup"
	"github.com/Chapsvision-dev/spare/internal/config"
	"github.com/Chapsvision-dev/spare/internal/provider"
	"github.com/Chapsvision-dev/spare/internal/restore"
	"github.com/Chapsvision-dev/spare/internal/version"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "spare",
		Short:         "Archive local files and keep a fixed number of versions in cloud storage",
		Version:       version.Info(),
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initConfig(); err != nil {
				return runtimeError{fmt.Errorf("initialize config dir: %w", err)}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return errors.New("missing command")
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: "+config.FilePath()+")")

	root.AddCommand(backupCmd(&configPath))
	root.AddCommand(listCmd(&configPath))
	root.AddCommand(restoreCmd(&configPath))
	root.AddCommand(authCmd(&configPath))
	root.AddCommand(versionCmd())
	return root
}

// openProfile loads the profile and builds its destination.
func openProfile(configPath, profileName string) (config.Config, provider.Destination, error) {
	cfg, err := loadConfig(configPath, profileName)
	if err != nil {
		log.Error().Err(err).Str("profile", profileName).Msg("config error")
		return config.Config{}, nil, runtimeError{err}
	}
	dest, err := newDest(cfg.Profile.Provider, cfg)
	if err != nil {
		log.Error().Err(err).Str("provider", cfg.Profile.Provider).Msg("provider init error")
		return config.Config{}, nil, runtimeError{err}
	}
	return cfg, dest, nil
}

func profileFlag(cmd *cobra.Command, profile *string) {
	cmd.Flags().StringVarP(profile, "profile", "p", "", "Profile name from the config file")
	_ = cmd.MarkFlagRequired("profile")
}

func backupCmd(configPath *string) *cobra.Command {
	var profile string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the profile sources, upload them and prune old versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dest, err := openProfile(*configPath, profile)
			if err != nil {
				return err
			}
			res, err := runBackup(cmd.Context(), cfg.Profile, dest, backup.Options{})
			if err != nil {
				log.Error().Err(err).Str("action", "backup").Str("profile", profile).Msg("backup failed")
				return runtimeError{err}
			}
			switch {
			case res.Disabled:
				fmt.Fprintf(cmd.OutOrStdout(), "%s: backup disabled (versions <= 0)\n", profile)
			case res.State == backup.Abandoned:
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no destination folder, nothing uploaded\n", profile)
			case res.Archive != nil:
				fmt.Fprintf(cmd.OutOrStdout(), "%s: uploaded %s, deleted %d old archive(s)\n",
					profile, res.Archive.Name, len(res.Deleted))
			}
			return nil
		},
	}
	profileFlag(cmd, &profile)
	return cmd
}

func listCmd(configPath *string) *cobra.Command {
	var profile string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the archives stored for a profile, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dest, err := openProfile(*configPath, profile)
			if err != nil {
				return err
			}
			cat, err := browse(cmd.Context(), cfg.Profile, dest)
			if err != nil {
				log.Error().Err(err).Str("action", "list").Str("profile", profile).Msg("list failed")
				return runtimeError{err}
			}

			table := uitable.New()
			table.MaxColWidth = 50
			table.AddRow("ARCHIVE", "CREATED", "SIZE")
			for _, a := range cat.Archives {
				table.AddRow(a.File.Name, humanize.Time(a.Timestamp), humanize.IBytes(uint64(a.File.Size)))
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d archive(s) in %s", len(cat.Archives), cat.Folder.Name)
			if n := len(cat.Foreign); n > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), ", %d other entr%s ignored", n, plural(n, "y", "ies"))
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	profileFlag(cmd, &profile)
	return cmd
}

func restoreCmd(configPath *string) *cobra.Command {
	var profile string
	var opts restore.Options
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Download the newest (or a named) archive of a profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dest, err := openProfile(*configPath, profile)
			if err != nil {
				return err
			}
			start := time.Now()
			res, err := runRestore(cmd.Context(), cfg.Profile, dest, opts)
			if err != nil {
				log.Error().Err(err).Str("action", "restore").Str("profile", profile).Msg("restore failed")
				return runtimeError{err}
			}
			log.Info().Str("action", "restore").Str("profile", profile).Str("archive", res.Archive.Name).
				Dur("elapsed_ms", time.Since(start)).Msg("restore OK")
			if res.ExtractedTo != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: extracted %d file(s) to %s\n", profile, res.Files, res.ExtractedTo)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: downloaded %s\n", profile, res.LocalPath)
			}
			return nil
		},
	}
	profileFlag(cmd, &profile)
	cmd.Flags().StringVarP(&opts.Archive, "archive", "a", "", "Archive name to restore (default: newest)")
	cmd.Flags().StringVarP(&opts.OutputDir, "output", "o", ".", "Directory to download into")
	cmd.Flags().BoolVarP(&opts.Extract, "extract", "x", false, "Extract the archive after download")
	return cmd
}

func authCmd(configPath *string) *cobra.Command {
	var profile string
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Acquire and store provider credentials for a profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, dest, err := openProfile(*configPath, profile)
			if err != nil {
				return err
			}
			if err := dest.Open(cmd.Context()); err != nil {
				log.Error().Err(err).Str("action", "auth").Str("profile", profile).Msg("authentication failed")
				return runtimeError{err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: authenticated with %s\n", profile, dest.Name())
			return nil
		},
	}
	profileFlag(cmd, &profile)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Skip config initialization.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "spare %s\n", version.Info())
		},
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
