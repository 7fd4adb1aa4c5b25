package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joshuaslong/labor-membership-sub000/internal/auth"
	"github.com/joshuaslong/labor-membership-sub000/internal/config"
	"github.com/joshuaslong/labor-membership-sub000/internal/ics"
	appLog "github.com/joshuaslong/labor-membership-sub000/internal/log"
	"github.com/joshuaslong/labor-membership-sub000/internal/model"
	"github.com/joshuaslong/labor-membership-sub000/internal/recurrence"
	"github.com/joshuaslong/labor-membership-sub000/internal/schedule"
	"github.com/joshuaslong/labor-membership-sub000/internal/series"
	"github.com/joshuaslong/labor-membership-sub000/internal/store"
	"github.com/joshuaslong/labor-membership-sub000/internal/sweep"
	"github.com/joshuaslong/labor-membership-sub000/internal/web"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is the state shared by subcommands once the config is loaded.
type app struct {
	configPath string
	conf       *config.Config
}

func rootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "chaptercal",
		Short:         "Recurring chapter events with per-occurrence RSVPs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("load config %s: %w", a.configPath, err)
			}
			a.conf = conf
			appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "chaptercal.yaml", "Path to config file")

	cmd.AddCommand(
		a.serveCmd(),
		a.migrateCmd(),
		a.expandCmd(),
		a.describeCmd(),
		a.importCmd(),
		a.sweepCmd(),
		a.tokenCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("chaptercal version %s\n", version)
			},
		},
	)
	return cmd
}

// openStore opens and migrates the configured database.
func (a *app) openStore() (*store.Store, error) {
	st, err := store.Open(a.conf.Database.Driver, a.conf.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func (a *app) serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				a.conf.Listen = listen
			}
			appLog.Info("chaptercal starting",
				"version", version,
				"listen", a.conf.Listen,
				"driver", a.conf.Database.Driver,
				"max_occurrences", a.conf.MaxOccurrences,
				"sweep", a.conf.SweepCron,
			)

			verifier, err := auth.NewVerifier(a.conf.JWTSecret)
			if err != nil {
				return fmt.Errorf("%w (set %s)", err, config.EnvJWTSecret)
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sw := sweep.New(st, series.NewEditor(st, auth.ChapterPolicy{}))
			if err := sw.Schedule(ctx, a.conf.SweepCron); err != nil {
				return fmt.Errorf("schedule sweep: %w", err)
			}

			srv, err := web.NewServer(web.Options{
				Store:          st,
				Verifier:       verifier,
				MaxOccurrences: a.conf.MaxOccurrences,
			})
			if err != nil {
				return err
			}
			if err := srv.Run(ctx, a.conf.Listen); err != nil {
				return err
			}
			appLog.Info("chaptercal exiting")
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			appLog.Info("schema migrated", "driver", a.conf.Database.Driver)
			return nil
		},
	}
}

func (a *app) expandCmd() *cobra.Command {
	var id, from, to string
	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Print the occurrences of a series within a date window",
		RunE: func(cmd *cobra.Command, args []string) error {
			seriesID, err := uuid.Parse(id)
			if err != nil {
				return fmt.Errorf("--series: %w", err)
			}
			var w schedule.Window
			if w.From, err = model.ParseDate(from); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if w.To, err = model.ParseDate(to); err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			_, res, err := schedule.NewMaterializer(st, a.conf.MaxOccurrences).Expand(cmd.Context(), seriesID, w)
			if err != nil {
				return err
			}
			if res.Truncated {
				appLog.Warn("expansion truncated", "series_id", seriesID, "max_occurrences", a.conf.MaxOccurrences)
			}
			return printJSON(cmd, res.Occurrences)
		},
	}
	cmd.Flags().StringVar(&id, "series", "", "Series id")
	cmd.Flags().StringVar(&from, "from", "", "First date of the window (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Last date of the window (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("series")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func (a *app) describeCmd() *cobra.Command {
	var anchor string
	cmd := &cobra.Command{
		Use:   "describe RULE",
		Short: "Canonicalize a recurrence rule and describe it in words",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := recurrence.Parse(args[0])
			if err != nil {
				return err
			}
			out := map[string]any{
				"rule":        recurrence.MustSerialize(r),
				"description": recurrence.Describe(r),
			}
			if anchor != "" {
				d, err := model.ParseDate(anchor)
				if err != nil {
					return fmt.Errorf("--anchor: %w", err)
				}
				out["preset"] = recurrence.Detect(&r, d)
				out["aligned_rule"] = recurrence.MustSerialize(recurrence.Align(r, d))
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&anchor, "anchor", "", "Start date to align the rule to (YYYY-MM-DD)")
	return cmd
}

func (a *app) importCmd() *cobra.Command {
	var file, url, chapter, cacheDir string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create series from an iCalendar file or feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (url == "") {
				return errors.New("exactly one of --file and --url is required")
			}
			if chapter == "" {
				return errors.New("--chapter is required")
			}

			var body []byte
			var err error
			if file != "" {
				body, err = os.ReadFile(file)
			} else {
				body, _, err = ics.NewFetcher(cacheDir).Fetch(cmd.Context(), url)
			}
			if err != nil {
				return err
			}

			items, err := ics.Parse(body, a.conf.Timezone)
			if err != nil {
				return err
			}

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			// The command line acts with admin rights on the named chapter.
			actor := model.Actor{MemberID: uuid.New(), ChapterID: chapter, Role: model.RoleAdmin}
			importer := ics.NewImporter(series.NewEditor(st, auth.ChapterPolicy{}))
			rep, err := importer.Import(cmd.Context(), actor, chapter, items)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"created":    len(rep.Created),
				"skipped":    rep.Skipped,
				"exceptions": rep.Exceptions,
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Path to an .ics file")
	cmd.Flags().StringVar(&url, "url", "", "http(s) or webcal URL of a feed")
	cmd.Flags().StringVar(&chapter, "chapter", "", "Chapter the series are created in")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Directory for the feed cache (empty disables it)")
	return cmd
}

func (a *app) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one integrity sweep and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			rep, err := sweep.New(st, series.NewEditor(st, auth.ChapterPolicy{})).Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, rep)
		},
	}
}

// tokenCmd issues a bearer token, mainly for local testing against serve.
func (a *app) tokenCmd() *cobra.Command {
	var member, chapter, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			verifier, err := auth.NewVerifier(a.conf.JWTSecret)
			if err != nil {
				return fmt.Errorf("%w (set %s)", err, config.EnvJWTSecret)
			}
			id := uuid.New()
			if member != "" {
				if id, err = uuid.Parse(member); err != nil {
					return fmt.Errorf("--member: %w", err)
				}
			}
			tok, err := verifier.Issue(model.Actor{MemberID: id, ChapterID: chapter, Role: model.Role(role)}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&member, "member", "", "Member id (random if empty)")
	cmd.Flags().StringVar(&chapter, "chapter", "", "Chapter id")
	cmd.Flags().StringVar(&role, "role", string(model.RoleMember), "member, organizer or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
