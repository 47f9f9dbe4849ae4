package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tunesync/internal/pipeline"
)

func newUpdateYearsCmd(opts *globalOpts) *cobra.Command {
	var (
		artist string
		album  string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "update-years",
		Short: "Run only the year pipeline over the selected scope",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()
			_, err = a.pipeline.UpdateYears(cmd.Context(), pipeline.Options{
				Force:  force,
				DryRun: opts.dryRun,
				Artist: artist,
				Album:  album,
			})
			return err
		},
	}
	cmd.Flags().StringVar(&artist, "artist", "", "restrict to one artist")
	cmd.Flags().StringVar(&album, "album", "", "restrict to one album")
	cmd.Flags().BoolVar(&force, "force", false, "re-resolve albums already marked pending")
	return cmd
}

func newRevertYearsCmd(opts *globalOpts) *cobra.Command {
	var (
		artist string
		album  string
	)
	cmd := &cobra.Command{
		Use:   "revert-years",
		Short: "Write each matching track's original year back through the agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()
			sum, err := a.pipeline.RevertYears(cmd.Context(), pipeline.Options{
				DryRun: opts.dryRun,
				Artist: artist,
				Album:  album,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reverted %d tracks\n", sum.TracksProcessed)
			return nil
		},
	}
	cmd.Flags().StringVar(&artist, "artist", "", "artist whose years to revert")
	cmd.Flags().StringVar(&album, "album", "", "restrict to one album")
	_ = cmd.MarkFlagRequired("artist")
	return cmd
}

func newCleanArtistCmd(opts *globalOpts) *cobra.Command {
	var artist string
	cmd := &cobra.Command{
		Use:   "clean-artist",
		Short: "Run the cleaning and rename pass for one artist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()
			_, err = a.pipeline.CleanArtist(cmd.Context(), pipeline.Options{
				DryRun: opts.dryRun,
				Artist: artist,
			})
			return err
		},
	}
	cmd.Flags().StringVar(&artist, "artist", "", "artist to clean")
	_ = cmd.MarkFlagRequired("artist")
	return cmd
}

func newVerifyDBCmd(opts *globalOpts) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "verify-db",
		Short: "Check that every projected track still exists in the library",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()
			_, err = a.pipeline.VerifyDB(cmd.Context(), force)
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "ignore the verification interval")
	return cmd
}

func newVerifyPendingCmd(opts *globalOpts) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "verify-pending",
		Short: "Re-resolve pending-verification albums that are due a re-check",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()
			_, err = a.pipeline.VerifyPending(cmd.Context(), pipeline.Options{
				Force:  force,
				DryRun: opts.dryRun,
			})
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-check every entry, due or not")
	return cmd
}

func newBatchCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <file>",
		Short: "Run commands from a file, one per line",
		Long:  "Run commands from a file, one per line, continuing past failures.\nLines are of the form `<command> [args...]`; blank lines and lines\nstarting with # are skipped. Exits non-zero if any line failed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			failed := 0
			lineNo := 0
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				lineNo++
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				if err := cmd.Context().Err(); err != nil {
					return err
				}

				// A fresh command tree per line keeps flag state isolated.
				sub := newRootCmd()
				sub.SetArgs(strings.Fields(line))
				sub.SetOut(cmd.OutOrStdout())
				sub.SetErr(cmd.ErrOrStderr())
				if err := sub.ExecuteContext(cmd.Context()); err != nil {
					failed++
					log.WithField("line", lineNo).WithField("err", err).
						Error("batch line failed")
					fmt.Fprintf(cmd.ErrOrStderr(), "line %d failed: %v\n", lineNo, err)
				}
			}
			if err := scanner.Err(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d batch line(s) failed", failed)
			}
			return nil
		},
	}
}

func newRotateKeysCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-keys",
		Short: "Advance the Discogs token ring and report the active index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			ring := len(a.cfg.APIs.Discogs.Tokens)
			if ring == 0 {
				return fmt.Errorf("no discogs tokens configured")
			}
			idx, err := a.state.RotateToken(ring)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "active discogs token: %d of %d\n", idx+1, ring)
			return nil
		},
	}
}

func newHistoryCmd(opts *globalOpts) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent runs from the history ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			if a.ledger == nil {
				return fmt.Errorf("run history is disabled in the configuration")
			}
			runs, err := a.ledger.Recent(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded yet")
				return nil
			}
			out := cmd.OutOrStdout()
			for _, r := range runs {
				fmt.Fprintf(out, "%s  %-12s %s  seen %s, processed %s, changes %d, errors %d\n",
					r.StartedAt.Local().Format("2006-01-02 15:04"),
					r.Mode,
					humanize.RelTime(r.StartedAt, r.FinishedAt, "", ""),
					humanize.Comma(int64(r.TracksSeen)),
					humanize.Comma(int64(r.TracksProcessed)),
					r.Changes, r.Errors)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}
