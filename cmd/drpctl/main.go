// Command drpctl drives a running drpactor over its HTTP command layer.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"drpactor/internal/engine"
	"drpactor/internal/model"

	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
)

// RootOptions global flags of every subcommand
type RootOptions struct {
	Server  string
	APIKey  string
	Timeout time.Duration
}

func (o *RootOptions) client() *Client {
	return NewClient(o.Server, o.APIKey, o.Timeout)
}

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// NewRootCommand creates the drpctl command tree
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "drpctl",
		Short:         "Command the PFS data reduction orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", envOr("DRPACTOR_URL", "http://localhost:8080"), "drpactor base URL")
	cmd.PersistentFlags().StringVar(&opts.APIKey, "api-key", os.Getenv("DRPACTOR_API_KEY"), "bearer token")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "request timeout")

	cmd.AddCommand(
		newExposureCommand(opts),
		newPfsConfigCommand(opts),
		newVisitCommand(opts),
		newShowCommand(opts),
		newForgetCommand(opts),
		newIngestStatusCommand(opts),
		newDetrendStatusCommand(opts),
		newGroupCommand(opts),
		newReduceCommand(opts),
		newInFlightCommand(opts),
		newLeftOversCommand(opts),
		newSettingsCommand(opts),
		newDotRoachCommand(opts),
		newStatusCommand(opts),
	)
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printJSON(w io.Writer, raw []byte) error {
	_, err := w.Write(pretty.Pretty(raw))
	return err
}

func visitArg(s string) (int, error) {
	visit, err := strconv.Atoi(s)
	if err != nil || visit < 0 {
		return 0, fmt.Errorf("invalid visit %q", s)
	}
	return visit, nil
}

// visitCommand builds a command taking a single visit argument
func visitCommand(opts *RootOptions, use, short string, fn func(c *Client, ctx context.Context, visit int) ([]byte, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <visit>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			visit, err := visitArg(args[0])
			if err != nil {
				return err
			}
			raw, err := fn(opts.client(), cmd.Context(), visit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
}

func newExposureCommand(opts *RootOptions) *cobra.Command {
	var req model.ExposureRequest
	cmd := &cobra.Command{
		Use:   "exposure [path]",
		Short: "Announce a raw file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				req.Path = args[0]
			}
			raw, err := opts.client().NewExposure(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
	cmd.Flags().StringVar(&req.Root, "root", "", "raw data root")
	cmd.Flags().StringVar(&req.Night, "night", "", "night directory")
	cmd.Flags().StringVar(&req.Filename, "filename", "", "raw file name")
	return cmd
}

func newPfsConfigCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pfsconfig <visit> [path]",
		Short: "Declare the configuration file of a visit",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			visit, err := visitArg(args[0])
			if err != nil {
				return err
			}
			path := ""
			if len(args) == 2 {
				path = args[1]
			}
			raw, err := opts.client().NewPfsConfig(cmd.Context(), visit, path)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
}

func newVisitCommand(opts *RootOptions) *cobra.Command {
	return visitCommand(opts, "visit", "Signal that every channel of a visit has reported", (*Client).NewVisit)
}

func newForgetCommand(opts *RootOptions) *cobra.Command {
	return visitCommand(opts, "forget", "Evict a visit from the orchestrator", (*Client).ForgetVisit)
}

func newIngestStatusCommand(opts *RootOptions) *cobra.Command {
	return visitCommand(opts, "ingest-status", "Re-emit the ingest status of a visit", (*Client).GenIngestStatus)
}

func newDetrendStatusCommand(opts *RootOptions) *cobra.Command {
	return visitCommand(opts, "detrend-status", "Emit the detrend status of a visit", (*Client).GenDetrendStatus)
}

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return visitCommand(opts, "status", "Show the status history of a visit", (*Client).VisitStatus)
}

func newShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show [visit]",
		Short: "Show one or every resident visit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			var (
				raw []byte
				err error
			)
			if len(args) == 1 {
				visit, perr := visitArg(args[0])
				if perr != nil {
					return perr
				}
				raw, err = c.Visit(cmd.Context(), visit)
			} else {
				raw, err = c.Visits(cmd.Context())
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
}

func newGroupCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "group <sequence-id> <visits>",
		Short: "Reduce a sequence of visits together (visits as a..b or a^b^c)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid sequence id %q", args[0])
			}
			raw, err := opts.client().NewVisitGroup(cmd.Context(), seq, args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
}

func newReduceCommand(opts *RootOptions) *cobra.Command {
	var req model.ReduceRequest
	cmd := &cobra.Command{
		Use:   "reduce",
		Short: "Run a reduction pipeline on a where clause or visit list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Where == "" && req.Visits == "" {
				return fmt.Errorf("one of --where or --visits is required")
			}
			resp, err := opts.client().Reduce(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted %s where %s\n", resp.ItemID, resp.Where)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Where, "where", "", "data query")
	cmd.Flags().StringVar(&req.Visits, "visits", "", "visit list (a..b or a^b^c)")
	cmd.Flags().StringVar(&req.Pipeline, "pipeline", "", "pipeline definition, defaults to the reduce pipeline")
	return cmd
}

func newInFlightCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inflight",
		Short: "List outstanding work",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.client().InFlight(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
}

func newLeftOversCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "leftovers",
		Short: "List visits never processed or whose reduction failed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.client().LeftOvers(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
}

var settingsFlags = []string{"auto-ingest", "auto-detrend", "auto-reduce", "detector-map-qa", "extraction-qa", "copy-design"}

func newSettingsCommand(opts *RootOptions) *cobra.Command {
	var s struct {
		ingest, detrend, reduce, dmQa, exQa, copyDesign bool
	}
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or override the runtime toggles",
		Long:  "Without flags, show the toggles. Toggles not given revert to their configured default.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			changed := false
			for _, name := range settingsFlags {
				changed = changed || cmd.Flags().Changed(name)
			}
			if !changed {
				raw, err := c.Settings(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), raw)
			}

			var o engine.SettingsOverride
			pick := func(name string, v bool) *bool {
				if !cmd.Flags().Changed(name) {
					return nil
				}
				return &v
			}
			o.DoAutoIngest = pick("auto-ingest", s.ingest)
			o.DoAutoDetrend = pick("auto-detrend", s.detrend)
			o.DoAutoReduce = pick("auto-reduce", s.reduce)
			o.DoDetectorMapQa = pick("detector-map-qa", s.dmQa)
			o.DoExtractionQa = pick("extraction-qa", s.exQa)
			o.DoCopyDesignToPfsConfigDir = pick("copy-design", s.copyDesign)

			raw, err := c.SetSettings(cmd.Context(), o)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
	cmd.Flags().BoolVar(&s.ingest, "auto-ingest", false, "ingest visits automatically")
	cmd.Flags().BoolVar(&s.detrend, "auto-detrend", false, "detrend ingested visits")
	cmd.Flags().BoolVar(&s.reduce, "auto-reduce", false, "reduce ingested visits")
	cmd.Flags().BoolVar(&s.dmQa, "detector-map-qa", false, "run detector map QA after reduction")
	cmd.Flags().BoolVar(&s.exQa, "extraction-qa", false, "run extraction QA after reduction")
	cmd.Flags().BoolVar(&s.copyDesign, "copy-design", false, "copy designs to the pfsConfig directory")
	return cmd
}

func newDotRoachCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dotroach",
		Short: "Fiber convergence loop",
	}

	var keepMoving bool
	start := &cobra.Command{
		Use:   "start <root> <mask-file>",
		Short: "Start a run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.client().StartDotRoach(cmd.Context(), model.DotRoachStartRequest{
				Root: args[0], MaskFile: args[1], KeepMoving: keepMoving,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
	start.Flags().BoolVar(&keepMoving, "keep-moving", false, "publish the full mask every round")

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Finish the run and archive its output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.client().StopDotRoach(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}

	phase := &cobra.Command{
		Use:       "phase <phase2|phase3>",
		Short:     "Request the next phase",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"phase2", "phase3"},
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.client().DotRoachPhase(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := opts.client().DotRoachStatus(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}

	wait := &cobra.Command{
		Use:   "wait <round>",
		Short: "Block until the mask of a round is published",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			round, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid round %q", args[0])
			}
			raw, err := opts.client().WaitDotRoachResult(cmd.Context(), round)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}

	cmd.AddCommand(start, stop, phase, status, wait)
	return cmd
}
