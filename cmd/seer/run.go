package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seer/internal/monitor"
	"github.com/fyrsmithlabs/seer/internal/pipeline"
	"github.com/fyrsmithlabs/seer/internal/ranking"
)

// runFlags are the flags of the run command.
type runFlags struct {
	queries     []string
	userID      string
	role        string
	industries  []string
	interests   []string
	tools       []string
	problems    []string
	numResults  int
	recencyDays int
	country     string
	domains     []string
	jsonOutput  bool
	tui         bool
	verbose     bool
	record      bool
}

var runOpts runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once and print the ranking",
	Long: `Run the retrieval pipeline once for a profile and print the ranked articles.

Examples:
  # Rank AI infrastructure news for a CTO
  seer run -q "AI infrastructure funding" -q "GPU cloud pricing" \
    --role CTO --interest "AI infrastructure" --industry cloud

  # Watch the stages live, then record the delivery for novelty filtering
  seer run -q "robotics funding" --user alice --tui --record

  # Machine readable output
  seer run -q "vector databases" --json`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringArrayVarP(&runOpts.queries, "query", "q", nil, "search query (repeatable)")
	f.StringVar(&runOpts.userID, "user", "", "user ID; enables novelty filtering against past deliveries")
	f.StringVar(&runOpts.role, "role", "", "reader role, e.g. CTO")
	f.StringSliceVar(&runOpts.industries, "industry", nil, "reader industry (repeatable)")
	f.StringSliceVar(&runOpts.interests, "interest", nil, "topic of interest (repeatable)")
	f.StringSliceVar(&runOpts.tools, "tool", nil, "tool or product the reader follows (repeatable)")
	f.StringSliceVar(&runOpts.problems, "problem", nil, "problem the reader is working on (repeatable)")
	f.IntVarP(&runOpts.numResults, "num-results", "n", 0, "results requested across providers, 5-50 (default from config)")
	f.IntVar(&runOpts.recencyDays, "recency-days", 0, "only consider articles from the last N days (default from config)")
	f.StringVar(&runOpts.country, "country", "", "ISO country code to bias results")
	f.StringSliceVar(&runOpts.domains, "domain", nil, "restrict results to this domain (repeatable)")
	f.BoolVar(&runOpts.jsonOutput, "json", false, "print the result as JSON")
	f.BoolVar(&runOpts.tui, "tui", false, "show a live dashboard while the run progresses")
	f.BoolVarP(&runOpts.verbose, "verbose", "v", false, "show URLs, sources and stage timings")
	f.BoolVar(&runOpts.record, "record", false, "record the ranked articles as delivered to --user")
	_ = runCmd.MarkFlagRequired("query")
}

func (f runFlags) profile() ranking.UserProfile {
	return ranking.UserProfile{
		UserID:     f.userID,
		Role:       f.role,
		Industries: f.industries,
		Interests:  f.interests,
		Tools:      f.tools,
		Problems:   f.problems,
	}
}

func (f runFlags) plan() pipeline.QueryPlan {
	return pipeline.QueryPlan{
		Queries:     f.queries,
		NumResults:  f.numResults,
		RecencyDays: f.recencyDays,
		Country:     f.country,
		Domains:     f.domains,
	}
}

func (f runFlags) validate() error {
	if f.record && f.userID == "" {
		return errors.New("--record requires --user")
	}
	if f.tui && f.jsonOutput {
		return errors.New("--tui and --json are mutually exclusive")
	}
	return f.plan().Validate()
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := runOpts.validate(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{stderr: true})
	if err != nil {
		return err
	}
	defer a.close()

	orch, err := pipeline.Build(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer func() {
		if err := orch.Close(); err != nil {
			a.logger.Warn(context.Background(), "pipeline close failed", zap.Error(err))
		}
	}()

	var res *pipeline.Result
	var runErr error
	if runOpts.tui {
		o, err := runWithDashboard(ctx, orch, runOpts)
		if err != nil {
			return err
		}
		res, runErr = o.Result, o.Err
	} else {
		res, runErr = orch.Run(ctx, runOpts.profile(), runOpts.plan())
	}

	if runOpts.record && res != nil && len(res.Documents) > 0 {
		if err := recordDelivery(ctx, orch, runOpts.userID, res); err != nil {
			return err
		}
	}

	if err := writeResult(cmd.OutOrStdout(), res, runErr, runOpts); err != nil {
		return err
	}
	return runErr
}

// pipelineRunner is the part of the orchestrator the dashboard drives.
type pipelineRunner interface {
	Run(ctx context.Context, profile ranking.UserProfile, plan pipeline.QueryPlan, opts ...pipeline.RunOption) (*pipeline.Result, error)
}

// runWithDashboard runs the pipeline behind the BubbleTea dashboard.
// Closing the dashboard cancels the run. The returned error reports
// dashboard failures; run failures are in the Outcome.
func runWithDashboard(ctx context.Context, p pipelineRunner, f runFlags) (monitor.Outcome, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan pipeline.Event, 64)
	sink := pipeline.ProgressFunc(func(_ context.Context, e pipeline.Event) {
		select {
		case events <- e:
		default:
		}
	})

	program := tea.NewProgram(monitor.NewModel(events), tea.WithOutput(os.Stderr))
	done := make(chan monitor.Outcome, 1)
	go func() {
		res, err := p.Run(runCtx, f.profile(), f.plan(), pipeline.WithProgress(sink))
		o := monitor.Outcome{Result: res, Err: err}
		done <- o
		program.Send(monitor.Done(o))
	}()

	_, err := program.Run()
	// A dashboard closed early cancels the run; the outcome still arrives.
	cancel()
	o := <-done
	if err != nil {
		return monitor.Outcome{}, fmt.Errorf("dashboard failed: %w", err)
	}
	return o, nil
}

func recordDelivery(ctx context.Context, orch *pipeline.Orchestrator, userID string, res *pipeline.Result) error {
	store := orch.Store()
	if store == nil {
		return errors.New("no delivery store configured")
	}
	conf, err := store.Record(ctx, userID, res.Documents, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	fmt.Fprintf(os.Stderr, "recorded %d deliveries for %s\n", conf.Count, userID)
	return nil
}

func writeResult(w io.Writer, res *pipeline.Result, runErr error, f runFlags) error {
	if !f.jsonOutput {
		_, err := fmt.Fprintln(w, monitor.RenderResult(res, runErr, monitor.RenderOptions{Verbose: f.verbose}))
		return err
	}
	out := struct {
		*pipeline.Result
		Error string `json:"error,omitempty"`
	}{Result: res}
	if runErr != nil {
		out.Error = runErr.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
