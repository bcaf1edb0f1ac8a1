package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/seer/internal/pipeline"
	"github.com/fyrsmithlabs/seer/internal/ranking"
)

type explainFlags struct {
	item       pipeline.ExplainItem
	role       string
	industries []string
	interests  []string
	tools      []string
	problems   []string
	jsonOutput bool
}

var explainOpts explainFlags

var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Explain the heuristic score of one article",
	Long: `Score one article the way the pipeline's heuristic stage does and show the
recency, source authority and profile match components. No provider is
contacted, so no API keys are needed.

Examples:
  seer explain --url https://www.reuters.com/technology/robotics-funding \
    --title "Robotics startup funding hits record" --date 2025-03-14 \
    --interest robotics`,
	Args: cobra.NoArgs,
	RunE: runExplain,
}

func init() {
	f := explainCmd.Flags()
	f.StringVar(&explainOpts.item.URL, "url", "", "article URL")
	f.StringVar(&explainOpts.item.Title, "title", "", "article title")
	f.StringVar(&explainOpts.item.Snippet, "snippet", "", "article text or summary")
	f.StringVar(&explainOpts.item.PublishedDate, "date", "", "publication date in any common format")
	f.StringVar(&explainOpts.role, "role", "", "reader role, e.g. CTO")
	f.StringSliceVar(&explainOpts.industries, "industry", nil, "reader industry (repeatable)")
	f.StringSliceVar(&explainOpts.interests, "interest", nil, "topic of interest (repeatable)")
	f.StringSliceVar(&explainOpts.tools, "tool", nil, "tool or product the reader follows (repeatable)")
	f.StringSliceVar(&explainOpts.problems, "problem", nil, "problem the reader is working on (repeatable)")
	f.BoolVar(&explainOpts.jsonOutput, "json", false, "print the breakdown as JSON")
}

func (f explainFlags) profile() ranking.UserProfile {
	return ranking.UserProfile{
		Role:       f.role,
		Industries: f.industries,
		Interests:  f.interests,
		Tools:      f.tools,
		Problems:   f.problems,
	}
}

func runExplain(cmd *cobra.Command, args []string) error {
	if explainOpts.item.URL == "" && explainOpts.item.Title == "" {
		return errors.New("--url or --title is required")
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{unchecked: true, stderr: true})
	if err != nil {
		return err
	}
	defer a.close()

	scorer, watcher, err := pipeline.BuildScorer(a.cfg, a.logger)
	if err != nil {
		return err
	}
	if watcher != nil {
		watcher.Stop()
	}

	exp, err := pipeline.Explain(scorer, explainOpts.item, explainOpts.profile())
	if err != nil {
		return err
	}
	return writeExplanation(cmd.OutOrStdout(), exp, explainOpts.jsonOutput)
}

func writeExplanation(w io.Writer, exp pipeline.Explanation, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(exp)
	}
	_, err := fmt.Fprintf(w, "%s\nAuthority tier: %s\n", exp.Text, ranking.AuthorityTier(exp.Breakdown.Authority))
	return err
}
