// Package main is the CLI entry point for threatline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/threatline/threatline/internal/analysis"
	"github.com/threatline/threatline/internal/config"
	"github.com/threatline/threatline/internal/logging"
	"github.com/threatline/threatline/internal/logparse"
	"github.com/threatline/threatline/internal/mitre"
	"github.com/threatline/threatline/internal/notify"
	"github.com/threatline/threatline/internal/orchestrator"
	"github.com/threatline/threatline/internal/rules"
	"github.com/threatline/threatline/internal/storage"
	"go.uber.org/zap"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "threatline <evidence-file>",
		Short: "Analyze an evidence artifact: detection rules, threat score, MITRE mapping, timeline",
		Long: `threatline ingests one uploaded evidence artifact, runs Sigma detection
rules against its extracted log events, aggregates the matches into a
bounded threat score, maps them onto MITRE ATT&CK techniques and tactics,
and merges everything into a sorted, annotated timeline.`,
		Args:          cobra.ExactArgs(1),
		RunE:          runAnalyze,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Flags().StringP("config", "c", "config.toml", "path to config file")
	rootCmd.Flags().String("parser", "", "preferred parser id (jsonl, syslog, text)")
	rootCmd.Flags().Bool("no-mitre", false, "skip MITRE technique/tactic mapping")
	rootCmd.Flags().Bool("no-timeline", false, "skip timeline construction")
	rootCmd.Flags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	rootCmd.AddCommand(newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// pipeline bundles the wired collaborators.
type pipeline struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *storage.FS
	notifier *notify.Queue
	orch     *orchestrator.Orchestrator
}

// buildPipeline wires storage, parsers, the rule engine, and the
// notifier into an orchestrator from config.
func buildPipeline(cfg *config.Config, verbose bool) (*pipeline, error) {
	log, err := logging.New(cfg.Log.Level, verbose)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewFS(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	var engine *rules.Engine
	if cfg.Rules.Dir != "" {
		engine, err = rules.NewFromDir(cfg.Rules.Dir, log)
	} else {
		engine, err = rules.NewDefault(log)
	}
	if err != nil {
		return nil, fmt.Errorf("rule engine: %w", err)
	}

	notifier := notify.NewQueue(log, 128)
	orch := orchestrator.New(store, logparse.Default(), engine, notifier, mitre.Builtin(), log)

	return &pipeline{cfg: cfg, log: log, store: store, notifier: notifier, orch: orch}, nil
}

func (p *pipeline) close() {
	p.notifier.Close()
	p.log.Sync() //nolint:errcheck
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	preferred, _ := cmd.Flags().GetString("parser")
	noMITRE, _ := cmd.Flags().GetBool("no-mitre")
	noTimeline, _ := cmd.Flags().GetBool("no-timeline")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	p, err := buildPipeline(cfg, verbose)
	if err != nil {
		return err
	}
	defer p.close()

	uploadID, err := p.store.ImportUpload(args[0])
	if err != nil {
		return fmt.Errorf("import evidence: %w", err)
	}

	opts := orchestrator.Options{
		PreferredParser: preferred,
		EnableMITRE:     cfg.Analysis.MITRE && !noMITRE,
		EnableTimeline:  cfg.Analysis.Timeline && !noTimeline,
	}

	a, err := p.orch.Run(cmd.Context(), uploadID, opts)
	if err != nil && a == nil {
		return err
	}

	printResult(a)
	if a.Status == analysis.StatusFailed {
		return fmt.Errorf("analysis failed: %s", a.ErrorMessage)
	}
	return nil
}

// printResult writes the final report to stdout.
func printResult(a *analysis.Analysis) {
	fmt.Printf("\n=== threatline Report ===\n")
	fmt.Printf("Analysis: %s\n", a.ID)
	fmt.Printf("File: %s (%d bytes)\n", a.FileName, a.FileSize)
	fmt.Printf("SHA-256: %s\n", a.SHA256)
	fmt.Printf("Status: %s\n", a.Status)
	fmt.Printf("Threat score: %d (%s)\n", a.ThreatScore, a.Severity)
	fmt.Printf("Events: %d | Matches: %d\n", a.Statistics.EventCount, a.Statistics.MatchCount)
	if a.MITRE != nil {
		fmt.Printf("Techniques: %d | Tactics: %d | MITRE score: %d\n",
			len(a.MITRE.Techniques), len(a.MITRE.Tactics), a.MITRE.OverallScore)
	}
	if a.Timeline != nil {
		fmt.Printf("Timeline events: %d (%d anomalous)\n",
			a.Timeline.Stats.TotalEvents, a.Timeline.Stats.AnomalousCount)
	}
	if a.Summary != "" {
		fmt.Printf("%s\n", a.Summary)
	}
}
