package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/iqsf/safetyindex/internal/academic"
	"github.com/iqsf/safetyindex/internal/config"
	"github.com/iqsf/safetyindex/internal/curriculum"
	"github.com/iqsf/safetyindex/internal/database"
	"github.com/iqsf/safetyindex/internal/gather"
	"github.com/iqsf/safetyindex/internal/llm"
	"github.com/iqsf/safetyindex/internal/narrate"
	"github.com/iqsf/safetyindex/internal/pgstore"
	"github.com/iqsf/safetyindex/internal/pipeline"
	"github.com/iqsf/safetyindex/internal/plan"
	"github.com/iqsf/safetyindex/internal/score"
	"github.com/iqsf/safetyindex/internal/server"
	"github.com/iqsf/safetyindex/internal/store"
	"github.com/iqsf/safetyindex/internal/verify"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "safetyindex",
	Short:   "Global Queer Safety Index report pipeline",
	Long:    "safetyindex advances per-country safety reports through plan, gather, score, and narrate stages coordinated through a shared store.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reportsCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(gatherCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(narrateCmd)
	rootCmd.AddCommand(curriculumCmd)
	rootCmd.AddCommand(academicCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("safetyindex", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/safetyindex/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure storage and the generation provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline status",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.GetStats(context.Background())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("Reports:")
		fmt.Printf("  Total: %d\n", stats.TotalReports)
		fmt.Printf("  Planning: %d\n", stats.Planning)
		fmt.Printf("  Researching: %d\n", stats.Researching)
		fmt.Printf("  Review: %d\n", stats.Review)
		fmt.Printf("  Complete: %d\n", stats.Complete)
		fmt.Printf("  Plan failed: %d\n", stats.PlanFailed)
		fmt.Printf("  Scoring failed: %d\n", stats.ScoringFailed)
		fmt.Println("\nQuestions:")
		fmt.Printf("  Total: %d\n", stats.TotalQuestions)
		fmt.Printf("  Pending: %d\n", stats.Pending)
		fmt.Printf("  Answered: %d\n", stats.Answered)
		fmt.Printf("  Research failed: %d\n", stats.ResearchFailed)
		fmt.Printf("  Save failed: %d\n", stats.SaveFailed)
		fmt.Println("\nOutput:")
		fmt.Printf("  Evidence items: %d\n", stats.EvidenceItems)
		fmt.Printf("  Scores: %d\n", stats.Scores)
		fmt.Printf("  Narratives: %d\n", stats.Narratives)
		return nil
	},
}

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		reports, err := st.ListReports(context.Background())
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			fmt.Println("No reports. Start one with: safetyindex plan --country <name>")
			return nil
		}

		for _, r := range reports {
			created := ""
			if r.CreatedAt != nil {
				created = *r.CreatedAt
			}
			fmt.Printf("  [%d] %-25s %-15s %s\n", r.ID, r.Country, r.Status, created)
		}
		return nil
	},
}

// --- plan command ---

var (
	planCountry string
	planPillar  int
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Create a report and generate its research questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		pillarID := cfg.Research.PillarID
		if planPillar != 0 {
			pillarID = planPillar
		}

		planner := plan.NewPlanner(st, newProvider(), pillarID)
		result, err := planner.Plan(context.Background(), planCountry)
		if err != nil {
			return err
		}

		if result.ReportID == 0 {
			fmt.Printf("A report for %s is already in flight. Nothing to do.\n", planCountry)
			return nil
		}
		if result.Questions == 0 {
			fmt.Printf("Report %d created but no questions could be generated (PLAN_FAILED).\n", result.ReportID)
			return nil
		}
		fmt.Printf("Report %d created for %s with %d research questions", result.ReportID, planCountry, result.Questions)
		if result.DimensionsFailed > 0 {
			fmt.Printf(" (%d dimensions failed)", result.DimensionsFailed)
		}
		fmt.Println(".")
		fmt.Println("Run 'safetyindex gather' to research them.")
		return nil
	},
}

func init() {
	planCmd.Flags().StringVar(&planCountry, "country", "", "Country to research (required)")
	planCmd.Flags().IntVar(&planPillar, "pillar", 0, "Override pillar ID")
	planCmd.MarkFlagRequired("country")
}

// --- gather command ---

var gatherWorkers int

var gatherCmd = &cobra.Command{
	Use:   "gather",
	Short: "Research pending questions until none remain",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		workers := cfg.Research.Workers
		if gatherWorkers != 0 {
			workers = gatherWorkers
		}

		gatherer := gather.NewGatherer(st, newProvider())
		result, err := gatherer.Run(context.Background(), workers)
		if err != nil {
			return err
		}

		if result.Processed() == 0 {
			fmt.Println("No pending questions found.")
			return nil
		}
		fmt.Printf("Resolved %d questions: %d complete, %d research failed, %d save failed.\n",
			result.Processed(), result.Completed, result.ResearchFailed, result.SaveFailed)
		return nil
	},
}

func init() {
	gatherCmd.Flags().IntVar(&gatherWorkers, "workers", 0, "Number of concurrent workers")
}

// --- score command ---

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score one report whose research is finished",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		scorer := score.NewScorer(st, newProvider())
		outcome, err := scorer.ScoreOne(context.Background())
		if err != nil {
			return err
		}

		if outcome == nil {
			fmt.Println("No reports ready for scoring.")
			return nil
		}
		if outcome.Status == store.ReportScoringFailed {
			fmt.Printf("Report %d (%s) could not be scored and is marked SCORING_FAILED.\n", outcome.ReportID, outcome.Country)
			return nil
		}
		fmt.Printf("Report %d (%s) scored %.1f and is now in REVIEW.\n", outcome.ReportID, outcome.Country, outcome.OverallScore)
		return nil
	},
}

// --- narrate command ---

var narrateCmd = &cobra.Command{
	Use:   "narrate",
	Short: "Write the narrative for one scored report",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		narrator := narrate.NewNarrator(st, newProvider())
		outcome, err := narrator.NarrateOne(context.Background())
		if err != nil {
			return err
		}

		if outcome == nil {
			fmt.Println("No reports ready for narration.")
			return nil
		}
		if !outcome.Narrated {
			fmt.Printf("Narration for report %d (%s) failed; it stays in REVIEW for retry.\n", outcome.ReportID, outcome.Country)
			return nil
		}
		fmt.Printf("Report %d (%s) narrated and COMPLETE.\n", outcome.ReportID, outcome.Country)
		return nil
	},
}

// --- curriculum command ---

var curriculumReportID int64

var curriculumCmd = &cobra.Command{
	Use:   "curriculum",
	Short: "Generate a course blueprint from a completed report",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		dev := curriculum.NewDeveloper(st, newProvider())
		bp, err := dev.Develop(context.Background(), curriculumReportID)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(bp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	curriculumCmd.Flags().Int64VarP(&curriculumReportID, "report", "r", 0, "Report ID to transform (required)")
	curriculumCmd.MarkFlagRequired("report")
}

// --- academic command ---

var (
	academicReportID int64
	academicOutDir   string
)

var academicCmd = &cobra.Command{
	Use:   "academic",
	Short: "Generate an academic paper from a completed report",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		dir := academicOutDir
		if dir == "" {
			dir = cfg.Output.PaperDir
		}

		writer := academic.NewWriter(st, newProvider())
		path, err := writer.Write(context.Background(), academicReportID, dir)
		if err != nil {
			return err
		}
		fmt.Printf("Academic paper saved to: %s\n", path)
		return nil
	},
}

func init() {
	academicCmd.Flags().Int64VarP(&academicReportID, "report", "r", 0, "Report ID to transform (required)")
	academicCmd.Flags().StringVar(&academicOutDir, "out", "", "Output directory (default from config)")
	academicCmd.MarkFlagRequired("report")
}

// --- verify command ---

var verifyReportID int64

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check a report's evidence citations over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		checker := verify.NewChecker(st, 15*time.Second)
		result, err := checker.CheckReport(context.Background(), verifyReportID)
		if err != nil {
			return err
		}

		if result.Checked == 0 {
			fmt.Println("No cited sources to check.")
			return nil
		}
		fmt.Printf("Checked %d citations: %d ok, %d broken.\n", result.Checked, result.OK, result.Broken)
		for _, f := range result.Findings {
			switch {
			case !f.OK:
				fmt.Printf("  BROKEN  %s (%s)\n", f.URL, f.Reason)
			case !f.TitleMatched:
				fmt.Printf("  CHANGED %s (no longer resembles %q)\n", f.URL, f.Title)
			default:
				fmt.Printf("  OK      %s\n", f.URL)
			}
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().Int64VarP(&verifyReportID, "report", "r", 0, "Report ID to check (required)")
	verifyCmd.MarkFlagRequired("report")
}

// --- run command ---

var (
	runCountry string
	runDry     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline for one country: plan -> gather -> score -> narrate",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		pipe := pipeline.New(cfg, st, newProvider())

		var result *pipeline.Result
		if runDry {
			result, err = pipe.DryRun(context.Background())
			if err != nil {
				return err
			}
		} else {
			if runCountry == "" {
				return fmt.Errorf("--country is required unless --dry-run is set")
			}
			result = pipe.Run(context.Background(), runCountry)
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}

		if !runDry {
			fmt.Println("\nPipeline finished. Run 'safetyindex serve' to review the report.")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runCountry, "country", "", "Country to run the pipeline for")
	runCmd.Flags().BoolVar(&runDry, "dry-run", false, "Show claimable work without executing")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local review web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		port := cfg.Server.Port
		if servePort != 0 {
			port = servePort
		}

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(st, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

func openStore() (store.Store, error) {
	switch cfg.Storage.Driver {
	case "", "sqlite":
		dataDir := cfg.GetDataDir()
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return database.Open(filepath.Join(dataDir, "safetyindex.db"))
	case "postgres":
		return pgstore.Open(cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func newProvider() llm.Provider {
	g := cfg.Generation
	return llm.CreateProvider(g.Provider, g.Model, g.OllamaURL, g.OpenAIModel, g.APIKeyEnv)
}
