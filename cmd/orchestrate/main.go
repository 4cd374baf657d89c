package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/catalog"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/inference"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/memory"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/orchestrator"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/server"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "orchestrate",
		Short: "Multi-model orchestration with verification and consensus",
		Long: `orchestrate routes a query to one or more LLMs, runs tools, verifies
	the drafts and merges them into a single answer.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to orchestrator config (defaults to $CONFIG_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline stages to stderr")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(catalogCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}

func cliLogger(cfg *config.Config) (*zap.Logger, error) {
	if !verbose {
		return zap.NewNop(), nil
	}
	obs := cfg.Observability
	obs.Logging.Format = "console"
	return server.NewLogger(obs)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err := server.NewLogger(cfg.Observability)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx, cfg, logger)
		},
	}
}

func askCmd() *cobra.Command {
	var (
		accuracy     int
		maxCost      float64
		maxLatencyMs int64
		preferCheap  bool
		includeTrace bool
		mock         string
		session      string
	)

	cmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Orchestrate a single query and print the result as JSON",
		Long: `Runs the full pipeline once. Use --mock to answer every model call with a
	fixed text, which exercises routing, tools and verification offline.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err := cliLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if session != "" {
				if !memory.ValidScope(session) {
					return fmt.Errorf("invalid --session %q", session)
				}
				ctx = memory.WithScope(ctx, session)
			}

			var opts []orchestrator.BuildOption
			if cmd.Flags().Changed("mock") {
				opts = append(opts, orchestrator.WithRouter(mockRouter(cfg, mock, logger)))
			}
			orch, closer, err := orchestrator.NewFromConfig(ctx, cfg, logger, opts...)
			if err != nil {
				return err
			}
			defer closer()

			budget := models.BudgetConfig{AccuracyLevel: accuracy, PreferCheap: preferCheap}
			if cmd.Flags().Changed("max-cost") {
				budget.MaxCostUSD = &maxCost
			}
			if cmd.Flags().Changed("max-latency-ms") {
				budget.MaxLatencyMs = &maxLatencyMs
			}

			res, err := orch.Orchestrate(ctx, args[0], nil, budget)
			if err != nil {
				_ = printJSON(cmd, map[string]interface{}{"error": models.NewErrorBody(err)})
				return err
			}
			if !includeTrace {
				res.Trace = nil
			}
			return printJSON(cmd, res)
		},
	}

	cmd.Flags().IntVar(&accuracy, "accuracy", models.DefaultAccuracyLevel, "accuracy level 1-5")
	cmd.Flags().Float64Var(&maxCost, "max-cost", 0, "maximum spend in USD")
	cmd.Flags().Int64Var(&maxLatencyMs, "max-latency-ms", 0, "wall-clock deadline in milliseconds")
	cmd.Flags().BoolVar(&preferCheap, "prefer-cheap", false, "favor cheaper models when scores tie")
	cmd.Flags().BoolVar(&includeTrace, "trace", false, "include the orchestration trace")
	cmd.Flags().StringVar(&mock, "mock", "", "answer every model call with this text instead of calling providers")
	cmd.Flags().StringVar(&session, "session", "", "memory scope; related answers from the same session seed the prompt")
	return cmd
}

// mockRouter serves every catalog provider from one canned MockProvider.
func mockRouter(cfg *config.Config, text string, logger *zap.Logger) *inference.Router {
	if text == "" {
		text = "No answer available."
	}
	mock := inference.NewMockProvider(models.ProviderMock).WithDefault(text)
	router := inference.NewRouter(cfg.Providers, logger.Named("inference"))
	for _, name := range []string{
		models.ProviderOpenAI, models.ProviderAnthropic, models.ProviderGoogle,
		models.ProviderDeepSeek, models.ProviderXAI, models.ProviderMistral,
		models.ProviderOllama, models.ProviderMock,
	} {
		router.Register(name, mock)
	}
	return router
}

func catalogCmd() *cobra.Command {
	var capability string

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the models in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cat, err := catalog.NewFileProvider(cfg.Catalog.Path, zap.NewNop())
			if err != nil {
				return err
			}
			profiles, err := cat.GetModels(cmd.Context(), catalog.Filter{})
			if err != nil {
				return err
			}

			capab := models.Capability(strings.ToLower(capability))
			if capab != "" {
				sort.SliceStable(profiles, func(i, j int) bool {
					return profiles[i].Score(capab) > profiles[j].Score(capab)
				})
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tPROVIDER\tLATENCY\tIN/1K\tOUT/1K\tSCORE")
			for _, p := range profiles {
				score := "-"
				if capab != "" {
					score = fmt.Sprintf("%.2f", p.Score(capab))
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%.4f\t%.4f\t%s\n",
					p.ID, p.Provider, p.LatencyClass, p.CostPer1KInput, p.CostPer1KOutput, score)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&capability, "capability", "", "sort by capability score (reasoning, coding, math, factual, creative, research, judge)")
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
