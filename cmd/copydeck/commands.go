package main

import (
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:           "copydeck",
		Short:         "Generate grounded marketing copy for a product",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background job worker",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	generateCmd = &cobra.Command{
		Use:   "generate",
		Short: "Run one generation request and print the result JSON",
		Long: `Runs the full stage plan for one product, printing progress to stderr
and the encoded result to stdout. Identical requests are answered from the
cache configured for the server.`,
		Args: cobra.NoArgs,
		RunE: runGenerate,
	}

	planCmd = &cobra.Command{
		Use:   "plan",
		Short: "Print the stage plan and its execution groups",
		Args:  cobra.NoArgs,
		RunE:  runPlan,
	}

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the result cache",
	}

	cacheStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print durable cache statistics",
		Args:  cobra.NoArgs,
		RunE:  runCacheStats,
	}

	cachePruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Delete expired cache entries",
		Args:  cobra.NoArgs,
		RunE:  runCachePrune,
	}

	cacheInvalidateCmd = &cobra.Command{
		Use:   "invalidate <fingerprint>",
		Short: "Remove one cached result",
		Args:  cobra.ExactArgs(1),
		RunE:  runCacheInvalidate,
	}
)

var (
	genProduct  string
	genKeywords []string
	genURL      string
	genLanguage string
	genTone     string
	genAudience string
	genQuiet    bool
)

func init() {
	generateCmd.Flags().StringVarP(&genProduct, "product", "p", "", "product name (required)")
	generateCmd.Flags().StringSliceVarP(&genKeywords, "keyword", "k", nil, "target keyword, repeatable or comma separated (required)")
	generateCmd.Flags().StringVar(&genURL, "url", "", "product page to extract as primary content")
	generateCmd.Flags().StringVar(&genLanguage, "language", "", "output language (default en)")
	generateCmd.Flags().StringVar(&genTone, "tone", "", "tone of voice")
	generateCmd.Flags().StringVar(&genAudience, "audience", "", "target audience")
	generateCmd.Flags().BoolVarP(&genQuiet, "quiet", "q", false, "do not print progress events")
	generateCmd.MarkFlagRequired("product")
	generateCmd.MarkFlagRequired("keyword")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
}
