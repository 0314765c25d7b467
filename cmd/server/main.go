package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "meetscribe",
		Short: "meetscribe - chunked meeting transcription and minutes",
		Long: "Splits long meeting recordings into overlapping chunks, transcribes them " +
			"through an OpenAI-compatible speech API, stitches and cleans the transcript " +
			"and drafts structured minutes.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// 添加全局标志
	addGlobalFlags(rootCmd)

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newTranscribeCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newSummarizeCmd())
	rootCmd.AddCommand(newEstimateCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newEnvCmd())
	return rootCmd
}
