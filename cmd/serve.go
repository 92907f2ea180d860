package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/llmbridge/transllm/internal/config"
	"github.com/llmbridge/transllm/internal/process"
	"github.com/llmbridge/transllm/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the translation proxy",
	Long:  `Start the LLM format-translation proxy in the foreground.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logFile, _ := cmd.Flags().GetBool("log-file")
	setupLogging(verbose, logFile)

	if err := ensureConfigExists(); err != nil {
		return err
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("starting server",
		"host", cfg.Host,
		"port", cfg.Port,
		"providers", len(cfg.Providers),
	)

	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	stopWatch, err := cfgMgr.Watch(func(reloaded *config.Config) {
		logger.Info("configuration reloaded", "host", reloaded.Host, "port", reloaded.Port)
	})
	if err == nil {
		defer stopWatch()
	} else {
		logger.Warn("config hot-reload unavailable", "error", err)
	}

	srv := server.New(cfgMgr, logger)

	return srv.Start()
}
