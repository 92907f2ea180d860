package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/llmbridge/transllm/internal/process"
)

var (
	runCLI     string
	runDialect string
)

var runCmd = &cobra.Command{
	Use:   "run [args...]",
	Short: "Launch a downstream CLI against the translation proxy",
	Long:  `Start the translation proxy if needed, point a downstream CLI's dialect-specific environment variables at it, then exec that CLI.`,
	Args:  cobra.ArbitraryArgs,
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runCLI, "cli", "claude", "downstream CLI binary to exec")
	runCmd.Flags().StringVar(&runDialect, "dialect", "anthropic", "dialect the downstream CLI expects (openai, anthropic, gemini)")
}

func runRun(cmd *cobra.Command, args []string) error {
	procMgr := process.NewManager(baseDir)
	cfg := cfgMgr.Get()

	serviceStartedByUs, err := procMgr.StartServiceIfNeeded()
	if err != nil {
		return err
	}

	baseURL := fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)

	env := os.Environ()
	for _, key := range dialectEnvKeys(runDialect) {
		env = filterEnv(env, key)
	}

	env = append(env, dialectEnv(runDialect, baseURL, cfg.APIKey)...)

	procMgr.IncrementRef()
	defer func() {
		procMgr.DecrementRef()
		if serviceStartedByUs && procMgr.ReadRef() == 0 {
			color.Yellow("No more active sessions, stopping auto-started service...")
			procMgr.Stop()
		}
	}()

	downstream := exec.Command(runCLI, args...)
	downstream.Env = env
	downstream.Stdin = os.Stdin
	downstream.Stdout = os.Stdout
	downstream.Stderr = os.Stderr

	return downstream.Run()
}

// dialectEnvKeys names the environment variables each dialect's CLI
// convention uses for auth/base-url, so they can be stripped from the
// inherited environment before we set our own.
func dialectEnvKeys(dialect string) []string {
	switch dialect {
	case "openai":
		return []string{"OPENAI_API_KEY", "OPENAI_BASE_URL"}
	case "gemini":
		return []string{"GOOGLE_API_KEY", "GEMINI_API_BASE_URL"}
	default:
		return []string{"ANTHROPIC_AUTH_TOKEN", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL"}
	}
}

func dialectEnv(dialect, baseURL, apiKey string) []string {
	switch dialect {
	case "openai":
		return []string{"OPENAI_API_KEY=" + fallbackKey(apiKey), "OPENAI_BASE_URL=" + baseURL + "/v1"}
	case "gemini":
		return []string{"GOOGLE_API_KEY=" + fallbackKey(apiKey), "GEMINI_API_BASE_URL=" + baseURL}
	default:
		var env []string
		if apiKey != "" {
			env = append(env, "ANTHROPIC_API_KEY="+apiKey)
		} else {
			env = append(env, "ANTHROPIC_AUTH_TOKEN=proxy")
		}

		env = append(env, "ANTHROPIC_BASE_URL="+baseURL, "API_TIMEOUT_MS="+strconv.Itoa(600000))

		return env
	}
}

func fallbackKey(apiKey string) string {
	if apiKey == "" {
		return "proxy"
	}

	return apiKey
}

func filterEnv(env []string, key string) []string {
	var filtered []string

	prefix := key + "="

	for _, e := range env {
		if !strings.HasPrefix(e, prefix) {
			filtered = append(filtered, e)
		}
	}

	return filtered
}
