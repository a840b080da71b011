package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/noahflow/agent/internal/config"
	"github.com/noahflow/agent/internal/crm"
	"github.com/noahflow/agent/internal/fieldmap"
	"github.com/noahflow/agent/internal/logging"
	"github.com/noahflow/agent/internal/models"
	"github.com/noahflow/agent/internal/noah"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "noahflow-agent",
	Short: "Bridges NOAH audiology exports into the CRM",
	Long: `noahflow-agent watches a folder for NOAH audiometric XML exports,
extracts the hearing test sessions they contain and submits the newest
session as a hearing report through the CRM's web interface.

Examples:
  noahflow-agent watch
  noahflow-agent parse export.xml
  noahflow-agent submit export.xml
  noahflow-agent --config /etc/noahflow/agent.yaml watch`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "agent.yaml", "Path to the agent configuration file")
	rootCmd.AddCommand(watchCmd, parseCmd, submitCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.Init(cfg.Logging.Level)
	return cfg, nil
}

// buildRequest parses an export and assembles the automation request for
// its newest session.
func buildRequest(cfg *config.AppConfig, path string) (*models.AutomationRequest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	sessions, err := noah.ExtractSessions(raw)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("export contains no test sessions")
	}

	overrides := map[string]string{}
	if cfg.CRM.InspectorName != "" {
		overrides[fieldmap.InspectorNameKey] = cfg.CRM.InspectorName
	}
	creds := models.Credentials{
		URL:      cfg.CRM.URL,
		Username: cfg.CRM.Username,
		Password: cfg.CRM.Password,
	}
	return models.NewAutomationRequest(creds, cfg.CRM.StoreID, sessions[0], overrides, path), nil
}

// runAutomation drives one request through a fresh browser.
func runAutomation(ctx context.Context, cfg *config.AppConfig, req *models.AutomationRequest) *models.Outcome {
	client, err := crm.NewChromeClient(ctx, cfg.Browser.Headless)
	if err != nil {
		log.Error().Err(err).Msg("browser launch failed")
		return models.Failed(models.ErrorKindNavigation, fmt.Sprintf("browser launch failed: %v", err))
	}

	engine := crm.NewEngine(client,
		crm.WithLogger(log.Logger),
		crm.WithTimings(engineTimings(cfg)),
		crm.WithNavRetries(cfg.Browser.NavRetries),
		crm.WithProgress(func(stage crm.Stage, message string) {
			log.Info().Str("stage", string(stage)).Msg(message)
		}),
	)
	return engine.Run(ctx, req)
}

func engineTimings(cfg *config.AppConfig) crm.Timings {
	return crm.Timings{
		StepTimeout: time.Duration(cfg.Browser.StepTimeoutSeconds) * time.Second,
		Settle:      time.Duration(cfg.Browser.SettleSeconds) * time.Second,
	}
}
