package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/noahflow/agent/internal/models"
	"github.com/noahflow/agent/internal/noah"
)

var overviewFlag bool

var parseCmd = &cobra.Command{
	Use:   "parse <export.xml>",
	Short: "Extract the test sessions from an export and print them as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read export: %w", err)
		}

		var payload any
		if overviewFlag {
			overview, err := noah.Overview(raw)
			if err != nil {
				return err
			}
			payload = overview
		} else {
			sessions, err := noah.ExtractSessions(raw)
			if err != nil {
				return err
			}
			payload = struct {
				Sessions []*models.Session `json:"sessions"`
			}{Sessions: sessions}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	},
}

func init() {
	parseCmd.Flags().BoolVar(&overviewFlag, "overview", false, "Print the per-date summary instead of full sessions")
}
