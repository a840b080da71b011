package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit <export.xml>",
	Short: "Submit one export through the CRM immediately",
	Long: `Submit bypasses the watch queue and runs the full automation
sequence for a single export file. The file is relocated to processed/
or failed/ exactly as it would be during watched operation.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		req, err := buildRequest(cfg, args[0])
		if err != nil {
			return err
		}
		log.Info().Str("patient", req.PatientName).Str("date", req.Field("FullTestDate")).Msg("submitting")

		out := runAutomation(cmd.Context(), cfg, req)
		if !out.Success {
			return fmt.Errorf("%s: %s", out.Kind, out.Message)
		}
		log.Info().Str("moved_to", out.MovedTo).Msg("report submitted")
		return nil
	},
}
