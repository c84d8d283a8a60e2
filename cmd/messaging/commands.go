package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JimiYounger/connect-sub001/internal/db"
	"github.com/JimiYounger/connect-sub001/internal/segment"
	"github.com/JimiYounger/connect-sub001/internal/template"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		url := os.Getenv("POSTGRES_URL")
		if url == "" {
			return errors.New("missing required env var: POSTGRES_URL")
		}

		database, err := db.Connect(cmd.Context(), url)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer database.Close()

		n, err := db.RunMigrations(cmd.Context(), database)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
		return nil
	},
}

var segmentPrice int64

// segmentsCmd previews segmentation offline, without template rendering.
var segmentsCmd = &cobra.Command{
	Use:   "segments [text]",
	Short: "Show how a message body splits into SMS segments",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := strings.Join(args, " ")
		info := segment.Calculate(body)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"segment":      info,
			"placeholders": template.Placeholders(body),
			"cost":         info.Cost(segmentPrice),
		})
	},
}

func init() {
	segmentsCmd.Flags().Int64Var(&segmentPrice, "price", 0, "price per segment in the smallest currency unit")
}
