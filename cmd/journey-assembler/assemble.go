package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/journeys/internal/config"
	"github.com/MarcoPoloResearchLab/journeys/internal/database"
	"github.com/MarcoPoloResearchLab/journeys/internal/journeys"
	"github.com/MarcoPoloResearchLab/journeys/internal/logging"
	"github.com/MarcoPoloResearchLab/journeys/internal/touchpoint"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newAssembleCommand() *cobra.Command {
	var inputPath string

	cmd := &cobra.Command{
		Use:   "assemble",
		Short: "Resolve and assemble touchpoints from a JSON file into the local database",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			raw, err := readInput(cmd.InOrStdin(), inputPath)
			if err != nil {
				return err
			}
			touchpoints, err := decodeTouchpoints(raw)
			if err != nil {
				return err
			}
			assembled, err := runAssemble(cmd.Context(), appConfig, touchpoints)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJourneyReport(assembled))
			return nil
		},
	}
	cmd.Flags().StringVar(&inputPath, "input", "-", "Touchpoint JSON file (array or {\"touchpoints\": [...]}); - reads stdin")
	return cmd
}

func runAssemble(ctx context.Context, appConfig config.AppConfig, touchpoints []touchpoint.Touchpoint) ([]journeys.Journey, error) {
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, err
	}
	defer logger.Sync() //nolint:errcheck

	lock, err := acquireDatabaseLock(appConfig.DatabasePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release database lock", zap.Error(err))
		}
	}()

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	defer sqlDB.Close()

	service, err := newAssemblerService(appConfig, db, nil, logger)
	if err != nil {
		return nil, err
	}
	if _, err := service.Restore(ctx); err != nil {
		return nil, err
	}
	for index, tp := range touchpoints {
		if _, err := service.ResolveAndRegister(ctx, tp); err != nil {
			return nil, fmt.Errorf("touchpoint %d (%s): %w", index, tp.TouchpointID, err)
		}
	}
	return service.AssembleBatch(ctx)
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func decodeTouchpoints(raw []byte) ([]touchpoint.Touchpoint, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("input is empty")
	}
	if trimmed[0] == '[' {
		var touchpoints []touchpoint.Touchpoint
		if err := json.Unmarshal(trimmed, &touchpoints); err != nil {
			return nil, fmt.Errorf("decode touchpoints: %w", err)
		}
		return touchpoints, nil
	}
	var envelope struct {
		Touchpoints []touchpoint.Touchpoint `json:"touchpoints"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode touchpoints: %w", err)
	}
	return envelope.Touchpoints, nil
}

func renderJourneyReport(assembled []journeys.Journey) string {
	headers := []string{"Journey", "Customer", "Type", "Touchpoints", "Days", "Converted", "Value", "Confidence", "Channels", "Patterns"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignRight, alignRight, alignLeft, alignLeft}
	rows := make([][]string, 0, len(assembled))
	for _, journey := range assembled {
		channels := make([]string, 0, len(journey.ChannelSequence))
		for _, channel := range journey.ChannelSequence {
			channels = append(channels, channel.String())
		}
		rows = append(rows, []string{
			journey.JourneyID,
			journey.CustomerID,
			string(journey.CustomerType),
			strconv.Itoa(journey.TotalTouchpoints),
			strconv.Itoa(journey.DurationDays),
			strconv.FormatBool(journey.Converted),
			strconv.FormatFloat(journey.ConversionValue, 'f', 2, 64),
			fmt.Sprintf("%.3f (%s)", journey.ConfidenceScore, journey.ConfidenceLevel),
			strings.Join(channels, " > "),
			strings.Join(journey.SynergisticPatterns, "; "),
		})
	}
	return renderTable(headers, rows, aligns)
}
