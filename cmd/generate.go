package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/recordgen/internal/model"
)

var (
	generateCount   int
	generateColumns []string
	generateType    string
	generateSpecs   string
	generateTable   string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run a generation job to completion and print the records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if generateType == "" {
			return eris.New("--type is required")
		}
		if len(generateColumns) == 0 {
			return eris.New("--columns is required")
		}

		env, err := initPipeline(ctx, "generate")
		if err != nil {
			return err
		}
		defer env.Close()

		req := model.GenerationRequest{
			RowCount:       generateCount,
			Fields:         fieldsFromColumns(generateColumns),
			DataType:       generateType,
			Specifications: generateSpecs,
		}

		tableID := generateTable
		if tableID == "" {
			tableID = env.TableID
		}

		j := env.Jobs.Create(req.RowCount)
		jobCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		env.Jobs.RegisterCancel(j.ID, cancel)

		env.Orchestrator.Run(jobCtx, j.ID, req, tableID)

		final, err := env.Jobs.Get(j.ID)
		if err != nil {
			return eris.Wrap(err, "cmd: read final job state")
		}
		zap.L().Info("generation finished",
			zap.String("job_id", final.ID),
			zap.String("status", string(final.Status)),
			zap.Int("completed", final.CompletedRecords),
			zap.Int("failed", final.FailedRecords),
			zap.Float64("estimated_cost_usd", final.EstimatedCostUSD),
		)

		recs, err := env.Store.ListGeneratedRecords(ctx, j.ID)
		if err != nil {
			return eris.Wrap(err, "cmd: list generated records")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(recs); err != nil {
			return eris.Wrap(err, "cmd: encode records")
		}

		if final.Status == model.JobStatusFailed {
			return eris.New(final.ErrorMessage)
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().IntVar(&generateCount, "count", 10, "number of records to generate")
	generateCmd.Flags().StringSliceVar(&generateColumns, "columns", nil, "target column labels (comma-separated)")
	generateCmd.Flags().StringVar(&generateType, "type", "", "kind of records to generate, e.g. \"HVAC companies\"")
	generateCmd.Flags().StringVar(&generateSpecs, "specs", "", "free-form constraints, e.g. \"in Ohio, 10-50 employees\"")
	generateCmd.Flags().StringVar(&generateTable, "table", "", "target table id (default from config)")
	rootCmd.AddCommand(generateCmd)
}
