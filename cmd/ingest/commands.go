package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"medprice-service/config"
	"medprice-service/internal/broker"
	"medprice-service/internal/ingest"
	"medprice-service/internal/service"
	"medprice-service/internal/store"
	"medprice-service/internal/util"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultBatchSize = 1000

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replace the stored catalog with the contents of a workbook",
		Long: `Parse the workbook export and replace every category, medication,
pharmacy and price in the database with it, in one transaction.`,
		RunE: runImport,
	}

	cmd.Flags().StringP("file", "f", "", "Workbook export to import (JSON)")
	cmd.Flags().Int("batch-size", defaultBatchSize, "Prices written per insert")
	cmd.Flags().Bool("dry-run", false, "Parse and report without writing")
	cmd.Flags().BoolP("json", "j", false, "Print the report as JSON")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Parse a workbook and print what an import would produce",
		RunE:  runInspect,
	}

	cmd.Flags().StringP("file", "f", "", "Workbook export to parse (JSON)")
	cmd.Flags().BoolP("json", "j", false, "Print the summary as JSON")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	asJSON, _ := cmd.Flags().GetBool("json")

	if batchSize <= 0 {
		return errors.New("--batch-size must be positive")
	}

	wb, err := ingest.LoadWorkbook(path)
	if err != nil {
		return err
	}

	cfg := config.Load()
	if err := util.InitLogger(cfg.Server.Env); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	auditProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAudit)
	defer auditProducer.Close()
	eventsProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer eventsProducer.Close()
	publisher := broker.NewEventPublisher(auditProducer, eventsProducer)

	loader := ingest.NewLoader(db, service.NewAuditLogger(db, publisher), publisher, batchSize)
	report, err := loader.Run(ctx, wb, dryRun)
	if err != nil {
		logger.Error("Import failed", zap.String("file", path), zap.Error(err))
		return err
	}

	if asJSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	asJSON, _ := cmd.Flags().GetBool("json")

	wb, err := ingest.LoadWorkbook(path)
	if err != nil {
		return err
	}

	_, summary := ingest.Parse(wb, time.Now().UTC())
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), summary)
	}
	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(w io.Writer, report *ingest.Report) {
	printSummary(w, report.Summary)

	if report.DryRun {
		fmt.Fprintln(w, "\nDry run: nothing was written")
		return
	}
	if r := report.Result; r != nil {
		fmt.Fprintln(w, "\nWritten:")
		fmt.Fprintf(w, "  Categories:    %d\n", r.Categories)
		fmt.Fprintf(w, "  Subcategories: %d\n", r.Subcategories)
		fmt.Fprintf(w, "  Medications:   %d\n", r.Medications)
		fmt.Fprintf(w, "  Pharmacies:    %d\n", r.Pharmacies)
		fmt.Fprintf(w, "  Prices:        %d\n", r.Prices)
		if r.DuplicatePrices > 0 {
			fmt.Fprintf(w, "  Duplicates:    %d\n", r.DuplicatePrices)
		}
	}
}

func printSummary(w io.Writer, s *ingest.Summary) {
	fmt.Fprintln(w, "Workbook")
	fmt.Fprintln(w, strings.Repeat("=", 40))
	fmt.Fprintf(w, "  Sheets:        %d\n", s.Sheets)
	fmt.Fprintf(w, "  Categories:    %d\n", s.Categories)
	fmt.Fprintf(w, "  Subcategories: %d\n", s.Subcategories)
	fmt.Fprintf(w, "  Medications:   %d\n", s.Medications)
	fmt.Fprintf(w, "  Pharmacies:    %d\n", s.Pharmacies)
	fmt.Fprintf(w, "  Prices:        %d\n", s.Prices)
	fmt.Fprintf(w, "  Skipped rows:  %d\n", s.SkippedRows)
	fmt.Fprintf(w, "  Dropped cells: %d\n", s.DroppedCells)

	if len(s.Skipped) > 0 {
		fmt.Fprintln(w, "\nSkipped sheets:")
		for _, sk := range s.Skipped {
			fmt.Fprintf(w, "  %s: %s\n", sk.Sheet, sk.Reason)
		}
	}

	if len(s.Renamed) > 0 {
		fmt.Fprintln(w, "\nRenamed categories:")
		names := make([]string, 0, len(s.Renamed))
		for from := range s.Renamed {
			names = append(names, from)
		}
		sort.Strings(names)
		for _, from := range names {
			fmt.Fprintf(w, "  %s -> %s\n", from, s.Renamed[from])
		}
	}
}
