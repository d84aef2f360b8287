package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvoronkov/ledgerlens/internal/anomaly"
	"github.com/dvoronkov/ledgerlens/internal/cluster"
	"github.com/dvoronkov/ledgerlens/internal/config"
	"github.com/dvoronkov/ledgerlens/internal/embedding"
	"github.com/dvoronkov/ledgerlens/internal/forecast"
	"github.com/dvoronkov/ledgerlens/internal/gcsfetch"
	"github.com/dvoronkov/ledgerlens/internal/habit"
	"github.com/dvoronkov/ledgerlens/internal/ingest"
	"github.com/dvoronkov/ledgerlens/internal/logger"
	"github.com/dvoronkov/ledgerlens/internal/store"
	"github.com/dvoronkov/ledgerlens/internal/store/bigquery"
	"github.com/dvoronkov/ledgerlens/internal/store/memory"
	"github.com/dvoronkov/ledgerlens/internal/store/postgres"
)

var (
	ingestExcludeDebt   bool
	ingestSkipEmbedding bool

	anomaliesCategory string

	habitsMonth int
	habitsYear  int

	forecastModel      string
	forecastPeriods    int
	forecastCategory   string
	forecastType       string
	forecastConfidence float64
)

var rootCmd = &cobra.Command{
	Use:   "ledgerlens",
	Short: "Transaction analytics over a personal finance ledger",
	Long: `ledgerlens ingests bank transactions and answers analytical questions
about them: spending anomalies, recurring habits and monthly forecasts.

The store backend and credentials come from the environment, same as the
API server (LEDGERLENS_STORE, LEDGERLENS_POSTGRES_DSN, ...).`,
	SilenceUsage: true,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.csv | gs://bucket/object.csv>",
	Short: "Ingest a CSV batch of transactions",
	Long: `Ingest a CSV batch from a local path or a Cloud Storage URI.

Expected header columns: date, category, counterpart, comment, outflow,
inflow, source_account, destination_account. Dates may be DD.MM.YYYY or
YYYY-MM-DD. Already-known rows are dropped by canonical hash.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies",
	Short: "Detect spending anomalies and persist the flags",
	RunE:  runAnomalies,
}

var habitsCmd = &cobra.Command{
	Use:   "habits",
	Short: "Detect recurring spending habits for one month",
	RunE:  runHabits,
}

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Forecast monthly income or expenses",
	RunE:  runForecast,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestExcludeDebt, "exclude-debt-accounts", false, "drop records touching configured debt accounts")
	ingestCmd.Flags().BoolVar(&ingestSkipEmbedding, "skip-embedding", false, "skip the embedding gateway; records stay unclustered")

	anomaliesCmd.Flags().StringVar(&anomaliesCategory, "category", "", "restrict detection to one category")

	now := time.Now()
	habitsCmd.Flags().IntVar(&habitsMonth, "month", int(now.Month()), "month to analyze (1-12)")
	habitsCmd.Flags().IntVar(&habitsYear, "year", now.Year(), "year to analyze")

	forecastCmd.Flags().StringVar(&forecastModel, "model", forecast.ModelLinear, "linear, moving_average, exponential_smoothing, arima, prophet or ensemble")
	forecastCmd.Flags().IntVar(&forecastPeriods, "periods", 3, "months to forecast ahead")
	forecastCmd.Flags().StringVar(&forecastCategory, "category", "", "restrict the series to one category")
	forecastCmd.Flags().StringVar(&forecastType, "type", string(forecast.SeriesExpenses), "income or expenses")
	forecastCmd.Flags().Float64Var(&forecastConfidence, "confidence", 0.95, "confidence level for the intervals")

	rootCmd.AddCommand(ingestCmd, anomaliesCmd, habitsCmd, forecastCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		return postgres.Open(cfg.PostgresDSN)
	case config.StoreBigQuery:
		return bigquery.New(ctx, cfg.BQProject, cfg.BQDataset)
	default:
		return memory.New(), nil
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.NewWithLevel(cfg.LogLevel)

	data, err := readSource(ctx, args[0])
	if err != nil {
		return err
	}
	records, err := parseCSV(data)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var gateway embedding.Gateway
	if cfg.EmbeddingEnabled && !ingestSkipEmbedding {
		genaiGW, err := embedding.NewGenAIGateway(ctx)
		if err != nil {
			return err
		}
		gateway = embedding.NewBreakerGateway(genaiGW)
	}

	svc := ingest.New(st, gateway, nil, cfg.DebtAccounts, cfg.EmbeddingWorkers, log)
	res, err := svc.Ingest(ctx, records, ingest.Options{
		ExcludeDebtAccounts: ingestExcludeDebt,
		SkipEmbedding:       ingestSkipEmbedding,
	})
	if err != nil {
		return err
	}

	// One-shot clustering instead of the server's background job.
	if gateway != nil && res.Inserted > 0 {
		if err := cluster.NewPass(st, cluster.DefaultConfig(), log).Run(ctx); err != nil {
			log.Warn().Err(err).Msg("Clustering pass failed")
		}
	}
	return printJSON(res)
}

func runAnomalies(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	txs, err := st.Query(ctx, store.Filter{Category: anomaliesCategory, OutflowOnly: true})
	if err != nil {
		return err
	}
	flagged := anomaly.Detect(txs)
	if len(flagged) > 0 {
		if err := st.Upsert(ctx, flagged); err != nil {
			return err
		}
	}
	return printJSON(map[string]interface{}{
		"detected":  len(flagged),
		"anomalies": flagged,
	})
}

func runHabits(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if habitsMonth < 1 || habitsMonth > 12 {
		return fmt.Errorf("month must be between 1 and 12")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	monthStart := time.Date(habitsYear, time.Month(habitsMonth), 1, 0, 0, 0, 0, time.UTC)
	current, err := st.Query(ctx, store.Filter{From: monthStart, To: monthStart.AddDate(0, 1, 0), OutflowOnly: true})
	if err != nil {
		return err
	}
	previous, err := st.Query(ctx, store.Filter{From: monthStart.AddDate(0, -1, 0), To: monthStart, OutflowOnly: true})
	if err != nil {
		return err
	}

	habits := habit.NewDetector(habit.DefaultTolerance()).Detect(current, previous)
	return printJSON(map[string]interface{}{
		"month":  habitsMonth,
		"year":   habitsYear,
		"count":  len(habits),
		"habits": habits,
	})
}

func runForecast(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	txs, err := st.Query(ctx, store.Filter{Category: forecastCategory})
	if err != nil {
		return err
	}

	series := forecast.BuildSeries(txs, forecastCategory)
	result, err := forecast.Forecast(series, forecast.Request{
		Model:           forecastModel,
		Periods:         forecastPeriods,
		Category:        forecastCategory,
		Type:            forecast.SeriesType(forecastType),
		ConfidenceLevel: forecastConfidence,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func readSource(ctx context.Context, src string) ([]byte, error) {
	if strings.HasPrefix(src, "gs://") {
		return gcsfetch.Fetch(ctx, src)
	}
	return os.ReadFile(src)
}

// parseCSV maps a header-driven CSV export to raw ingestion records.
func parseCSV(data []byte) ([]ingest.RawRecord, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing CSV: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("CSV has no data rows")
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := col["date"]; !ok {
		return nil, fmt.Errorf("CSV is missing a date column")
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	amount := func(row []string, name string) (float64, error) {
		s := field(row, name)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	}

	records := make([]ingest.RawRecord, 0, len(rows)-1)
	for n, row := range rows[1:] {
		outflow, err := amount(row, "outflow")
		if err != nil {
			return nil, fmt.Errorf("row %d: bad outflow: %w", n+2, err)
		}
		inflow, err := amount(row, "inflow")
		if err != nil {
			return nil, fmt.Errorf("row %d: bad inflow: %w", n+2, err)
		}
		records = append(records, ingest.RawRecord{
			Date:               field(row, "date"),
			Category:           field(row, "category"),
			Counterpart:        field(row, "counterpart"),
			Comment:            field(row, "comment"),
			Outflow:            outflow,
			Inflow:             inflow,
			SourceAccount:      field(row, "source_account"),
			DestinationAccount: field(row, "destination_account"),
		})
	}
	return records, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
