package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/variantlab/variantlab/internal/store"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <experiment-id>",
	Short: "Export daily rollup data",
	Long: `Export an experiment's daily rollups in CSV or JSON format.

Examples:
  vlab export 4f7c... --format csv > results.csv
  vlab export 4f7c... --format json > results.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format (csv or json)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	experimentID := args[0]

	if exportFormat != "csv" && exportFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		results, err := s.ListResults(ctx, tenantID, experimentID, nil, nil)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("experiment '%s' not found", experimentID)
			}
			return fmt.Errorf("failed to get results: %w", err)
		}

		if exportFormat == "csv" {
			return exportCSV(results)
		}
		return exportJSON(results)
	})
}

func exportCSV(results []store.Result) error {
	w := csv.NewWriter(os.Stdout)
	defer w.Flush()

	if err := w.Write([]string{"date", "variant_id", "visitors", "conversions", "revenue"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, r := range results {
		row := []string{
			r.Date.Format("2006-01-02"),
			r.VariantID,
			strconv.Itoa(r.Visitors),
			strconv.Itoa(r.Conversions),
			strconv.FormatFloat(r.Revenue, 'f', 2, 64),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	return nil
}

type jsonExport struct {
	Results []jsonResult `json:"results"`
}

type jsonResult struct {
	Date        string  `json:"date"`
	VariantID   string  `json:"variant_id"`
	Visitors    int     `json:"visitors"`
	Conversions int     `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

func exportJSON(results []store.Result) error {
	export := jsonExport{
		Results: make([]jsonResult, len(results)),
	}

	for i, r := range results {
		export.Results[i] = jsonResult{
			Date:        r.Date.Format("2006-01-02"),
			VariantID:   r.VariantID,
			Visitors:    r.Visitors,
			Conversions: r.Conversions,
			Revenue:     r.Revenue,
		}
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
