package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/datagouv/hydra-go/internal/config"
	"github.com/datagouv/hydra-go/internal/dateutil"
	"github.com/datagouv/hydra-go/internal/logging"
	"github.com/datagouv/hydra-go/internal/storage"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load [file-or-url]",
	Short: "Load a catalog CSV export into the database",
	Long: `Load reads a catalog export (CSV with at least dataset_id, resource_id
and url columns, optionally harvest_modified_at) and upserts every row into
the catalog, marking new and updated resources priority for the next cycle.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoad(args[0])
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
}

func runLoad(source string) error {
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "hydra"})
	_ = godotenv.Load()

	cfg, err := config.NewLoader().Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	store, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	reader, err := openCatalogSource(source)
	if err != nil {
		return err
	}
	defer reader.Close()

	n, err := loadCatalog(store, reader)
	if err != nil {
		return err
	}
	log.Info().Int("resources", n).Msg("Catalog loaded")
	return nil
}

func openCatalogSource(source string) (io.ReadCloser, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		resp, err := http.Get(source)
		if err != nil {
			return nil, fmt.Errorf("fetch catalog: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch catalog: status %d", resp.StatusCode)
		}
		return resp.Body, nil
	}
	return os.Open(source)
}

func loadCatalog(store *storage.Store, r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("read catalog header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range []string{"dataset_id", "resource_id", "url"} {
		if _, ok := cols[required]; !ok {
			return 0, fmt.Errorf("catalog is missing the %q column", required)
		}
	}

	ctx := context.Background()
	count := 0
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read catalog row: %w", err)
		}
		var harvest *time.Time
		if i, ok := cols["harvest_modified_at"]; ok && record[i] != "" {
			if t, _, ok := dateutil.ParseTolerant(record[i]); ok {
				harvest = &t
			}
		}
		err = store.UpsertResource(ctx, record[cols["dataset_id"]], record[cols["resource_id"]], record[cols["url"]], harvest)
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
