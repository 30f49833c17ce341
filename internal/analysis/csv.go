package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/datagouv/hydra-go/internal/models"
	"github.com/datagouv/hydra-go/internal/storage"
	"github.com/rs/zerolog/log"
)

// Content types and extensions treated as CSV candidates.
var csvContentTypes = map[string]bool{
	"text/csv":        true,
	"application/csv": true,
	"text/plain":      true,
}

// LooksLikeCSV reports whether a resource should go through CSV analysis,
// judged on the response content type, the sniffed MIME type and the URL.
func LooksLikeCSV(contentType, mimeType, rawURL string) bool {
	ct, _, _ := strings.Cut(contentType, ";")
	if csvContentTypes[strings.TrimSpace(strings.ToLower(ct))] {
		return true
	}
	if csvContentTypes[strings.ToLower(mimeType)] {
		return true
	}
	return strings.HasSuffix(strings.ToLower(rawURL), ".csv")
}

// AnalyseCSVFile profiles an already-downloaded CSV and materializes it into
// the per-resource table. It stamps the parsing window on the check and
// returns the analysis:parsing:* fragment for the outgoing notification.
// Parsing and materialization failures are captured, not returned: the check
// records them and the previous table, if any, survives.
func (a *Analyser) AnalyseCSVFile(ctx context.Context, check *models.Check, path string) map[string]any {
	started := time.Now().UTC()
	if err := a.store.StampParsingStarted(ctx, check.ID, started); err != nil {
		log.Error().Err(err).Int64("check_id", check.ID).Msg("Failed to stamp parsing start")
	}

	tableName, parsingError := a.parseAndMaterialize(ctx, check, path)

	finished := time.Now().UTC()
	if err := a.store.StampParsingFinished(ctx, check.ID, finished, tableName, parsingError); err != nil {
		log.Error().Err(err).Int64("check_id", check.ID).Msg("Failed to stamp parsing end")
	}
	check.ParsingStartedAt = &started
	check.ParsingFinishedAt = &finished
	check.ParsingTable = tableName
	check.ParsingError = parsingError

	doc := map[string]any{
		"analysis:parsing:started_at":  started.Format(time.RFC3339),
		"analysis:parsing:finished_at": finished.Format(time.RFC3339),
		"analysis:parsing:error":       nil,
	}
	if parsingError != nil {
		doc["analysis:parsing:error"] = *parsingError
	}
	return doc
}

func (a *Analyser) parseAndMaterialize(ctx context.Context, check *models.Check, path string) (tableName, parsingError *string) {
	profile, records, err := ProfileCSV(path)
	if err != nil {
		msg := "csv_detective:" + err.Error()
		log.Warn().Str("url", check.URL).Str("error", msg).Msg("CSV profiling failed")
		return nil, &msg
	}

	rows, err := CoerceRows(profile, records)
	if err != nil {
		msg := "csv_detective:" + err.Error()
		return nil, &msg
	}

	columns := make([]storage.Column, len(profile.Header))
	for i, name := range profile.Header {
		columns[i] = storage.Column{Name: name, Format: profile.Formats[name]}
	}

	var indexes map[string]string
	if exc, err := a.store.GetResourceException(ctx, check.ResourceID); err == nil {
		indexes = exc.TableIndexes
	} else if !errors.Is(err, storage.ErrNotFound) {
		msg := err.Error()
		return nil, &msg
	}

	name := TableName(check.URL)
	if err := a.store.ReplaceTable(ctx, name, columns, rows, indexes); err != nil {
		msg := err.Error()
		log.Error().Err(err).Str("table", name).Msg("Table materialization failed")
		return nil, &msg
	}

	profileJSON, err := json.Marshal(profile)
	if err != nil {
		msg := fmt.Sprintf("marshal csv profile: %v", err)
		return nil, &msg
	}
	if err := a.store.UpsertTableIndex(ctx, check.ResourceID, name, string(profileJSON)); err != nil {
		msg := err.Error()
		return nil, &msg
	}

	log.Info().Str("table", name).Int("rows", len(rows)).Str("url", check.URL).Msg("CSV materialized")
	return &name, nil
}

// AnalyseCSV is the standalone entry point, by check id or by bare URL. With
// a check id the parsing window is stamped and the notification dispatched;
// with a bare URL the file is profiled and materialized without bookkeeping.
func (a *Analyser) AnalyseCSV(ctx context.Context, checkID int64, rawURL string) error {
	if checkID == 0 {
		if rawURL == "" {
			return fmt.Errorf("analyse csv: check id or url required")
		}
		path, _, _, err := a.Download(ctx, rawURL, false)
		if err != nil {
			return err
		}
		defer os.Remove(path)
		check := &models.Check{URL: rawURL}
		if _, parseErr := a.parseAndMaterialize(ctx, check, path); parseErr != nil {
			return errors.New(*parseErr)
		}
		return nil
	}

	check, err := a.store.GetCheck(ctx, checkID)
	if err != nil {
		return fmt.Errorf("analyse csv: %w", err)
	}

	allowOversize := false
	if _, err := a.store.GetResourceException(ctx, check.ResourceID); err == nil {
		allowOversize = true
	}
	path, _, _, err := a.Download(ctx, check.URL, allowOversize)
	if err != nil {
		return err
	}
	defer os.Remove(path)

	doc := a.AnalyseCSVFile(ctx, check, path)

	datasetID := ""
	if res, err := a.store.GetResource(ctx, check.ResourceID); err == nil {
		datasetID = res.DatasetID
	}
	if err := a.notifier.Notify(ctx, datasetID, check.ResourceID, doc); err != nil {
		log.Warn().Err(err).Str("resource_id", check.ResourceID).Msg("CSV analysis notification failed")
	}
	return nil
}
