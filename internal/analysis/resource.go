package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/datagouv/hydra-go/internal/models"
	"github.com/datagouv/hydra-go/internal/storage"
	"github.com/gabriel-vasile/mimetype"
)

// ResourceResult is the outcome of downloading and inspecting one resource.
type ResourceResult struct {
	LocalPath       string
	Filesize        int64
	Checksum        string
	MimeType        string
	ChecksumChanged bool
}

// AnalyseResource downloads the checked resource, computes its checksum, size
// and MIME type, records them on the check and reports whether the checksum
// differs from the previous one. The caller removes LocalPath.
func (a *Analyser) AnalyseResource(ctx context.Context, check *models.Check, prevChecksum *string) (*ResourceResult, error) {
	allowOversize := false
	if _, err := a.store.GetResourceException(ctx, check.ResourceID); err == nil {
		allowOversize = true
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	path, size, checksum, err := a.Download(ctx, check.URL, allowOversize)
	if err != nil {
		return nil, err
	}

	mime := ""
	if detected, err := mimetype.DetectFile(path); err == nil {
		// Keep the bare media type, parameters like charset are noise here.
		mime, _, _ = strings.Cut(detected.String(), ";")
	}

	result := &ResourceResult{
		LocalPath:       path,
		Filesize:        size,
		Checksum:        checksum,
		MimeType:        mime,
		ChecksumChanged: prevChecksum != nil && *prevChecksum != checksum,
	}
	if err := a.store.UpdateCheckAnalysis(ctx, check.ID, &result.Checksum, &result.Filesize, &result.MimeType, nil, nil); err != nil {
		return nil, fmt.Errorf("record analysis on check %d: %w", check.ID, err)
	}
	check.Checksum = &result.Checksum
	check.Filesize = &result.Filesize
	check.MimeType = &result.MimeType
	return result, nil
}
