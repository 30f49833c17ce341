// Package analysis downloads checked resources, profiles CSV content and
// materializes parsed rows into per-resource tables.
package analysis

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/datagouv/hydra-go/internal/config"
	"github.com/datagouv/hydra-go/internal/notify"
	"github.com/datagouv/hydra-go/internal/storage"
	"github.com/rs/zerolog/log"
)

// ErrTooLarge aborts a download exceeding the configured size cap. The
// message is part of the notification contract.
var ErrTooLarge = errors.New("File too large to download")

// Analyser drives resource download and CSV materialization.
type Analyser struct {
	cfg      *config.Settings
	store    *storage.Store
	notifier notify.Notifier
	client   *http.Client
}

// New builds an Analyser sharing the crawler's configuration and store.
func New(cfg *config.Settings, store *storage.Store, notifier notify.Notifier) *Analyser {
	return &Analyser{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// TableName derives the deterministic per-resource table name from a URL.
func TableName(rawURL string) string {
	sum := md5.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// Download fetches a URL to a temporary file, enforcing the size cap both
// against a declared Content-Length and against the bytes actually streamed.
// allowOversize bypasses the cap for resources holding an exception. The
// caller removes the returned file.
func (a *Analyser) Download(ctx context.Context, rawURL string, allowOversize bool) (path string, size int64, checksum string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, "", fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("User-Agent", a.cfg.UserAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", 0, "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, "", fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}

	if !allowOversize {
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if declared, err := strconv.ParseInt(cl, 10, 64); err == nil && declared > a.cfg.MaxFilesizeAllowed {
				return "", 0, "", ErrTooLarge
			}
		}
	}

	tmp, err := os.CreateTemp("", "hydra-download-*")
	if err != nil {
		return "", 0, "", fmt.Errorf("create temp file: %w", err)
	}
	defer tmp.Close()

	hasher := sha1.New()
	writer := io.MultiWriter(tmp, hasher)
	var written int64
	buf := make([]byte, 16*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			written += int64(n)
			if !allowOversize && written > a.cfg.MaxFilesizeAllowed {
				os.Remove(tmp.Name())
				log.Error().Str("url", rawURL).Int64("bytes", written).Msg("File too big, aborting download")
				return "", 0, "", ErrTooLarge
			}
			if _, err := writer.Write(buf[:n]); err != nil {
				os.Remove(tmp.Name())
				return "", 0, "", fmt.Errorf("write download to temp file: %w", err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			os.Remove(tmp.Name())
			return "", 0, "", fmt.Errorf("stream download of %s: %w", rawURL, readErr)
		}
	}
	return tmp.Name(), written, hex.EncodeToString(hasher.Sum(nil)), nil
}
