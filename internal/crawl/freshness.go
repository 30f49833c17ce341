package crawl

import (
	"strings"
	"time"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/datagouv/hydra-go/internal/storage"
)

// needsCheck implements the freshness rule: priority always wins, a resource
// never probed is due, and otherwise the elapsed time since the last check
// must exceed either the apparent remote change interval (when a
// modification was detected) or the configured default delay.
func needsCheck(cand storage.Candidate, now time.Time, defaultDelay time.Duration) bool {
	if cand.Resource.Priority {
		return true
	}
	if cand.LastCheckID == nil || cand.LastCheckAt == nil {
		return true
	}
	sinceLastCheck := now.Sub(*cand.LastCheckAt)
	if cand.DetectedLastModifiedAt != nil {
		return sinceLastCheck > now.Sub(*cand.DetectedLastModifiedAt)
	}
	return sinceLastCheck > defaultDelay
}

// excludedURL matches a URL against the configured SQL LIKE style exclusion
// patterns ("http%example%").
func excludedURL(rawURL string, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if wildcard.Match(likeToWildcard(pattern), rawURL) {
			return true
		}
	}
	return false
}

// likeToWildcard translates SQL LIKE wildcards into glob-style ones.
func likeToWildcard(pattern string) string {
	pattern = strings.ReplaceAll(pattern, "%", "*")
	return strings.ReplaceAll(pattern, "_", "?")
}
