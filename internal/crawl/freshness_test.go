package crawl

import (
	"testing"
	"time"

	"github.com/datagouv/hydra-go/internal/models"
	"github.com/datagouv/hydra-go/internal/storage"
	"github.com/stretchr/testify/assert"
)

func TestNeedsCheck(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	defaultDelay := 7 * 24 * time.Hour
	checkID := int64(1)

	at := func(d time.Duration) *time.Time {
		t := now.Add(-d)
		return &t
	}

	t.Run("never checked", func(t *testing.T) {
		cand := storage.Candidate{Resource: models.Resource{ResourceID: "r"}}
		assert.True(t, needsCheck(cand, now, defaultDelay))
	})

	t.Run("priority always due", func(t *testing.T) {
		cand := storage.Candidate{
			Resource:    models.Resource{ResourceID: "r", Priority: true},
			LastCheckID: &checkID,
			LastCheckAt: at(time.Minute),
		}
		assert.True(t, needsCheck(cand, now, defaultDelay))
	})

	t.Run("default delay", func(t *testing.T) {
		recent := storage.Candidate{
			Resource:    models.Resource{ResourceID: "r"},
			LastCheckID: &checkID,
			LastCheckAt: at(6 * 24 * time.Hour),
		}
		assert.False(t, needsCheck(recent, now, defaultDelay), "checked 6 days ago, default delay is 7")

		overdue := storage.Candidate{
			Resource:    models.Resource{ResourceID: "r"},
			LastCheckID: &checkID,
			LastCheckAt: at(8 * 24 * time.Hour),
		}
		assert.True(t, needsCheck(overdue, now, defaultDelay), "checked 8 days ago")
	})

	t.Run("apparent change interval", func(t *testing.T) {
		// Resource appears to change hourly: due again after an hour even
		// though the default delay is a week.
		fast := storage.Candidate{
			Resource:               models.Resource{ResourceID: "r"},
			LastCheckID:            &checkID,
			LastCheckAt:            at(2 * time.Hour),
			DetectedLastModifiedAt: at(time.Hour),
		}
		assert.True(t, needsCheck(fast, now, defaultDelay))

		// Resource appears stable for a year: one day since the last check
		// does not make it stale.
		slow := storage.Candidate{
			Resource:               models.Resource{ResourceID: "r"},
			LastCheckID:            &checkID,
			LastCheckAt:            at(24 * time.Hour),
			DetectedLastModifiedAt: at(365 * 24 * time.Hour),
		}
		assert.False(t, needsCheck(slow, now, defaultDelay))
	})
}

func TestExcludedURL(t *testing.T) {
	patterns := []string{"http%example1%", "%forbidden%"}

	assert.True(t, excludedURL("http://example1.com/file.csv", patterns))
	assert.True(t, excludedURL("https://other.org/forbidden/data.csv", patterns))
	assert.False(t, excludedURL("https://example2.com/file.csv", patterns))
	assert.False(t, excludedURL("https://ok.org/data.csv", nil))
	assert.False(t, excludedURL("https://ok.org/data.csv", []string{""}))
}

func TestLikeToWildcard(t *testing.T) {
	assert.Equal(t, "http*example*", likeToWildcard("http%example%"))
	assert.Equal(t, "a?c", likeToWildcard("a_c"))
}
