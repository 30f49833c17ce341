package crawl

import (
	"testing"
	"time"

	"github.com/datagouv/hydra-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkWithHeaders(headers map[string]string) *models.Check {
	status := 200
	return &models.Check{Status: &status, Headers: headers}
}

func TestDetectChangeLastModifiedHeader(t *testing.T) {
	now := time.Now().UTC()

	t.Run("first sighting counts as change", func(t *testing.T) {
		cur := checkWithHeaders(map[string]string{"last-modified": "Thu, 26 Mar 2020 17:16:03 GMT"})
		v := detectChange(nil, cur, nil, now)
		assert.True(t, v.Decided)
		assert.True(t, v.Changed)
		assert.Equal(t, models.SourceLastModifiedHeader, v.Source)
		require.NotNil(t, v.DetectedAt)
		assert.Equal(t, time.Date(2020, 3, 26, 17, 16, 3, 0, time.UTC), *v.DetectedAt)
	})

	t.Run("identical header settles unchanged", func(t *testing.T) {
		prev := checkWithHeaders(map[string]string{"last-modified": "Thu, 26 Mar 2020 17:16:03 GMT"})
		cur := checkWithHeaders(map[string]string{"last-modified": "Thu, 26 Mar 2020 17:16:03 GMT"})
		v := detectChange(prev, cur, nil, now)
		assert.True(t, v.Decided)
		assert.False(t, v.Changed)
	})

	t.Run("same instant in another timezone is unchanged", func(t *testing.T) {
		prev := checkWithHeaders(map[string]string{"last-modified": "Thu, 26 Mar 2020 18:16:03 GMT+1"})
		cur := checkWithHeaders(map[string]string{"last-modified": "Thu, 26 Mar 2020 21:16:03 GMT+4"})
		v := detectChange(prev, cur, nil, now)
		assert.True(t, v.Decided)
		assert.False(t, v.Changed)
	})

	t.Run("different value is a change", func(t *testing.T) {
		prev := checkWithHeaders(map[string]string{"last-modified": "Thu, 26 Mar 2020 17:16:03 GMT"})
		cur := checkWithHeaders(map[string]string{"last-modified": "Fri, 27 Mar 2020 09:00:00 GMT"})
		v := detectChange(prev, cur, nil, now)
		assert.True(t, v.Decided)
		assert.True(t, v.Changed)
		assert.Equal(t, models.SourceLastModifiedHeader, v.Source)
	})

	t.Run("matches previously detected modification without header", func(t *testing.T) {
		detected := time.Date(2020, 3, 26, 17, 16, 3, 0, time.UTC)
		prev := checkWithHeaders(map[string]string{"content-type": "application/json"})
		prev.DetectedLastModifiedAt = &detected
		cur := checkWithHeaders(map[string]string{"last-modified": "Thu, 26 Mar 2020 17:16:03 GMT"})
		v := detectChange(prev, cur, nil, now)
		assert.True(t, v.Decided)
		assert.False(t, v.Changed)
	})
}

func TestDetectChangeContentLength(t *testing.T) {
	now := time.Now().UTC()

	t.Run("equal lengths settle unchanged", func(t *testing.T) {
		prev := checkWithHeaders(map[string]string{"content-length": "100"})
		cur := checkWithHeaders(map[string]string{"content-length": "100"})
		v := detectChange(prev, cur, nil, now)
		assert.True(t, v.Decided)
		assert.False(t, v.Changed)
	})

	t.Run("different lengths are a change dated now", func(t *testing.T) {
		prev := checkWithHeaders(map[string]string{"content-length": "100"})
		cur := checkWithHeaders(map[string]string{"content-length": "200"})
		v := detectChange(prev, cur, nil, now)
		assert.True(t, v.Decided)
		assert.True(t, v.Changed)
		assert.Equal(t, models.SourceContentLengthHeader, v.Source)
		require.NotNil(t, v.DetectedAt)
		assert.True(t, now.Equal(*v.DetectedAt))
	})

	t.Run("one-sided length is not comparable", func(t *testing.T) {
		prev := checkWithHeaders(map[string]string{})
		cur := checkWithHeaders(map[string]string{"content-length": "200"})
		v := detectChange(prev, cur, nil, now)
		assert.False(t, v.Decided)
	})
}

func TestDetectChangeHarvestMetadata(t *testing.T) {
	now := time.Now().UTC()
	harvest := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

	t.Run("harvest matching detection is unchanged", func(t *testing.T) {
		prev := checkWithHeaders(map[string]string{})
		prev.DetectedLastModifiedAt = &harvest
		cur := checkWithHeaders(map[string]string{})
		v := detectChange(prev, cur, &harvest, now)
		assert.True(t, v.Decided)
		assert.False(t, v.Changed)
	})

	t.Run("new harvest timestamp is a change", func(t *testing.T) {
		older := harvest.Add(-24 * time.Hour)
		prev := checkWithHeaders(map[string]string{})
		prev.DetectedLastModifiedAt = &older
		cur := checkWithHeaders(map[string]string{})
		v := detectChange(prev, cur, &harvest, now)
		assert.True(t, v.Decided)
		assert.True(t, v.Changed)
		assert.Equal(t, models.SourceHarvestMetadata, v.Source)
		require.NotNil(t, v.DetectedAt)
		assert.True(t, harvest.Equal(*v.DetectedAt))
	})
}

func TestDetectChangeUndecided(t *testing.T) {
	v := detectChange(checkWithHeaders(map[string]string{}), checkWithHeaders(map[string]string{}), nil, time.Now())
	assert.False(t, v.Decided)
	assert.False(t, v.Changed)
}

func TestContentTypeChanged(t *testing.T) {
	prev := checkWithHeaders(map[string]string{"content-type": "text/csv; charset=utf-8"})
	same := checkWithHeaders(map[string]string{"content-type": "text/csv"})
	other := checkWithHeaders(map[string]string{"content-type": "application/json"})

	assert.False(t, contentTypeChanged(nil, other))
	assert.False(t, contentTypeChanged(prev, same), "parameters are ignored")
	assert.True(t, contentTypeChanged(prev, other))
	assert.False(t, contentTypeChanged(prev, checkWithHeaders(map[string]string{})))
}

func TestStatusChanged(t *testing.T) {
	ok := checkWithHeaders(nil)
	notFound := checkWithHeaders(nil)
	nf := 404
	notFound.Status = &nf
	failed := &models.Check{}

	assert.False(t, statusChanged(nil, ok))
	assert.False(t, statusChanged(ok, ok))
	assert.True(t, statusChanged(ok, notFound))
	assert.True(t, statusChanged(ok, failed))
	assert.True(t, statusChanged(failed, ok))
	assert.False(t, statusChanged(failed, failed))
}
