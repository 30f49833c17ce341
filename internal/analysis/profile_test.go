package analysis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestProfileCSVBasic(t *testing.T) {
	path := writeTempCSV(t, "code_insee,ratio,label\n01001,0.12,Ain\n01002,0.5,Bourg\n")

	profile, rows, err := ProfileCSV(path)
	require.NoError(t, err)
	assert.Equal(t, "utf-8", profile.Encoding)
	assert.Equal(t, ",", profile.Separator)
	assert.Equal(t, []string{"code_insee", "ratio", "label"}, profile.Header)
	assert.Equal(t, 2, profile.TotalLines)
	require.Len(t, rows, 2)
	assert.Equal(t, "int", profile.Formats["code_insee"])
	assert.Equal(t, "float", profile.Formats["ratio"])
	assert.Equal(t, "string", profile.Formats["label"])
}

func TestProfileCSVSemicolonDelimiter(t *testing.T) {
	path := writeTempCSV(t, "a;b\n1;x\n2;y\n")

	profile, _, err := ProfileCSV(path)
	require.NoError(t, err)
	assert.Equal(t, ";", profile.Separator)
	assert.Equal(t, []string{"a", "b"}, profile.Header)
}

func TestProfileCSVQuotedDelimiters(t *testing.T) {
	// Commas inside quotes must not sway delimiter detection.
	path := writeTempCSV(t, "name;desc\nx;\"a, b, c, d\"\n")

	profile, rows, err := ProfileCSV(path)
	require.NoError(t, err)
	assert.Equal(t, ";", profile.Separator)
	assert.Equal(t, "a, b, c, d", rows[0][1])
}

func TestProfileCSVEmptyFile(t *testing.T) {
	_, _, err := ProfileCSV(writeTempCSV(t, ""))
	require.Error(t, err)
	assert.Equal(t, "empty file", err.Error())

	_, _, err = ProfileCSV(writeTempCSV(t, "  \n "))
	require.Error(t, err)
}

func TestProfileCSVHeaderOnly(t *testing.T) {
	_, _, err := ProfileCSV(writeTempCSV(t, "code,value\n"))
	require.Error(t, err)
	assert.Equal(t, "no data rows", err.Error())
}

func TestProfileCSVWindows1252(t *testing.T) {
	// 0xE9 is é in windows-1252 and invalid UTF-8.
	path := writeTempCSV(t, "ville\nor\xe9e\n")

	profile, rows, err := ProfileCSV(path)
	require.NoError(t, err)
	assert.Equal(t, "windows-1252", profile.Encoding)
	assert.Equal(t, "orée", rows[0][0])
}

func TestProfileCSVBOM(t *testing.T) {
	path := writeTempCSV(t, "\xEF\xBB\xBFa,b\n1,2\n")

	profile, _, err := ProfileCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, profile.Header)
}

func TestProfileCSVFormatWidening(t *testing.T) {
	path := writeTempCSV(t, "mixed_num,mixed_date,mixed_any,flag\n1,2022-12-31,1,true\n2.5,2022-12-31 10:00:00,abc,false\n")

	profile, _, err := ProfileCSV(path)
	require.NoError(t, err)
	assert.Equal(t, "float", profile.Formats["mixed_num"])
	assert.Equal(t, "datetime", profile.Formats["mixed_date"])
	assert.Equal(t, "string", profile.Formats["mixed_any"])
	assert.Equal(t, "bool", profile.Formats["flag"])
}

func TestProfileCSVStats(t *testing.T) {
	path := writeTempCSV(t, "n,s\n1,a\n3,b\n,c\n3,d\n")

	profile, _, err := ProfileCSV(path)
	require.NoError(t, err)
	stats := profile.Stats["n"]
	assert.Equal(t, 2, stats.Distinct)
	assert.Equal(t, 1, stats.Empty)
	require.NotNil(t, stats.Min)
	assert.EqualValues(t, 1, *stats.Min)
	require.NotNil(t, stats.Max)
	assert.EqualValues(t, 3, *stats.Max)
	require.NotNil(t, stats.Mean)
	assert.InDelta(t, 7.0/3.0, *stats.Mean, 1e-9)
}

func TestProfileCSVInconsistentColumns(t *testing.T) {
	_, _, err := ProfileCSV(writeTempCSV(t, "a,b\n1\n"))
	assert.Error(t, err)
}
