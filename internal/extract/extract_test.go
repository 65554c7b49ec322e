package extract

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractSubstitutesUIDAndStripsTrailingDelimiter(t *testing.T) {
	const uid = "a1b2c3d4-0000-0000-0000-000000000000"
	const id = "42"

	csvLine := uid + ";2024-01-02T00:00:00Z;1.0;2.0;3.0;0.5;100;\n"
	archive := buildZip(t, map[string]string{"2024.csv": csvLine})

	got, err := Extract(archive, uid, id)
	require.NoError(t, err)

	assert.False(t, bytes.Contains(got, []byte(uid)), "result still contains uid: %q", got)
	assert.True(t, strings.HasPrefix(string(got), id+";"), "result does not start with substituted id: %q", got)
	assert.False(t, bytes.HasSuffix(bytes.TrimRight(got, "\n"), []byte(";")), "result still has trailing delimiter: %q", got)
}

func TestExtractConcatenatesMultipleEntries(t *testing.T) {
	const uid = "uid-x"
	const id = "7"

	archive := buildZip(t, map[string]string{
		"a.csv": uid + ";1;1;1;1;1;1;\n",
		"b.csv": uid + ";2;2;2;2;2;2;\n",
	})

	got, err := Extract(archive, uid, id)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(got), "\n"), "\n")
	assert.Len(t, lines, 2)
}

func TestExtractInvalidArchive(t *testing.T) {
	_, err := Extract([]byte("not a zip"), "uid", "1")
	assert.Error(t, err)
}
