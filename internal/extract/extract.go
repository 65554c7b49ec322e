// Package extract decompresses a history archive, substitutes the
// instrument UID for its numeric surrogate id, and strips the CSV
// producer's trailing delimiter.
package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
)

// Extract decompresses a ZIP archive, concatenates every entry's raw bytes,
// substitutes every ASCII occurrence of uid with id, and replaces a
// trailing ";\n" with "\n" (the source producer's trailing empty field,
// which the candle schema does not accept). Deterministic, no shared
// state, safe to call from any goroutine.
func Extract(zipBytes []byte, uid, id string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return nil, fmt.Errorf("extract: open archive: %w", err)
	}

	var concatenated bytes.Buffer
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := appendEntry(&concatenated, f); err != nil {
			return nil, fmt.Errorf("extract: read entry %s: %w", f.Name, err)
		}
	}

	rewritten := bytes.ReplaceAll(concatenated.Bytes(), []byte(uid), []byte(id))
	rewritten = bytes.ReplaceAll(rewritten, []byte(";\n"), []byte("\n"))
	rewritten = bytes.ReplaceAll(rewritten, []byte(";\r\n"), []byte("\r\n"))

	return rewritten, nil
}

func appendEntry(dst *bytes.Buffer, f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = io.Copy(dst, rc)
	return err
}
