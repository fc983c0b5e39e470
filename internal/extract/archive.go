package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"
)

const maxEntryBytes = 64 << 20

// textFromArchive returns the first .md entry of a result zip, or the first
// .txt entry when there is no markdown.
func textFromArchive(data []byte) (name, text string, err error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", "", fmt.Errorf("%w: open zip: %v", ErrCorruptResult, err)
	}

	var md, txt *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		switch strings.ToLower(path.Ext(f.Name)) {
		case ".md":
			if md == nil {
				md = f
			}
		case ".txt":
			if txt == nil {
				txt = f
			}
		}
	}
	pick := md
	if pick == nil {
		pick = txt
	}
	if pick == nil {
		return "", "", ErrNoContentInArchive
	}

	rc, err := pick.Open()
	if err != nil {
		return "", "", fmt.Errorf("%w: open %s: %v", ErrCorruptResult, pick.Name, err)
	}
	defer rc.Close()

	b, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes))
	if err != nil {
		return "", "", fmt.Errorf("%w: read %s: %v", ErrCorruptResult, pick.Name, err)
	}
	if !utf8.Valid(b) {
		return "", "", fmt.Errorf("%w: %s is not valid UTF-8", ErrCorruptResult, pick.Name)
	}
	return pick.Name, strings.TrimPrefix(string(b), "\ufeff"), nil
}
