// Package jar reads and writes plugin archives entry by entry.
package jar

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/flate"
)

// MaxEntrySize bounds the uncompressed size of one archive entry.
const MaxEntrySize = 64 << 20

// Entry is one archive member with its uncompressed contents.
type Entry struct {
	Header zip.FileHeader
	Data   []byte
}

// Name returns the entry path inside the archive.
func (e *Entry) Name() string { return e.Header.Name }

// IsClass reports whether the entry holds a class file that belongs to
// the module, as opposed to module descriptors and resources.
func (e *Entry) IsClass() bool {
	return IsClassName(e.Header.Name)
}

// IsClassName reports whether an entry name denotes a class file.
func IsClassName(name string) bool {
	return strings.HasSuffix(name, ".class") &&
		!strings.HasSuffix(name, "module-info.class") &&
		!strings.HasSuffix(name, "package-info.class")
}

// ReadFile reads every entry of the archive at path, in archive order.
func ReadFile(path string) ([]*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Read(data)
}

// Read decodes an archive held in memory.
func Read(data []byte) ([]*Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)

	entries := make([]*Entry, 0, len(zr.File))
	for _, f := range zr.File {
		if f.UncompressedSize64 > MaxEntrySize {
			return nil, fmt.Errorf("%s: entry too large (%d bytes)", f.Name, f.UncompressedSize64)
		}
		e := &Entry{Header: f.FileHeader}
		if !f.FileInfo().IsDir() {
			if e.Data, err = readEntry(f); err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, MaxEntrySize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxEntrySize {
		return nil, fmt.Errorf("entry exceeds %d bytes", MaxEntrySize)
	}
	return data, nil
}

// Write encodes entries as an archive in the given order. Headers are
// kept; sizes and checksums are recomputed from Data.
func Write(w io.Writer, entries []*Entry) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})
	for _, e := range entries {
		hdr := e.Header
		hdr.CRC32, hdr.CompressedSize64, hdr.UncompressedSize64 = 0, 0, 0
		hdr.CompressedSize, hdr.UncompressedSize = 0, 0 //nolint:staticcheck
		fw, err := zw.CreateHeader(&hdr)
		if err != nil {
			return fmt.Errorf("%s: %w", e.Header.Name, err)
		}
		if _, err := fw.Write(e.Data); err != nil {
			return fmt.Errorf("%s: %w", e.Header.Name, err)
		}
	}
	return zw.Close()
}
