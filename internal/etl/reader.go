package etl

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// scanZip streams every CSV record of every entry of a Receita Federal ZIP.
// Files are ISO-8859-1, semicolon separated, double-quoted and headerless.
// Records the CSV reader cannot parse are counted and skipped. The record
// slice is reused between calls.
func scanZip(path string, fn func(record []string) error) (malformed int64, err error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "__MACOSX") || f.FileInfo().IsDir() {
			continue
		}
		n, err := scanEntry(f, fn)
		malformed += n
		if err != nil {
			return malformed, fmt.Errorf("%s/%s: %w", path, f.Name, err)
		}
	}
	return malformed, nil
}

func scanEntry(f *zip.File, fn func(record []string) error) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	return scanCSV(charmap.ISO8859_1.NewDecoder().Reader(rc), fn)
}

func scanCSV(r io.Reader, fn func(record []string) error) (int64, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	var malformed int64
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return malformed, nil
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			malformed++
			continue
		}
		if err != nil {
			return malformed, err
		}
		if err := fn(record); err != nil {
			return malformed, err
		}
	}
}
