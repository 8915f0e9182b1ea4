package clients

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/bdgd-cnpj/internal/debug"
	"github.com/bdgd-cnpj/internal/normalize"
)

// DefaultBatchSize is the number of clients written per transaction
const DefaultBatchSize = 5000

// Writer persists normalized clients
type Writer interface {
	UpsertBatch(ctx context.Context, batch []Client) (int, error)
}

// Municipality is one row of the IBGE municipality table
type Municipality struct {
	Name string
	UF   string
}

// ImportStats reports an import run
type ImportStats struct {
	Read     int
	Written  int
	Errors   int
	Unmapped int // municipality code not found
}

// Importer reads a BDGD CSV export and writes normalized clients
type Importer struct {
	writer         Writer
	splitter       normalize.Splitter
	municipalities map[string]Municipality
	BatchSize      int
}

// NewImporter creates an importer. A nil splitter uses the heuristic one.
func NewImporter(writer Writer, splitter normalize.Splitter) *Importer {
	if splitter == nil {
		splitter = normalize.HeuristicSplitter{}
	}
	return &Importer{
		writer:         writer,
		splitter:       splitter,
		municipalities: map[string]Municipality{},
		BatchSize:      DefaultBatchSize,
	}
}

// LoadMunicipalities reads a "code;name;state name" CSV. A header row is
// skipped, duplicated codes keep the first row.
func (imp *Importer) LoadMunicipalities(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open municipalities file %s: %w", path, err)
	}
	defer file.Close()

	return imp.readMunicipalities(file)
}

func (imp *Importer) readMunicipalities(r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read municipalities: %w", err)
		}
		if len(record) < 3 {
			continue
		}
		code := normalize.Digits(record[0])
		if code == "" {
			continue // header
		}
		if _, seen := imp.municipalities[code]; seen {
			continue
		}
		imp.municipalities[code] = Municipality{
			Name: normalize.Text(record[1]),
			UF:   normalize.StateCode(record[2]),
		}
	}
	return len(imp.municipalities), nil
}

// ImportFile imports a BDGD CSV export
func (imp *Importer) ImportFile(ctx context.Context, localDebug bool, path string) (ImportStats, error) {
	file, err := os.Open(path)
	if err != nil {
		return ImportStats{}, fmt.Errorf("failed to open BDGD file %s: %w", path, err)
	}
	defer file.Close()

	return imp.Import(ctx, localDebug, file)
}

// Import reads a header-first CSV, comma or semicolon separated, and writes
// clients in batches
func (imp *Importer) Import(ctx context.Context, localDebug bool, r io.Reader) (ImportStats, error) {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	var stats ImportStats

	buffered := bufio.NewReader(r)
	reader := csv.NewReader(buffered)
	reader.Comma = sniffDelimiter(buffered)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return stats, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := newColumnMap(header)
	if !columns.has("COD_ID_ENCR") && !columns.has("COD_ID") {
		return stats, errors.New("BDGD file has no COD_ID_ENCR or COD_ID column")
	}
	debug.DebugOutput(localDebug, "CSV columns: %v", header)

	batchSize := imp.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	progress := debug.NewProgress("clients imported", int64(batchSize))
	batch := make([]Client, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := imp.writer.UpsertBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("failed to write client batch: %w", err)
		}
		stats.Written += n
		progress.Add(int64(len(batch)))
		batch = batch[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			debug.DebugOutput(localDebug, "Error reading CSV record %d: %v", stats.Read, err)
			stats.Errors++
			continue
		}
		stats.Read++

		client, mapped := imp.buildClient(columns, record, stats.Read)
		if !mapped {
			stats.Unmapped++
		}
		batch = append(batch, client)

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}

	if err := flush(); err != nil {
		return stats, err
	}
	progress.Done()

	log.Printf("Import complete: %s read, %s written, %d errors, %d without municipality",
		debug.FormatCount(int64(stats.Read)), debug.FormatCount(int64(stats.Written)), stats.Errors, stats.Unmapped)
	return stats, nil
}

// buildClient normalizes one record. The bool is false when the municipality
// code could not be resolved.
func (imp *Importer) buildClient(columns columnMap, record []string, line int) (Client, bool) {
	get := func(name string) string { return columns.get(record, name) }

	c := Client{
		CodID:        get("COD_ID_ENCR"),
		LgrdOriginal: get("LGRD"),
		BrrOriginal:  get("BRR"),
		CEPOriginal:  get("CEP"),
		CNAEOriginal: get("CNAE"),
		MunCode:      get("MUN"),
		ClasSub:      get("CLAS_SUB"),
		GruTar:       get("GRU_TAR"),
	}
	if c.CodID == "" {
		c.CodID = get("COD_ID")
	}
	if c.CodID == "" {
		c.CodID = fmt.Sprintf("row_%d", line)
	}

	street, number := imp.splitter.Split(c.LgrdOriginal)
	c.Street = normalize.Text(street)
	c.Number = number
	c.Neighborhood = normalize.Text(c.BrrOriginal)
	c.CEP = normalize.PostalCode(c.CEPOriginal)
	c.CNAE = normalize.TaxCode(c.CNAEOriginal)
	c.CNAE5 = normalize.TaxCodePrefix(c.CNAE)

	mapped := true
	if c.MunCode != "" {
		if m, ok := imp.municipalities[c.MunCode]; ok {
			c.Municipio = m.Name
			c.UF = m.UF
		} else {
			mapped = false
		}
	}

	c.Lon = parseFloat(get("POINT_X"))
	c.Lat = parseFloat(get("POINT_Y"))

	if v := parseFloat(get("DEM_CONT")); v != nil {
		c.DemCont = *v
	}
	for m := 1; m <= 12; m++ {
		if v := parseFloat(get(fmt.Sprintf("ENE_%02d", m))); v != nil && *v > c.EneMax {
			c.EneMax = *v
		}
	}
	if v := parseFloat(get("LIV")); v != nil {
		c.Liv = int(*v)
	}
	c.PossuiSolar = get("CEG_GD") != ""

	return c, mapped
}

type columnMap map[string]int

func newColumnMap(header []string) columnMap {
	m := make(columnMap, len(header))
	for i, col := range header {
		name := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))
		if _, dup := m[name]; !dup {
			m[name] = i
		}
	}
	return m
}

func (m columnMap) has(name string) bool {
	_, ok := m[name]
	return ok
}

func (m columnMap) get(record []string, name string) string {
	idx, ok := m[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// sniffDelimiter picks ';' when the header line has more semicolons than commas
func sniffDelimiter(r *bufio.Reader) rune {
	peek, _ := r.Peek(4096)
	line := string(peek)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	if strings.Count(line, ";") > strings.Count(line, ",") {
		return ';'
	}
	return ','
}

// parseFloat accepts both "1.5" and "1,5"
func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	if !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}
