package etl

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/bdgd-cnpj/internal/registry"
)

// quoted renders one Receita Federal line
func quoted(fields ...string) string {
	return `"` + strings.Join(fields, `";"`) + `"`
}

// writeZip writes lines as an ISO-8859-1 CSV entry of dir/name.zip, next to a
// __MACOSX resource fork that must be ignored
func writeZip(t *testing.T, dir, name string, lines ...string) {
	t.Helper()

	f, err := os.Create(filepath.Join(dir, name+".zip"))
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("K3241.K03200Y0.D60111." + strings.ToUpper(name) + "CSV")
	require.NoError(t, err)
	body, err := charmap.ISO8859_1.NewEncoder().String(strings.Join(lines, "\n") + "\n")
	require.NoError(t, err)
	_, err = w.Write([]byte(body))
	require.NoError(t, err)

	junk, err := zw.Create("__MACOSX/._" + name)
	require.NoError(t, err)
	_, err = junk.Write([]byte("\x00\x05\x16\x07garbage;;;"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
}

type estab struct {
	basico, ordem, dv, situacao, fantasia, cnae, secundarios string
	numero, bairro, cep, municipio, ddd, fone, email         string
}

func (e estab) line() string {
	return quoted(
		e.basico, e.ordem, e.dv, "1", e.fantasia, e.situacao, "20050315", "00", "", "",
		"20050301", e.cnae, e.secundarios, "RUA", "DAS FLORES", e.numero, "SALA 2", e.bairro,
		e.cep, "SP", e.municipio, e.ddd, e.fone, "", "", "", "", e.email, "", "",
	)
}

// writeDataDir writes a small but complete set of bulk files:
//   - 11111111 active with company, Simples and partners
//   - 22222222 active but MEI
//   - 33333333 only inactive establishments
//   - 44444444 active without company, present in two shards
func writeDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	writeZip(t, dir, LookupCNAEs,
		quoted("4711301", "Comércio varejista de mercadorias em geral"),
		quoted("4721102", "Padaria e confeitaria com predominância de revenda"),
	)
	writeZip(t, dir, LookupMunicipios, quoted("6291", "CAMPINAS"))
	writeZip(t, dir, LookupNaturezas, quoted("2062", "Sociedade Empresária Limitada"))
	writeZip(t, dir, LookupQualificacoes, quoted("49", "Sócio-Administrador"))
	writeZip(t, dir, LookupMotivos, quoted("00", "SEM MOTIVO"))

	writeZip(t, dir, "Estabelecimentos0",
		estab{basico: "11111111", ordem: "0001", dv: "81", situacao: "02", fantasia: "MERCADO SÃO JOSÉ",
			cnae: "4711301", secundarios: "4721102,0000000", numero: "120", bairro: "CENTRO",
			cep: "13670000", municipio: "6291", ddd: "19", fone: "32345678", email: "CONTATO@MERCADO.COM.BR"}.line(),
		estab{basico: "11111111", ordem: "0002", dv: "62", situacao: "08", cnae: "4711301"}.line(),
		estab{basico: "22222222", ordem: "0001", dv: "00", situacao: "02", cnae: "4711301"}.line(),
		estab{basico: "33333333", ordem: "0001", dv: "00", situacao: "08", cnae: "4711301"}.line(),
		estab{basico: "44444444", ordem: "0001", dv: "00", situacao: "02", fantasia: "ANTIGO", cnae: "4721102"}.line(),
		quoted("short", "row"),
	)
	writeZip(t, dir, "Estabelecimentos1",
		estab{basico: "44444444", ordem: "0001", dv: "00", situacao: "02", fantasia: "NOVO", cnae: "4721102"}.line(),
		estab{basico: "5555555", ordem: "0001", dv: "00", situacao: "02", cnae: "4721102"}.line(),
	)

	writeZip(t, dir, "Simples",
		quoted("11111111", "S", "20100101", "", "N", "", ""),
		quoted("22222222", "N", "", "", "S", "20150101", ""),
		quoted("33333333", "S", "", "", "N", "", ""),
	)
	writeZip(t, dir, "Empresas0",
		quoted("11111111", "MERCADO SÃO JOSÉ LTDA", "2062", "49", "10000,50", "01", ""),
		quoted("22222222", "JOAO DA SILVA", "2135", "50", "1000,00", "01", ""),
		quoted("33333333", "BAIXADA LTDA", "2062", "49", "0,00", "05", ""),
	)
	writeZip(t, dir, "Socios0",
		quoted("11111111", "2", "MARIA SILVA", "***123456**", "49", "20100101", "", "", "", "", ""),
		quoted("11111111", "2", "JOSE SOUZA", "***654321**", "99", "20100101", "", "", "", "", ""),
		quoted("22222222", "2", "JOAO DA SILVA", "***111111**", "49", "20150101", "", "", "", "", ""),
		quoted("x"),
	)
	return dir
}

type stagedRow struct {
	seq     int64
	company registry.Company
}

// memoryStore keeps staging in memory and merges the way the SQL does
type memoryStore struct {
	mu        sync.Mutex
	staging   []stagedRow
	resets    int
	drops     int
	registry  map[string]registry.Company
	partners  map[string][]registry.Partner
	mergeErr  error
	writeErr  error
	prunedArg bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{registry: map[string]registry.Company{
		"99999999000199": {CNPJ: "99999999000199"},
	}}
}

func (s *memoryStore) ResetStaging(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	s.staging = nil
	return nil
}

func (s *memoryStore) NewStagingWriter(ctx context.Context, batchSize int) (StagingWriter, error) {
	return &memoryWriter{store: s}, nil
}

func (s *memoryStore) Merge(ctx context.Context, prune bool) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prunedArg = prune
	if s.mergeErr != nil {
		return 0, 0, s.mergeErr
	}

	rows := append([]stagedRow(nil), s.staging...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	last := make(map[string]registry.Company)
	for _, r := range rows {
		last[r.company.CNPJ] = r.company
	}

	var pruned int64
	if prune {
		for cnpj := range s.registry {
			if _, ok := last[cnpj]; !ok {
				delete(s.registry, cnpj)
				pruned++
			}
		}
	}
	for cnpj, c := range last {
		s.registry[cnpj] = c
	}
	return int64(len(last)), pruned, nil
}

func (s *memoryStore) DropStaging(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops++
	return nil
}

func (s *memoryStore) UpdatePartners(ctx context.Context, partners map[string][]registry.Partner) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partners = partners
	var updated int64
	for cnpj, c := range s.registry {
		if list, ok := partners[cnpj[:8]]; ok {
			c.Socios = list
			s.registry[cnpj] = c
			updated++
		}
	}
	return updated, nil
}

type memoryWriter struct {
	store *memoryStore
}

func (w *memoryWriter) Write(seq int64, c registry.Company) error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	if w.store.writeErr != nil {
		return w.store.writeErr
	}
	w.store.staging = append(w.store.staging, stagedRow{seq: seq, company: c})
	return nil
}

func (w *memoryWriter) Close() error { return nil }
