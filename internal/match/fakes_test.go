package match

import (
	"context"
	"sort"
	"sync"

	"github.com/bdgd-cnpj/internal/clients"
	"github.com/bdgd-cnpj/internal/registry"
)

type fallbackCall struct {
	municipio string
	cnae      string
	exclude   []string
	limit     int
}

type fakeCandidates struct {
	mu        sync.Mutex
	byCEP     map[string][]registry.Company
	fallback  []registry.Company
	err       error
	cepCalls  []string
	fallbacks []fallbackCall
}

func (f *fakeCandidates) ActiveByCEP(ctx context.Context, cep string, limit int) ([]registry.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cepCalls = append(f.cepCalls, cep)
	if f.err != nil {
		return nil, f.err
	}
	found := f.byCEP[cep]
	if len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

func (f *fakeCandidates) ActiveByMunicipioCNAE(ctx context.Context, municipio, cnae string, excludeCEPs []string, limit int) ([]registry.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallbacks = append(f.fallbacks, fallbackCall{municipio: municipio, cnae: cnae, exclude: excludeCEPs, limit: limit})
	if f.err != nil {
		return nil, f.err
	}
	return f.fallback, nil
}

type fakeClients struct {
	clients []clients.Client
	err     error
}

func (f *fakeClients) Page(ctx context.Context, afterID int64, limit int) ([]clients.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	var page []clients.Client
	for _, c := range f.clients {
		if c.ID > afterID {
			page = append(page, c)
		}
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

type memoryStore struct {
	mu        sync.Mutex
	rows      map[string][]Result
	replaced  []string
	truncated bool
	err       error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[string][]Result)}
}

func (m *memoryStore) Replace(ctx context.Context, codID string, results []Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.replaced = append(m.replaced, codID)
	if len(results) == 0 {
		delete(m.rows, codID)
		return nil
	}
	m.rows[codID] = results
	return nil
}

func (m *memoryStore) BestMatch(ctx context.Context, codID string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[codID]
	if len(rows) == 0 {
		return nil, nil
	}
	best := rows[0]
	return &best, nil
}

func (m *memoryStore) AllMatches(ctx context.Context, codID string) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Result{}, m.rows[codID]...), nil
}

func (m *memoryStore) BatchBest(ctx context.Context, codIDs []string) (map[string]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Result)
	for _, id := range codIDs {
		if rows := m.rows[id]; len(rows) > 0 {
			out[id] = rows[0]
		}
	}
	return out, nil
}

func (m *memoryStore) Stats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st Stats
	for _, rows := range m.rows {
		st.ClientsMatched++
		st.TotalMatches += int64(len(rows))
	}
	return st, nil
}

func (m *memoryStore) Truncate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.truncated = true
	m.rows = make(map[string][]Result)
	return nil
}

func (m *memoryStore) replacedSorted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]string{}, m.replaced...)
	sort.Strings(out)
	return out
}
