package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/collect/modules/debtors/domain/aggregates/person"
	"github.com/ledgerline/collect/modules/debtors/domain/entities/account"
	"github.com/ledgerline/collect/modules/debtors/domain/entities/portfolio"
	"github.com/ledgerline/collect/modules/debtors/domain/entities/skiptrace"
	"github.com/ledgerline/collect/pkg/composables"
)

// In-memory repositories for tests. They reproduce the natural-key semantics
// of the SQL upserts so the loader and delete-cascade paths exercise the same
// branches against either backend.

type InmemPersonRepository struct {
	mu      sync.Mutex
	persons map[uuid.UUID]person.Person
	// Orphan detection consults the sibling fakes for remaining references.
	accounts *InmemAccountRepository
	subjects *InmemSubjectRepository
}

func NewInmemPersonRepository(accounts *InmemAccountRepository, subjects *InmemSubjectRepository) *InmemPersonRepository {
	return &InmemPersonRepository{
		persons:  make(map[uuid.UUID]person.Person),
		accounts: accounts,
		subjects: subjects,
	}
}

func (r *InmemPersonRepository) GetByID(ctx context.Context, id uuid.UUID) (person.Person, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.persons[id]
	if !ok {
		return person.Person{}, person.ErrNotFound
	}
	return p, nil
}

func (r *InmemPersonRepository) GetByNationalID(ctx context.Context, nationalID string) (person.Person, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return person.Person{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.persons {
		if p.TenantID() == tenantID && p.NationalID() == nationalID {
			return p, nil
		}
	}
	return person.Person{}, person.ErrNotFound
}

func (r *InmemPersonRepository) FindOrCreate(ctx context.Context, p person.Person) (person.Person, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.persons {
		if existing.TenantID() == p.TenantID() && existing.NationalID() == p.NationalID() {
			merged := mergePerson(existing, p)
			r.persons[merged.ID()] = merged
			return merged, nil
		}
	}
	now := time.Now()
	created := person.Hydrate(
		uuid.New(), p.TenantID(), p.NationalID(),
		p.FullName(), p.FirstName(), p.LastName(),
		p.DateOfBirth(), p.Deceased(), p.DeceasedDate(),
		now, now,
	)
	r.persons[created.ID()] = created
	return created, nil
}

// mergePerson applies the same enrich-but-never-blank rules as the SQL
// ON CONFLICT DO UPDATE clause.
func mergePerson(existing, incoming person.Person) person.Person {
	pick := func(cur, next string) string {
		if cur == "" {
			return next
		}
		return cur
	}
	dob := existing.DateOfBirth()
	if dob.IsZero() {
		dob = incoming.DateOfBirth()
	}
	deceasedDate := existing.DeceasedDate()
	if deceasedDate.IsZero() {
		deceasedDate = incoming.DeceasedDate()
	}
	return person.Hydrate(
		existing.ID(), existing.TenantID(), existing.NationalID(),
		pick(existing.FullName(), incoming.FullName()),
		pick(existing.FirstName(), incoming.FirstName()),
		pick(existing.LastName(), incoming.LastName()),
		dob,
		existing.Deceased() || incoming.Deceased(),
		deceasedDate,
		existing.CreatedAt(), time.Now(),
	)
}

func (r *InmemPersonRepository) OrphanIDs(ctx context.Context) ([]uuid.UUID, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uuid.UUID
	for id, p := range r.persons {
		if p.TenantID() != tenantID {
			continue
		}
		if r.accounts != nil && r.accounts.references(id) {
			continue
		}
		if r.subjects != nil && r.subjects.references(id) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (r *InmemPersonRepository) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := r.persons[id]; ok {
			delete(r.persons, id)
			n++
		}
	}
	return n, nil
}

func (r *InmemPersonRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.persons)
}

type accountKey struct {
	tenantID      uuid.UUID
	portfolioID   uuid.UUID
	accountNumber string
}

type InmemAccountRepository struct {
	mu       sync.Mutex
	accounts map[accountKey]account.DebtAccount
}

func NewInmemAccountRepository() *InmemAccountRepository {
	return &InmemAccountRepository{accounts: make(map[accountKey]account.DebtAccount)}
}

func (r *InmemAccountRepository) BulkUpsert(ctx context.Context, accounts []account.DebtAccount) (int, int, []account.UpsertFailure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var failures []account.UpsertFailure
	seen := make(map[accountKey]int, len(accounts))
	var deduped []account.DebtAccount
	for _, a := range accounts {
		key := accountKey{a.TenantID, a.PortfolioID, a.AccountNumber}
		if idx, dup := seen[key]; dup {
			failures = append(failures, account.UpsertFailure{
				AccountNumber: deduped[idx].AccountNumber,
				Message:       "duplicate account number in chunk, last occurrence kept",
			})
			deduped[idx] = a
			continue
		}
		seen[key] = len(deduped)
		deduped = append(deduped, a)
	}

	inserted, updated := 0, 0
	for _, a := range deduped {
		key := accountKey{a.TenantID, a.PortfolioID, a.AccountNumber}
		if existing, ok := r.accounts[key]; ok {
			a.ID = existing.ID
			a.CreatedAt = existing.CreatedAt
			updated++
		} else {
			a.ID = uuid.New()
			a.CreatedAt = time.Now()
			inserted++
		}
		a.UpdatedAt = time.Now()
		r.accounts[key] = a
	}
	return inserted, updated, failures, nil
}

func (r *InmemAccountRepository) CountByPortfolio(ctx context.Context, portfolioID uuid.UUID, excludeJobID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.accounts {
		if a.PortfolioID == portfolioID && a.ImportJobID != excludeJobID {
			n++
		}
	}
	return n, nil
}

func (r *InmemAccountRepository) DeleteByJob(ctx context.Context, jobID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for key, a := range r.accounts {
		if a.ImportJobID == jobID {
			delete(r.accounts, key)
			n++
		}
	}
	return n, nil
}

func (r *InmemAccountRepository) references(personID uuid.UUID) bool {
	for _, a := range r.accounts {
		if a.PersonID == personID {
			return true
		}
	}
	return false
}

func (r *InmemAccountRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}

type InmemSubjectRepository struct {
	mu       sync.Mutex
	subjects map[uuid.UUID]skiptrace.Subject // keyed by person id
}

func NewInmemSubjectRepository() *InmemSubjectRepository {
	return &InmemSubjectRepository{subjects: make(map[uuid.UUID]skiptrace.Subject)}
}

func (r *InmemSubjectRepository) BulkUpsert(ctx context.Context, subjects []skiptrace.Subject) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inserted, updated := 0, 0
	for _, s := range subjects {
		if existing, ok := r.subjects[s.PersonID]; ok {
			existing.ImportJobID = s.ImportJobID
			existing.UpdatedAt = time.Now()
			r.subjects[s.PersonID] = existing
			updated++
			continue
		}
		s.ID = uuid.New()
		s.CreatedAt = time.Now()
		s.UpdatedAt = s.CreatedAt
		r.subjects[s.PersonID] = s
		inserted++
	}
	return inserted, updated, nil
}

func (r *InmemSubjectRepository) DeleteByJob(ctx context.Context, jobID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for personID, s := range r.subjects {
		if s.ImportJobID == jobID {
			delete(r.subjects, personID)
			n++
		}
	}
	return n, nil
}

func (r *InmemSubjectRepository) CountByPersons(ctx context.Context, personIDs []uuid.UUID, excludeJobID uuid.UUID) (map[uuid.UUID]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uuid.UUID]int64)
	for _, id := range personIDs {
		if s, ok := r.subjects[id]; ok && s.ImportJobID != excludeJobID {
			out[id]++
		}
	}
	return out, nil
}

func (r *InmemSubjectRepository) references(personID uuid.UUID) bool {
	_, ok := r.subjects[personID]
	return ok
}

type satelliteKey struct {
	category skiptrace.Category
	personID uuid.UUID
	dedupKey string
}

type InmemSatelliteRepository struct {
	mu      sync.Mutex
	records map[satelliteKey]skiptrace.Satellite
}

func NewInmemSatelliteRepository() *InmemSatelliteRepository {
	return &InmemSatelliteRepository{records: make(map[satelliteKey]skiptrace.Satellite)}
}

func (r *InmemSatelliteRepository) ExistingKeys(ctx context.Context, category skiptrace.Category, personIDs []uuid.UUID) (map[uuid.UUID]map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := make(map[uuid.UUID]struct{}, len(personIDs))
	for _, id := range personIDs {
		wanted[id] = struct{}{}
	}
	out := make(map[uuid.UUID]map[string]struct{})
	for key := range r.records {
		if key.category != category {
			continue
		}
		if _, ok := wanted[key.personID]; !ok {
			continue
		}
		keys, ok := out[key.personID]
		if !ok {
			keys = make(map[string]struct{})
			out[key.personID] = keys
		}
		keys[key.dedupKey] = struct{}{}
	}
	return out, nil
}

func (r *InmemSatelliteRepository) BulkInsert(ctx context.Context, category skiptrace.Category, records []skiptrace.Satellite) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inserted := 0
	for _, rec := range records {
		key := satelliteKey{category, rec.PersonID, rec.DedupKey()}
		if _, exists := r.records[key]; exists {
			continue
		}
		rec.ID = uuid.New()
		rec.Category = category
		r.records[key] = rec
		inserted++
	}
	return inserted, nil
}

func (r *InmemSatelliteRepository) DeleteForPersons(ctx context.Context, personIDs []uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := make(map[uuid.UUID]struct{}, len(personIDs))
	for _, id := range personIDs {
		wanted[id] = struct{}{}
	}
	var n int64
	for key := range r.records {
		if _, ok := wanted[key.personID]; ok {
			delete(r.records, key)
			n++
		}
	}
	return n, nil
}

func (r *InmemSatelliteRepository) HasDedupKey(category skiptrace.Category, dedupKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.records {
		if key.category == category && key.dedupKey == dedupKey {
			return true
		}
	}
	return false
}

func (r *InmemSatelliteRepository) CountByCategory(category skiptrace.Category) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key := range r.records {
		if key.category == category {
			n++
		}
	}
	return n
}

type portfolioKey struct {
	tenantID uuid.UUID
	kind     portfolio.Kind
	name     string
}

type InmemPortfolioRepository struct {
	mu    sync.Mutex
	items map[uuid.UUID]portfolio.Portfolio
	byKey map[portfolioKey]uuid.UUID
}

func NewInmemPortfolioRepository() *InmemPortfolioRepository {
	return &InmemPortfolioRepository{
		items: make(map[uuid.UUID]portfolio.Portfolio),
		byKey: make(map[portfolioKey]uuid.UUID),
	}
}

func (r *InmemPortfolioRepository) GetByID(ctx context.Context, id uuid.UUID) (portfolio.Portfolio, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[id]
	if !ok {
		return portfolio.Portfolio{}, portfolio.ErrNotFound
	}
	return p, nil
}

func (r *InmemPortfolioRepository) EnsureByName(ctx context.Context, p portfolio.Portfolio) (portfolio.Portfolio, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := portfolioKey{p.TenantID, p.Kind, portfolio.NormalizeName(p.Name)}
	if id, ok := r.byKey[key]; ok {
		return r.items[id], false, nil
	}
	p.ID = uuid.New()
	p.Name = key.name
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	r.items[p.ID] = p
	r.byKey[key] = p.ID
	return p, true, nil
}

func (r *InmemPortfolioRepository) BulkUpsert(ctx context.Context, items []portfolio.Portfolio) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Last occurrence of a duplicated (kind, name) within the slice wins.
	byKey := make(map[portfolioKey]portfolio.Portfolio, len(items))
	var order []portfolioKey
	for _, p := range items {
		key := portfolioKey{p.TenantID, p.Kind, portfolio.NormalizeName(p.Name)}
		if _, dup := byKey[key]; !dup {
			order = append(order, key)
		}
		byKey[key] = p
	}

	inserted, updated := 0, 0
	for _, key := range order {
		p := byKey[key]
		p.Name = key.name
		if id, ok := r.byKey[key]; ok {
			existing := r.items[id]
			p.ID = existing.ID
			p.CreatedAt = existing.CreatedAt
			p.UpdatedAt = time.Now()
			r.items[id] = p
			updated++
			continue
		}
		p.ID = uuid.New()
		p.CreatedAt = time.Now()
		p.UpdatedAt = p.CreatedAt
		r.items[p.ID] = p
		r.byKey[key] = p.ID
		inserted++
	}
	return inserted, updated, nil
}

func (r *InmemPortfolioRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[id]
	if !ok {
		return portfolio.ErrNotFound
	}
	delete(r.items, id)
	delete(r.byKey, portfolioKey{p.TenantID, p.Kind, portfolio.NormalizeName(p.Name)})
	return nil
}

func (r *InmemPortfolioRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
