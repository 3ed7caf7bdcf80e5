package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ledgerline/collect/modules/debtors/domain/aggregates/person"
	"github.com/ledgerline/collect/modules/debtors/domain/entities/account"
	"github.com/ledgerline/collect/modules/debtors/domain/entities/portfolio"
	"github.com/ledgerline/collect/modules/debtors/domain/entities/skiptrace"
	"github.com/ledgerline/collect/modules/imports/domain/aggregates/importjob"
	"github.com/ledgerline/collect/modules/imports/domain/entities/importrow"
	"github.com/ledgerline/collect/modules/imports/domain/importtype"
	"github.com/ledgerline/collect/modules/imports/validation"
	"github.com/ledgerline/collect/pkg/metrics"
)

// RowFailure marks one row the loader could not land; the rest of the slice
// continues.
type RowFailure struct {
	RowIndex int
	Message  string
}

// LoadResult aggregates one slice's outcome.
type LoadResult struct {
	Inserted         int
	Updated          int
	RowFailures      []RowFailure
	SatelliteInserts map[skiptrace.Category]int
	// PortfolioID is set when this slice created a portfolio as a side
	// effect of an accounts import. A job records at most one.
	PortfolioID        uuid.UUID
	PortfolioWasCreated bool
}

// BulkLoaderService lands a slice of validated rows: set-based upsert of the
// primary entity, then per-category satellite fan-out. Satellites are
// deduplicated with one existence query per category per slice, never one
// query per row.
type BulkLoaderService struct {
	resolver   *ResolverService
	accounts   account.Repository
	subjects   skiptrace.SubjectRepository
	satellites skiptrace.SatelliteRepository
	portfolios portfolio.Repository
	log        logrus.FieldLogger
}

func NewBulkLoaderService(
	resolver *ResolverService,
	accounts account.Repository,
	subjects skiptrace.SubjectRepository,
	satellites skiptrace.SatelliteRepository,
	portfolios portfolio.Repository,
	log logrus.FieldLogger,
) *BulkLoaderService {
	return &BulkLoaderService{
		resolver:   resolver,
		accounts:   accounts,
		subjects:   subjects,
		satellites: satellites,
		portfolios: portfolios,
		log:        log,
	}
}

// LoadSlice routes the slice by import type. Invalid rows must already be
// filtered out by the orchestrator.
func (s *BulkLoaderService) LoadSlice(ctx context.Context, job importjob.ImportJob, rows []importrow.ImportRow) (LoadResult, error) {
	switch job.ImportType() {
	case importtype.Accounts:
		return s.loadAccounts(ctx, job, rows)
	case importtype.SkipTrace:
		return s.loadSkipTrace(ctx, job, rows)
	case importtype.Portfolios, importtype.Clients, importtype.Agencies:
		return s.loadNameKeyed(ctx, job, rows)
	}
	return LoadResult{}, errors.Errorf("unsupported import type: %s", job.ImportType())
}

type resolvedRow struct {
	row    importrow.ImportRow
	person person.Person
}

// resolveRows maps each row onto a Person. A per-slice cache keeps rows that
// share a national id from racing each other inside the slice; across slices
// the repository's on-conflict insert provides the same guarantee.
func (s *BulkLoaderService) resolveRows(ctx context.Context, job importjob.ImportJob, rows []importrow.ImportRow) ([]resolvedRow, []RowFailure, error) {
	cache := make(map[string]person.Person)
	resolved := make([]resolvedRow, 0, len(rows))
	var failures []RowFailure

	for _, row := range rows {
		proto := person.New(
			job.TenantID(),
			row.Fields[string(importtype.FieldNationalID)],
			row.Fields[string(importtype.FieldFullName)],
			row.Fields[string(importtype.FieldFirstName)],
			row.Fields[string(importtype.FieldLastName)],
		)
		if dob, ok := row.Fields[string(importtype.FieldDateOfBirth)]; ok {
			if t, err := validation.ParseDate(dob); err == nil {
				deceased := false
				var deceasedDate time.Time
				if v, ok := row.Fields[string(importtype.FieldDeceased)]; ok {
					deceased, _ = validation.ParseBool(v)
				}
				if v, ok := row.Fields[string(importtype.FieldDeceasedDate)]; ok {
					deceasedDate, _ = validation.ParseDate(v)
				}
				proto = proto.WithDemographics(t, deceased, deceasedDate)
			}
		}

		if cached, ok := cache[proto.NationalID()]; ok {
			resolved = append(resolved, resolvedRow{row: row, person: cached})
			continue
		}

		p, err := s.resolver.Resolve(ctx, proto)
		if err != nil {
			failures = append(failures, RowFailure{RowIndex: row.Index, Message: err.Error()})
			continue
		}
		cache[proto.NationalID()] = p
		resolved = append(resolved, resolvedRow{row: row, person: p})
	}

	return resolved, failures, nil
}

func (s *BulkLoaderService) loadAccounts(ctx context.Context, job importjob.ImportJob, rows []importrow.ImportRow) (LoadResult, error) {
	result := LoadResult{SatelliteInserts: map[skiptrace.Category]int{}}

	resolved, failures, err := s.resolveRows(ctx, job, rows)
	if err != nil {
		return result, err
	}
	result.RowFailures = failures

	// One portfolio per distinct name in the slice; the first insert becomes
	// the job's single side effect.
	portfolioIDs := make(map[string]uuid.UUID)
	for _, rr := range resolved {
		name := portfolio.NormalizeName(rr.row.Fields[string(importtype.FieldPortfolioName)])
		if name == "" {
			continue
		}
		if _, ok := portfolioIDs[name]; ok {
			continue
		}
		ensured, created, err := s.portfolios.EnsureByName(ctx, portfolio.Portfolio{
			TenantID:    job.TenantID(),
			Kind:        portfolio.KindPortfolio,
			Name:        name,
			ImportJobID: job.ID(),
		})
		if err != nil {
			return result, errors.Wrapf(err, "ensure portfolio %q", name)
		}
		portfolioIDs[name] = ensured.ID
		if created && !result.PortfolioWasCreated {
			result.PortfolioID = ensured.ID
			result.PortfolioWasCreated = true
		}
	}

	accounts := make([]account.DebtAccount, 0, len(resolved))
	rowsByAccountNumber := make(map[string][]int, len(resolved))
	for _, rr := range resolved {
		fields := rr.row.Fields
		a := account.DebtAccount{
			TenantID:      job.TenantID(),
			PersonID:      rr.person.ID(),
			AccountNumber: fields[string(importtype.FieldAccountNumber)],
			ImportJobID:   job.ID(),
			Status:        account.StatusActive,
		}
		if name := portfolio.NormalizeName(fields[string(importtype.FieldPortfolioName)]); name != "" {
			a.PortfolioID = portfolioIDs[name]
		}
		a.OriginalCreditor = fields[string(importtype.FieldOriginalCreditor)]
		if v, ok := fields[string(importtype.FieldCurrentBalance)]; ok {
			a.CurrentBalance, _ = validation.ParseAmount(v)
		}
		if v, ok := fields[string(importtype.FieldOriginalBalance)]; ok {
			a.OriginalBalance, _ = validation.ParseAmount(v)
		}
		if v, ok := fields[string(importtype.FieldLastPaymentAmount)]; ok {
			a.LastPaymentAmount, _ = validation.ParseAmount(v)
		}
		if v, ok := fields[string(importtype.FieldOpenDate)]; ok {
			a.OpenDate, _ = validation.ParseDate(v)
		}
		if v, ok := fields[string(importtype.FieldChargeOffDate)]; ok {
			a.ChargeOffDate, _ = validation.ParseDate(v)
		}
		if v, ok := fields[string(importtype.FieldLastPaymentDate)]; ok {
			a.LastPaymentDate, _ = validation.ParseDate(v)
		}
		if v, ok := fields[string(importtype.FieldStatus)]; ok && account.ValidStatus(v) {
			a.Status = account.Status(v)
		}
		accounts = append(accounts, a)
		rowsByAccountNumber[a.AccountNumber] = append(rowsByAccountNumber[a.AccountNumber], rr.row.Index)
	}

	inserted, updated, upsertFailures, err := s.accounts.BulkUpsert(ctx, accounts)
	if err != nil {
		return result, errors.Wrap(err, "bulk upsert accounts")
	}
	result.Inserted = inserted
	result.Updated = updated

	// The upsert keeps the last occurrence of a duplicated natural key, so
	// each reported failure belongs to the earliest occurrence not yet
	// attributed. Popping from the front leaves the kept row unblamed.
	failedRows := make(map[int]struct{})
	for _, f := range upsertFailures {
		indexes := rowsByAccountNumber[f.AccountNumber]
		if len(indexes) == 0 {
			continue
		}
		idx := indexes[0]
		rowsByAccountNumber[f.AccountNumber] = indexes[1:]
		failedRows[idx] = struct{}{}
		result.RowFailures = append(result.RowFailures, RowFailure{RowIndex: idx, Message: f.Message})
	}

	// Failed rows are excluded from satellite processing.
	okRows := make([]resolvedRow, 0, len(resolved))
	for _, rr := range resolved {
		if _, failed := failedRows[rr.row.Index]; failed {
			continue
		}
		okRows = append(okRows, rr)
	}
	if err := s.fanOutSatellites(ctx, job, okRows, &result); err != nil {
		return result, err
	}

	s.log.WithFields(logrus.Fields{
		"job_id":   job.ID(),
		"inserted": result.Inserted,
		"updated":  result.Updated,
		"failed":   len(result.RowFailures),
	}).Debug("accounts slice loaded")
	return result, nil
}

func (s *BulkLoaderService) loadSkipTrace(ctx context.Context, job importjob.ImportJob, rows []importrow.ImportRow) (LoadResult, error) {
	result := LoadResult{SatelliteInserts: map[skiptrace.Category]int{}}

	resolved, failures, err := s.resolveRows(ctx, job, rows)
	if err != nil {
		return result, err
	}
	result.RowFailures = failures

	seen := make(map[uuid.UUID]struct{}, len(resolved))
	subjects := make([]skiptrace.Subject, 0, len(resolved))
	for _, rr := range resolved {
		if _, dup := seen[rr.person.ID()]; dup {
			continue
		}
		seen[rr.person.ID()] = struct{}{}
		subjects = append(subjects, skiptrace.Subject{
			TenantID:    job.TenantID(),
			PersonID:    rr.person.ID(),
			ImportJobID: job.ID(),
		})
	}

	inserted, updated, err := s.subjects.BulkUpsert(ctx, subjects)
	if err != nil {
		return result, errors.Wrap(err, "bulk upsert skip-trace subjects")
	}
	result.Inserted = inserted
	result.Updated = updated

	if err := s.fanOutSatellites(ctx, job, resolved, &result); err != nil {
		return result, err
	}
	return result, nil
}

func (s *BulkLoaderService) loadNameKeyed(ctx context.Context, job importjob.ImportJob, rows []importrow.ImportRow) (LoadResult, error) {
	result := LoadResult{SatelliteInserts: map[skiptrace.Category]int{}}

	var kind portfolio.Kind
	var nameField importtype.Field
	switch job.ImportType() {
	case importtype.Portfolios:
		kind, nameField = portfolio.KindPortfolio, importtype.FieldPortfolioName
	case importtype.Clients:
		kind, nameField = portfolio.KindClient, importtype.FieldClientName
	default:
		kind, nameField = portfolio.KindAgency, importtype.FieldAgencyName
	}

	items := make([]portfolio.Portfolio, 0, len(rows))
	for _, row := range rows {
		p := portfolio.Portfolio{
			TenantID:    job.TenantID(),
			Kind:        kind,
			Name:        portfolio.NormalizeName(row.Fields[string(nameField)]),
			ClientName:  row.Fields[string(importtype.FieldClientName)],
			ImportJobID: job.ID(),
		}
		if v, ok := row.Fields[string(importtype.FieldPurchaseDate)]; ok {
			p.PurchaseDate, _ = validation.ParseDate(v)
		}
		if v, ok := row.Fields[string(importtype.FieldPurchasePrice)]; ok {
			p.PurchasePrice, _ = validation.ParseAmount(v)
		}
		if v, ok := row.Fields[string(importtype.FieldFaceValue)]; ok {
			p.FaceValue, _ = validation.ParseAmount(v)
		}
		items = append(items, p)
	}

	inserted, updated, err := s.portfolios.BulkUpsert(ctx, items)
	if err != nil {
		return result, errors.Wrapf(err, "bulk upsert %s", kind)
	}
	result.Inserted = inserted
	result.Updated = updated
	return result, nil
}

// fanOutSatellites batches per category: collect candidates for the whole
// slice, fetch existing dedup keys for the affected persons in one query,
// insert only what is missing.
func (s *BulkLoaderService) fanOutSatellites(ctx context.Context, job importjob.ImportJob, rows []resolvedRow, result *LoadResult) error {
	now := time.Now().UTC()
	source := string(job.ImportType())

	for _, category := range skiptrace.Categories() {
		var candidates []skiptrace.Satellite
		personSet := make(map[uuid.UUID]struct{})

		for _, rr := range rows {
			sat, ok := satelliteFromRow(category, rr, job, now, source)
			if !ok {
				continue
			}
			candidates = append(candidates, sat)
			personSet[sat.PersonID] = struct{}{}
		}
		if len(candidates) == 0 {
			continue
		}

		personIDs := make([]uuid.UUID, 0, len(personSet))
		for id := range personSet {
			personIDs = append(personIDs, id)
		}
		existing, err := s.satellites.ExistingKeys(ctx, category, personIDs)
		if err != nil {
			return errors.Wrapf(err, "existing %s keys", category)
		}

		sliceSeen := make(map[uuid.UUID]map[string]struct{})
		fresh := candidates[:0]
		for _, sat := range candidates {
			key := sat.DedupKey()
			if key == "" {
				continue
			}
			if keys, ok := existing[sat.PersonID]; ok {
				if _, dup := keys[key]; dup {
					continue
				}
			}
			if keys, ok := sliceSeen[sat.PersonID]; ok {
				if _, dup := keys[key]; dup {
					continue
				}
			} else {
				sliceSeen[sat.PersonID] = make(map[string]struct{})
			}
			sliceSeen[sat.PersonID][key] = struct{}{}
			fresh = append(fresh, sat)
		}
		if len(fresh) == 0 {
			continue
		}

		n, err := s.satellites.BulkInsert(ctx, category, fresh)
		if err != nil {
			return errors.Wrapf(err, "insert %s records", category)
		}
		result.SatelliteInserts[category] += n
		metrics.RecordSatelliteInserts(string(category), n)
	}
	return nil
}

var satelliteFields = map[skiptrace.Category][]importtype.Field{
	skiptrace.CategoryAddress: {
		importtype.FieldAddressLine1, importtype.FieldAddressLine2,
		importtype.FieldCity, importtype.FieldState, importtype.FieldZip,
	},
	skiptrace.CategoryPhone: {importtype.FieldPhone, importtype.FieldPhoneType},
	skiptrace.CategoryEmail: {importtype.FieldEmail},
	skiptrace.CategoryRelative: {
		importtype.FieldRelativeName, importtype.FieldRelativeRelation, importtype.FieldRelativePhone,
	},
	skiptrace.CategoryVehicle: {
		importtype.FieldVehicleVIN, importtype.FieldVehicleMake,
		importtype.FieldVehicleModel, importtype.FieldVehicleYear,
	},
	skiptrace.CategoryEmployment: {importtype.FieldEmployerName, importtype.FieldEmployerPhone},
	skiptrace.CategoryBankruptcy: {
		importtype.FieldBankruptcyCase, importtype.FieldBankruptcyChapter,
		importtype.FieldBankruptcyFiled, importtype.FieldBankruptcyStatus,
	},
}

// anchor fields decide whether a row carries the category at all.
var satelliteAnchor = map[skiptrace.Category]importtype.Field{
	skiptrace.CategoryAddress:    importtype.FieldAddressLine1,
	skiptrace.CategoryPhone:      importtype.FieldPhone,
	skiptrace.CategoryEmail:      importtype.FieldEmail,
	skiptrace.CategoryRelative:   importtype.FieldRelativeName,
	skiptrace.CategoryVehicle:    importtype.FieldVehicleVIN,
	skiptrace.CategoryEmployment: importtype.FieldEmployerName,
	skiptrace.CategoryBankruptcy: importtype.FieldBankruptcyCase,
}

func satelliteFromRow(category skiptrace.Category, rr resolvedRow, job importjob.ImportJob, now time.Time, source string) (skiptrace.Satellite, bool) {
	anchor := satelliteAnchor[category]
	anchorValue := rr.row.Fields[string(anchor)]
	if anchorValue == "" {
		// Vehicles are also importable without a VIN when make/model exist.
		if category != skiptrace.CategoryVehicle || rr.row.Fields[string(importtype.FieldVehicleMake)] == "" {
			return skiptrace.Satellite{}, false
		}
	}

	payload := make(map[string]string)
	for _, f := range satelliteFields[category] {
		if v := rr.row.Fields[string(f)]; v != "" {
			payload[string(f)] = v
		}
	}
	if len(payload) == 0 {
		return skiptrace.Satellite{}, false
	}

	return skiptrace.Satellite{
		TenantID:    job.TenantID(),
		PersonID:    rr.person.ID(),
		Category:    category,
		Payload:     payload,
		FirstSeen:   now,
		LastSeen:    now,
		Source:      source,
		IsCurrent:   true,
		ImportJobID: job.ID(),
	}, true
}
