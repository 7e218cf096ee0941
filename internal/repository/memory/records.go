package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskbazaar/backend/internal/models"
)

type RecordStore struct{ s *Store }

func (r *RecordStore) Append(ctx context.Context, records ...*models.FundRecord) error {
	defer r.s.lock(ctx)()
	if err := r.s.fault("records.append"); err != nil {
		return err
	}
	for _, rec := range records {
		cp := *rec
		r.s.records = append(r.s.records, &cp)
	}
	return nil
}

// ListByAccount returns newest first.
func (r *RecordStore) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*models.FundRecord, error) {
	defer r.s.lock(ctx)()
	var out []*models.FundRecord
	for i := len(r.s.records) - 1; i >= 0; i-- {
		if rec := r.s.records[i]; rec.AccountID == accountID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return page(out, limit, offset), nil
}

func (r *RecordStore) ListByCorrelation(ctx context.Context, c models.Correlation) ([]*models.FundRecord, error) {
	defer r.s.lock(ctx)()
	var out []*models.FundRecord
	for _, rec := range r.s.records {
		if c.Matches(rec) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *RecordStore) SumByAccount(ctx context.Context, accountID uuid.UUID) (map[string]decimal.Decimal, error) {
	defer r.s.lock(ctx)()
	sums := map[string]decimal.Decimal{
		models.AssetPrincipal:  decimal.Zero,
		models.AssetCommission: decimal.Zero,
	}
	for _, rec := range r.s.records {
		if rec.AccountID == accountID {
			sums[rec.Asset] = sums[rec.Asset].Add(rec.Amount)
		}
	}
	return sums, nil
}

// All returns every record in append order.
func (r *RecordStore) All() []*models.FundRecord {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*models.FundRecord, len(r.s.records))
	copy(out, r.s.records)
	return out
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
