package composables

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ledgerline/collect/pkg/constants"
)

var ErrNoTenantID = errors.New("no tenant id found in context")

func WithTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, constants.TenantIDKey, tenantID)
}

func UseTenantID(ctx context.Context) (uuid.UUID, error) {
	v := ctx.Value(constants.TenantIDKey)
	if v == nil {
		return uuid.Nil, ErrNoTenantID
	}
	id, ok := v.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, ErrNoTenantID
	}
	return id, nil
}

// InTenantTx runs fn inside the transaction already bound to the context, or
// opens a new one when none is present. The tenant id must already be on the
// context; repositories scope every statement by it.
func InTenantTx(ctx context.Context, fn func(context.Context) error) error {
	if _, err := UseTenantID(ctx); err != nil {
		return err
	}

	if ctx.Value(constants.TxKey) != nil {
		return fn(ctx)
	}

	return InTx(ctx, fn)
}

func InTenantTxResult[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := InTenantTx(ctx, func(txCtx context.Context) error {
		var innerErr error
		out, innerErr = fn(txCtx)
		return innerErr
	})
	return out, err
}
