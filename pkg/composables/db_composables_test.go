package composables

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/collect/pkg/constants"
)

type fakeTx struct{}

func (fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }

func (fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }

func TestUseTx(t *testing.T) {
	t.Run("ReturnsBoundTx", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), constants.TxKey, fakeTx{})
		tx, err := UseTx(ctx)
		require.NoError(t, err)
		assert.Equal(t, fakeTx{}, tx)
	})

	t.Run("RejectsValueThatIsNotATx", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), constants.TxKey, "not a tx")
		_, err := UseTx(ctx)
		assert.ErrorIs(t, err, ErrNoTx)
	})

	t.Run("FallsBackToPool", func(t *testing.T) {
		_, err := UseTx(context.Background())
		assert.ErrorIs(t, err, ErrNoPool)
	})
}
