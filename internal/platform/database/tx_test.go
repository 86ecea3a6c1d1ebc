package database_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promoterhub/promoterhub/internal/platform/database"
)

func TestQuerierFrom_Fallback(t *testing.T) {
	assert.Nil(t, database.QuerierFrom(context.Background(), nil))

	ctx := database.WithQuerier(context.Background(), nil)
	assert.Nil(t, database.QuerierFrom(ctx, nil))
}

func TestWithTx(t *testing.T) {
	connStr := setupPostgres(t)
	ctx := context.Background()

	pool, err := database.Connect(ctx, connStr, 5)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Exec(ctx, "CREATE TABLE notes (body TEXT NOT NULL)")
	require.NoError(t, err)

	count := func() int {
		var n int
		require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM notes").Scan(&n))
		return n
	}

	err = database.WithTx(ctx, pool, func(ctx context.Context, tx pgx.Tx) error {
		assert.Equal(t, database.Querier(tx), database.QuerierFrom(ctx, pool))
		_, err := database.QuerierFrom(ctx, pool).Exec(ctx, "INSERT INTO notes VALUES ('kept')")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count())

	boom := errors.New("boom")
	err = database.WithTx(ctx, pool, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "INSERT INTO notes VALUES ('dropped')"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, count())
}
