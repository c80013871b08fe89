package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"gameshop/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "repo.db") + "?_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&model.Account{}, &model.PlayerItem{}))
	return db
}

func TestAccountRepository_FetchMissing(t *testing.T) {
	repo := NewAccountRepository(newTestDB(t))

	_, err := repo.Fetch(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestAccountRepository_CreateAndFetch(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(newTestDB(t))

	created, err := repo.Create(ctx, "alice")
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, int64(0), created.Credits)

	fetched, err := repo.Fetch(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)
	assert.Empty(t, fetched.Inventory())
}

func TestAccountRepository_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(newTestDB(t))

	_, err := repo.Create(ctx, "alice")
	require.NoError(t, err)

	_, err = repo.Create(ctx, "alice")
	assert.ErrorIs(t, err, ErrDuplicateAccount)

	// 昵称区分大小写
	_, err = repo.Create(ctx, "Alice")
	assert.NoError(t, err)
}

func TestAccountRepository_SetCredits(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(newTestDB(t))

	acc, err := repo.Create(ctx, "bob")
	require.NoError(t, err)

	require.NoError(t, repo.SetCredits(ctx, nil, acc.ID, 420))
	fetched, err := repo.Fetch(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(420), fetched.Credits)

	assert.ErrorIs(t, repo.SetCredits(ctx, nil, acc.ID, -1), ErrNegativeCredits)
	assert.ErrorIs(t, repo.SetCredits(ctx, nil, acc.ID+100, 1), ErrAccountNotFound)
}

func TestAccountRepository_IncrementAndDecrementItem(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(newTestDB(t))

	acc, err := repo.Create(ctx, "carol")
	require.NoError(t, err)

	require.NoError(t, repo.IncrementItem(ctx, nil, acc.ID, "sword"))
	require.NoError(t, repo.IncrementItem(ctx, nil, acc.ID, "sword"))
	require.NoError(t, repo.IncrementItem(ctx, nil, acc.ID, "rope"))

	fetched, err := repo.Fetch(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, model.Inventory{"sword": 2, "rope": 1}, fetched.Inventory())

	require.NoError(t, repo.DecrementItem(ctx, nil, acc.ID, "sword"))
	require.NoError(t, repo.DecrementItem(ctx, nil, acc.ID, "rope"))

	fetched, err = repo.Fetch(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, model.Inventory{"sword": 1}, fetched.Inventory())
	assert.Len(t, fetched.Items, 1)

	assert.ErrorIs(t, repo.DecrementItem(ctx, nil, acc.ID, "rope"), ErrItemNotOwned)
}

func TestAccountRepository_TransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(newTestDB(t))

	acc, err := repo.Create(ctx, "dave")
	require.NoError(t, err)
	require.NoError(t, repo.SetCredits(ctx, nil, acc.ID, 300))

	boom := errors.New("boom")
	err = repo.Transaction(ctx, func(tx *gorm.DB) error {
		if err := repo.SetCredits(ctx, tx, acc.ID, 150); err != nil {
			return err
		}
		if err := repo.IncrementItem(ctx, tx, acc.ID, "sword"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	fetched, err := repo.Fetch(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, int64(300), fetched.Credits)
	assert.Empty(t, fetched.Inventory())
}
