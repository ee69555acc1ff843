package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type note struct {
	ID   uint `gorm:"primaryKey"`
	Text string
}

func openMemory(t *testing.T) *DB {
	t.Helper()
	d, err := Init(Config{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, d.AutoMigrate(&note{}))
	return d
}

func TestInitUnsupportedDriver(t *testing.T) {
	_, err := Init(Config{Driver: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestWithTxCommits(t *testing.T) {
	d := openMemory(t)

	err := d.WithTx(context.Background(), func(tx *gorm.DB) error {
		return tx.Create(&note{Text: "kept"}).Error
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, d.Model(&note{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	d := openMemory(t)
	boom := errors.New("boom")

	err := d.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := tx.Create(&note{Text: "discarded"}).Error; err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, d.Model(&note{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestIsDuplicateKey(t *testing.T) {
	type uniq struct {
		ID   uint   `gorm:"primaryKey"`
		Code string `gorm:"uniqueIndex"`
	}
	d := openMemory(t)
	require.NoError(t, d.AutoMigrate(&uniq{}))

	require.NoError(t, d.Create(&uniq{Code: "a"}).Error)
	err := d.Create(&uniq{Code: "a"}).Error
	require.Error(t, err)
	assert.True(t, IsDuplicateKey(err))

	assert.False(t, IsDuplicateKey(nil))
	assert.False(t, IsDuplicateKey(errors.New("connection refused")))
}
