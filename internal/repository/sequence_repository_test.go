package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceRepositoryNext(t *testing.T) {
	db, mock, cleanup := newCertificateRepoMock(t)
	defer cleanup()
	repo := NewSequenceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (tenant_id, year, prefix) DO UPDATE SET value = certificate_sequences.value + 1")).
		WithArgs("tenant-1", 2024, "TRANS").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(42))

	value, err := repo.Next(context.Background(), nil, "tenant-1", 2024, "TRANS")
	require.NoError(t, err)
	assert.EqualValues(t, 42, value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSequenceRepositoryCurrentMissing(t *testing.T) {
	db, mock, cleanup := newCertificateRepoMock(t)
	defer cleanup()
	repo := NewSequenceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM certificate_sequences")).
		WithArgs("tenant-1", 2025, "CERT").
		WillReturnError(sql.ErrNoRows)

	value, err := repo.Current(context.Background(), "tenant-1", 2025, "CERT")
	require.NoError(t, err)
	assert.Zero(t, value)
	require.NoError(t, mock.ExpectationsWereMet())
}
