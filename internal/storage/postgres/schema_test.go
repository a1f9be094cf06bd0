package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/GoSim-25-26J-441/adsec-backend/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	dsn := DSN(&config.DatabaseConfig{Host: "db", Port: 5433, User: "adsec", Password: "p w'x", Name: "assess"})
	assert.Equal(t, `host='db' port=5433 user='adsec' password='p w\'x' dbname='assess' sslmode=disable`, dsn)

	dsn = DSN(&config.DatabaseConfig{Host: "db", Port: 5432, User: "u", Name: "n", SSLMode: "require"})
	assert.Contains(t, dsn, "sslmode=require")
}

func TestEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS assessments`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS assessments`).WillReturnError(errors.New("permission denied"))

	require.NoError(t, EnsureSchema(context.Background(), db))
	assert.ErrorContains(t, EnsureSchema(context.Background(), db), "ensure schema: permission denied")
	require.NoError(t, mock.ExpectationsWereMet())
}
