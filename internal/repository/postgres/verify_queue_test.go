package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

func TestVerifyQueueRepo_Insert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO verify_queue").
		WithArgs("r1", sqlmock.AnyArg(), "https://hook.example.com").
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewVerifyQueueRepo(db)
	err = repo.Insert(context.Background(), domain.VerifyRequest{
		RequestID:   "r1",
		Emails:      []string{"a@example.com"},
		ResponseURL: "https://hook.example.com",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyQueueRepo_LoadAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"request_id", "emails", "response_url"}).
		AddRow("r1", "{a@example.com,b@example.com}", "https://hook.example.com").
		AddRow("r2", "{c@example.com}", nil)
	mock.ExpectQuery("SELECT request_id, emails, response_url").WillReturnRows(rows)

	repo := NewVerifyQueueRepo(db)
	out, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "r1", out[0].RequestID)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, out[0].Emails)
	assert.Equal(t, "", out[1].ResponseURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyQueueRepo_Exists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	repo := NewVerifyQueueRepo(db)
	ok, err := repo.Exists(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyQueueRepo_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DELETE FROM verify_queue").
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewVerifyQueueRepo(db)
	err = repo.Delete(context.Background(), "r1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
