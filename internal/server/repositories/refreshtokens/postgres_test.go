package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

const insertQ = `(?s)^\s*INSERT\s+INTO\s+refresh_tokens\b.*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*TRUE,\s*\$6,\s*\$7\)\s*$`

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rt := &models.RefreshToken{
		Token: "h1", UserID: "u1", SessionID: "s1",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		UserAgent: "curl/8", IPAddress: "10.0.0.1",
	}

	mock.ExpectExec(insertQ).
		WithArgs("h1", "u1", "s1", rt.CreatedAt, rt.ExpiresAt, "curl/8", "10.0.0.1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), rt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertQ).WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), &models.RefreshToken{Token: "h1"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

const findQ = `(?s)^\s*SELECT\s+token,\s*user_id,\s*session_id.*FROM\s+refresh_tokens\s+WHERE\s+token\s*=\s*\$1\s+AND\s+is_active\s*$`

func TestFindActive_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"token", "user_id", "session_id", "created_at", "expires_at", "is_active", "user_agent", "ip_address"}).
		AddRow("h1", "u1", "s1", now, now.Add(time.Hour), true, "", "")

	mock.ExpectQuery(findQ).WithArgs("h1").WillReturnRows(rows)

	got, err := repo.FindActive(context.Background(), "h1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UserID != "u1" || got.SessionID != "s1" || !got.IsActive {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestFindActive_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(findQ).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindActive(context.Background(), "missing")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}

func TestFindActive_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(findQ).WithArgs("h1").WillReturnError(errors.New("conn reset"))

	_, err := repo.FindActive(context.Background(), "h1")
	if err == nil || errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected db error, got %v", err)
	}
}

const deactivateQ = `(?s)^\s*UPDATE\s+refresh_tokens\s+SET\s+is_active\s*=\s*FALSE\s+WHERE\s+token\s*=\s*\$1\s+AND\s+is_active\s*$`

func TestDeactivate_WinsOnce(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(deactivateQ).WithArgs("h1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(deactivateQ).WithArgs("h1").WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Deactivate(context.Background(), "h1")
	if err != nil || !ok {
		t.Fatalf("first deactivate: ok=%v err=%v", ok, err)
	}
	ok, err = repo.Deactivate(context.Background(), "h1")
	if err != nil || ok {
		t.Fatalf("second deactivate must report false: ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeactivateSession(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)UPDATE\s+refresh_tokens.*WHERE\s+session_id\s*=\s*\$1\s+AND\s+user_id\s*=\s*\$2\s+AND\s+is_active`).
		WithArgs("s1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.DeactivateSession(context.Background(), "u1", "s1")
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestDeactivateUser_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)UPDATE\s+refresh_tokens.*WHERE\s+user_id\s*=\s*\$1`).
		WithArgs("u1").
		WillReturnError(errors.New("db down"))

	if _, err := repo.DeactivateUser(context.Background(), "u1"); err == nil {
		t.Fatal("expected error")
	}
}
