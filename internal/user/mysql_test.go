package user

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewMySQLStore(db, time.Second), mock
}

func TestMySQLGet(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	doc, _ := json.Marshal(User{ID: "u1", Username: "ada"})
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM users WHERE id = ?`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(doc))

	u, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if u.Username != "ada" {
		t.Fatalf("username=%q", u.Username)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM users WHERE id = ?`)).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}))
	if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing user must be NotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMySQLSaveUpserts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO users .+ ON DUPLICATE KEY UPDATE`).
		WithArgs("u1", "ada", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Save(context.Background(), User{ID: "u1", Username: "ada"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(context.Background(), User{}); err == nil {
		t.Fatal("empty id must be rejected")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
