package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/storetest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	s, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: dsn, MaxOpenConns: 1},
		store.RetryPolicy{Attempts: 1}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Adapter {
		return newSQLiteStore(t)
	})
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"}, store.DefaultRetryPolicy, nil)
	require.ErrorIs(t, err, store.ErrInvalidArgument)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger:                 newGormLogger(zap.NewNop(), 0),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	return New(gdb), mock
}

func TestBackendFailureIsNotNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "authcore_users"`)).
		WillReturnError(errors.New("connection reset by peer"))

	_, err := s.GetUserByID(context.Background(), "u1")
	require.ErrorIs(t, err, store.ErrBackend)
	require.NotErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMissingRowIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "authcore_sessions"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "expires", "created_at"}))

	_, err := s.GetSession(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NotErrorIs(t, err, store.ErrBackend)
}

func TestConsumeTokenLosesRaceWhenDeleteMissesRow(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "authcore_tokens"`)).
		WillReturnRows(sqlmock.NewRows([]string{"token", "user_id", "email", "type", "expires", "created_at"}).
			AddRow("t1", "u1", "a@example.com", "reset", now.Add(time.Hour), now))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "authcore_tokens"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.ConsumeToken(context.Background(), "t1", "u1", "reset")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormLoggerDropsParamsAndExpectedErrors(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := newGormLogger(zap.New(core), 10*time.Millisecond)

	sql, params := l.ParamsFilter(context.Background(), "SELECT 1 WHERE a = ?", "secret")
	require.Equal(t, "SELECT 1 WHERE a = ?", sql)
	require.Nil(t, params)

	fc := func() (string, int64) { return "SELECT 1", 1 }
	l.Trace(context.Background(), time.Now(), fc, gorm.ErrRecordNotFound)
	require.Zero(t, logs.Len())

	l.Trace(context.Background(), time.Now(), fc, errors.New("boom"))
	require.Equal(t, 1, logs.FilterMessage("gorm.query").Len())

	l.Trace(context.Background(), time.Now().Add(-time.Second), fc, nil)
	require.Equal(t, 1, logs.FilterMessage("gorm.slow_query").Len())
}
