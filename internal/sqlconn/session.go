package sqlconn

import (
	"context"
	"database/sql"
	"errors"

	"github.com/user/poolgate/internal/backend"
	"github.com/user/poolgate/internal/router"
)

// Switcher is a connection that can move between a write and a read side,
// such as a replica handle.
type Switcher interface {
	backend.Conn
	SetReadOnly(bool) error
}

// ErrNotSQL is returned when the active connection is not a database/sql one.
var ErrNotSQL = errors.New("sqlconn: active connection is not a *sql.Conn")

// Session runs statements over a Switcher, sending reads to the read side and
// everything else to the write side. Once a transaction starts or a session
// variable is set, statements stay on the write side until the transaction
// ends; a session variable pins it for good.
type Session struct {
	conn Switcher

	inTransaction bool
	pinned        bool
}

func NewSession(c Switcher) *Session {
	return &Session{conn: c}
}

func (s *Session) route(query string) (*sql.Conn, error) {
	dest := router.Classify(query, s.inTransaction || s.pinned)
	if err := s.conn.SetReadOnly(dest == router.Replica); err != nil {
		return nil, err
	}
	sc, ok := SQLConn(s.conn)
	if !ok {
		return nil, ErrNotSQL
	}
	return sc, nil
}

func (s *Session) track(query string) {
	switch {
	case router.IsTransactionStart(query):
		s.inTransaction = true
	case router.IsTransactionEnd(query):
		s.inTransaction = false
	}
	if router.IsSessionModification(query) {
		s.pinned = true
	}
}

func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	sc, err := s.route(query)
	if err != nil {
		return nil, err
	}
	res, err := sc.ExecContext(ctx, query, args...)
	if err == nil {
		s.track(query)
	}
	return res, err
}

func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	sc, err := s.route(query)
	if err != nil {
		return nil, err
	}
	rows, err := sc.QueryContext(ctx, query, args...)
	if err == nil {
		s.track(query)
	}
	return rows, err
}

// ReadOnly reports whether the last statement went to the read side.
func (s *Session) ReadOnly() bool {
	return s.conn.Settings().ReadOnly
}

func (s *Session) Close() error {
	return s.conn.Close()
}
