package sqlconn

import (
	"strings"

	"github.com/lib/pq"

	"github.com/user/poolgate/internal/backend"
)

// Dialect turns session setting changes into SQL statements.
type Dialect interface {
	Name() string
	// Statements returns what to run to move a session from prev to next.
	Statements(prev, next backend.Settings) []string
	Rollback() string
}

var (
	MySQL    Dialect = mysqlDialect{}
	Postgres Dialect = postgresDialect{}
)

func isolationSQL(i backend.Isolation, def backend.Isolation) string {
	if i == backend.IsolationDefault {
		i = def
	}
	return strings.ToUpper(i.String())
}

func readOnlySQL(ro bool) string {
	if ro {
		return "READ ONLY"
	}
	return "READ WRITE"
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string     { return "mysql" }
func (mysqlDialect) Rollback() string { return "ROLLBACK" }

func (mysqlDialect) Statements(prev, next backend.Settings) []string {
	var stmts []string
	if prev.AutoCommit != next.AutoCommit {
		if next.AutoCommit {
			stmts = append(stmts, "SET autocommit = 1")
		} else {
			stmts = append(stmts, "SET autocommit = 0")
		}
	}
	if prev.Isolation != next.Isolation {
		stmts = append(stmts, "SET SESSION TRANSACTION ISOLATION LEVEL "+isolationSQL(next.Isolation, backend.IsolationRepeatableRead))
	}
	if prev.ReadOnly != next.ReadOnly {
		stmts = append(stmts, "SET SESSION TRANSACTION "+readOnlySQL(next.ReadOnly))
	}
	if prev.Catalog != next.Catalog && next.Catalog != "" {
		stmts = append(stmts, "USE `"+strings.ReplaceAll(next.Catalog, "`", "``")+"`")
	}
	return stmts
}

// Postgres has no server-side autocommit switch, so AutoCommit is only
// tracked; the catalog maps to search_path.
type postgresDialect struct{}

func (postgresDialect) Name() string     { return "postgres" }
func (postgresDialect) Rollback() string { return "ROLLBACK" }

func (postgresDialect) Statements(prev, next backend.Settings) []string {
	var stmts []string
	if prev.Isolation != next.Isolation {
		stmts = append(stmts, "SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL "+isolationSQL(next.Isolation, backend.IsolationReadCommitted))
	}
	if prev.ReadOnly != next.ReadOnly {
		stmts = append(stmts, "SET SESSION CHARACTERISTICS AS TRANSACTION "+readOnlySQL(next.ReadOnly))
	}
	if prev.Catalog != next.Catalog {
		if next.Catalog == "" {
			stmts = append(stmts, "RESET search_path")
		} else {
			stmts = append(stmts, "SET search_path TO "+pq.QuoteIdentifier(next.Catalog))
		}
	}
	return stmts
}
