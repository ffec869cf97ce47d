package router

import (
	"strings"
)

// Destination is the side of a replica pair a statement should run on.
type Destination int

const (
	Primary Destination = iota
	Replica
)

func (d Destination) String() string {
	if d == Replica {
		return "replica"
	}
	return "primary"
}

var writePrefixes = []string{
	"INSERT", "UPDATE", "DELETE", "MERGE", "UPSERT", "REPLACE",
	"CREATE", "DROP", "ALTER", "TRUNCATE", "GRANT", "REVOKE",
	"BEGIN", "START", "COMMIT", "ROLLBACK", "SAVEPOINT", "RELEASE",
	"LOCK", "CALL", "COPY", "VACUUM", "SET", "RESET",
}

var writeKeywords = []string{"INSERT ", "UPDATE ", "DELETE ", "FOR UPDATE", "FOR SHARE"}

// Classify decides where a SQL statement can run. Anything inside a
// transaction, anything that writes or locks, and anything it does not
// recognise goes to the primary; plain reads go to a replica.
func Classify(query string, inTransaction bool) Destination {
	if inTransaction {
		return Primary
	}

	query = strings.TrimSpace(strings.ToUpper(query))

	for _, p := range writePrefixes {
		if strings.HasPrefix(query, p) {
			return Primary
		}
	}

	switch {
	case strings.HasPrefix(query, "SELECT"), strings.HasPrefix(query, "WITH"):
		for _, kw := range writeKeywords {
			if strings.Contains(query, kw) {
				return Primary
			}
		}
		return Replica
	case strings.HasPrefix(query, "SHOW"), strings.HasPrefix(query, "EXPLAIN"), strings.HasPrefix(query, "DESCRIBE"):
		return Replica
	}

	return Primary
}

func IsTransactionStart(query string) bool {
	query = strings.TrimSpace(strings.ToUpper(query))
	return strings.HasPrefix(query, "BEGIN") || strings.HasPrefix(query, "START TRANSACTION")
}

func IsTransactionEnd(query string) bool {
	query = strings.TrimSpace(strings.ToUpper(query))
	return strings.HasPrefix(query, "COMMIT") || strings.HasPrefix(query, "ROLLBACK") || strings.HasPrefix(query, "ABORT")
}

// IsSessionModification reports statements that change session state, after
// which the session must stay on one connection.
func IsSessionModification(query string) bool {
	query = strings.TrimSpace(strings.ToUpper(query))
	return strings.HasPrefix(query, "SET ") || strings.HasPrefix(query, "RESET ") || strings.HasPrefix(query, "USE ")
}
