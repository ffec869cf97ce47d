package sqlconn

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sync"
)

// fakeConnector is a database/sql connector that records every statement it
// is asked to run, prefixed with the connection number.
type fakeConnector struct {
	name string

	mu     sync.Mutex
	log    []string
	opened int
	closed int
	fail   map[string]error
}

func newFakeDB(name string) (*sql.DB, *fakeConnector) {
	fc := &fakeConnector{name: name, fail: map[string]error{}}
	return sql.OpenDB(fc), fc
}

func (fc *fakeConnector) Connect(context.Context) (driver.Conn, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.opened++
	return &fakeConn{connector: fc, id: fc.opened}, nil
}

func (fc *fakeConnector) Driver() driver.Driver { return fakeDriver{} }

func (fc *fakeConnector) record(id int, query string) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if err := fc.fail[query]; err != nil {
		return err
	}
	fc.log = append(fc.log, fmt.Sprintf("%s%d: %s", fc.name, id, query))
	return nil
}

func (fc *fakeConnector) statements() []string {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]string(nil), fc.log...)
}

func (fc *fakeConnector) failOn(query string, err error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.fail[query] = err
}

func (fc *fakeConnector) counts() (opened, closed int) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.opened, fc.closed
}

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("fake driver: open through the connector")
}

type fakeConn struct {
	connector *fakeConnector
	id        int
}

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("fake driver: prepare not supported")
}

func (c *fakeConn) Begin() (driver.Tx, error) {
	return nil, errors.New("fake driver: begin not supported")
}

func (c *fakeConn) Close() error {
	c.connector.mu.Lock()
	defer c.connector.mu.Unlock()
	c.connector.closed++
	return nil
}

func (c *fakeConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	if err := c.connector.record(c.id, query); err != nil {
		return nil, err
	}
	return driver.RowsAffected(1), nil
}

func (c *fakeConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if err := c.connector.record(c.id, query); err != nil {
		return nil, err
	}
	return &fakeRows{}, nil
}

type fakeRows struct {
	done bool
}

func (r *fakeRows) Columns() []string { return []string{"n"} }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	r.done = true
	dest[0] = int64(1)
	return nil
}
