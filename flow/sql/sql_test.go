package sql_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lguimbarda/reactive-flow/flow"
	"github.com/lguimbarda/reactive-flow/flow/core"
	flowsql "github.com/lguimbarda/reactive-flow/flow/sql"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

type User struct {
	ID   int
	Name string
	Age  int
}

func scanUser(rows *sql.Rows) (User, error) {
	var u User
	err := rows.Scan(&u.ID, &u.Name, &u.Age)
	return u, err
}

func names(users []User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.Name
	}
	return out
}

// setupTestDB opens a file database, since every async stage may use its
// own connection and in-memory sqlite databases are per connection.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			age INTEGER NOT NULL
		)
	`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO users (name, age) VALUES ('Alice', 30), ('Bob', 25), ('Charlie', 35)`)
	require.NoError(t, err)
	return db
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestQuery(t *testing.T) {
	db := setupTestDB(t)

	users, err := flow.Slice(testContext(t), flowsql.Query(db, "SELECT id, name, age FROM users ORDER BY id", scanUser))
	require.NoError(t, err)
	require.Equal(t, []string{"Alice", "Bob", "Charlie"}, names(users))
	require.Equal(t, 1, users[0].ID)
}

func TestQueryWithArgs(t *testing.T) {
	db := setupTestDB(t)

	users, err := flow.Slice(testContext(t), flowsql.Query(db, "SELECT id, name, age FROM users WHERE age > ? ORDER BY id", scanUser, 28))
	require.NoError(t, err)
	require.Equal(t, []string{"Alice", "Charlie"}, names(users))
}

func TestQueryBuilder(t *testing.T) {
	db := setupTestDB(t)

	q := squirrel.Select("id", "name", "age").From("users").Where(squirrel.Lt{"age": 31}).OrderBy("age")
	users, err := flow.Slice(testContext(t), flowsql.QueryBuilder(db, q, scanUser))
	require.NoError(t, err)
	require.Equal(t, []string{"Bob", "Alice"}, names(users))
}

func TestQueryBackpressure(t *testing.T) {
	db := setupTestDB(t)

	first, err := flow.First(testContext(t), flowsql.Query(db, "SELECT id, name, age FROM users ORDER BY id", scanUser))
	require.NoError(t, err)
	require.Equal(t, "Alice", first.Name)
}

func TestQueryErrors(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	_, err := flow.Slice(ctx, flowsql.Query(db, "SELECT * FROM missing", scanUser))
	require.ErrorContains(t, err, "no such table")

	errOld := errors.New("too old")
	scanYoung := func(rows *sql.Rows) (User, error) {
		u, err := scanUser(rows)
		if err == nil && u.Age > 30 {
			return u, errOld
		}
		return u, err
	}
	src := flowsql.Query(db, "SELECT id, name, age FROM users ORDER BY id", scanYoung)

	_, err = flow.Slice(ctx, src)
	require.Same(t, errOld, err)

	users, err := flow.Slice(ctx, src.WithSupervision(core.ResumingDecider))
	require.NoError(t, err)
	require.Equal(t, []string{"Alice", "Bob"}, names(users))
}

func TestExec(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	insert := flowsql.Exec(db, "INSERT INTO users (name, age) VALUES (?, ?)", func(u User) []any { return []any{u.Name, u.Age} })
	results, err := flow.Slice(ctx, flow.Via(flow.FromSlice([]User{{Name: "Dave", Age: 40}, {Name: "Eve", Age: 22}}), insert))
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.EqualValues(t, 1, results[0].RowsAffected)
	require.EqualValues(t, 4, results[0].LastInsertId)
	require.EqualValues(t, 5, results[1].LastInsertId)

	rows, err := flow.Slice(ctx, flowsql.QueryStrings(db, "SELECT name, age FROM users WHERE id > 3 ORDER BY id"))
	require.NoError(t, err)
	require.Equal(t, [][]string{{"Dave", "40"}, {"Eve", "22"}}, rows)
}

func TestExecFailure(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	insert := flowsql.Exec(db, "INSERT INTO users (id, name, age) VALUES (?, ?, ?)", func(u User) []any { return []any{u.ID, u.Name, u.Age} })
	src := flow.Via(flow.FromSlice([]User{{ID: 1, Name: "Dup", Age: 1}, {ID: 10, Name: "New", Age: 2}}), insert)

	_, err := flow.Slice(ctx, src)
	require.ErrorContains(t, err, "UNIQUE constraint failed")

	results, err := flow.Slice(ctx, flow.Via(flow.FromSlice([]User{{ID: 1, Name: "Dup", Age: 1}, {ID: 11, Name: "New", Age: 2}}), insert.WithSupervision(core.ResumingDecider)))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.EqualValues(t, 11, results[0].LastInsertId)
}

func TestInsertBatch(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	batches := [][]User{
		{{Name: "Dave", Age: 40}, {Name: "Eve", Age: 22}},
		{},
		{{Name: "Frank", Age: 51}},
	}
	insert := flowsql.InsertBatch(db, "users", []string{"name", "age"}, func(u User) []any { return []any{u.Name, u.Age} })
	results, err := flow.Slice(ctx, flow.Via(flow.FromSlice(batches), insert))
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.EqualValues(t, 2, results[0].RowsAffected)
	require.EqualValues(t, 1, results[1].RowsAffected)

	maps, err := flow.Slice(ctx, flowsql.QueryMaps(db, "SELECT COUNT(*) AS n FROM users"))
	require.NoError(t, err)
	require.Equal(t, []map[string]any{{"n": int64(6)}}, maps)
}

func TestExecSink(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	sink := flowsql.ExecSink(db, "UPDATE users SET age = age + 1 WHERE age > ?", func(min int) []any { return []any{min} })
	total, err := flow.RunWith(ctx, flow.FromSlice([]int{26, 100, 0}), sink)
	require.NoError(t, err)
	n, err := total.Get(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)
}

func TestTransaction(t *testing.T) {
	db := setupTestDB(t)
	ctx := testContext(t)

	count := func() int {
		var n int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM users").Scan(&n))
		return n
	}

	id, err := flow.First(ctx, flowsql.Transaction(db, func(tx *sql.Tx) (int64, error) {
		res, err := tx.Exec("INSERT INTO users (name, age) VALUES ('Dave', 40)")
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}))
	require.NoError(t, err)
	require.EqualValues(t, 4, id)
	require.Equal(t, 4, count())

	errAbort := errors.New("abort")
	_, err = flow.First(ctx, flowsql.Transaction(db, func(tx *sql.Tx) (int64, error) {
		if _, err := tx.Exec("INSERT INTO users (name, age) VALUES ('Eve', 22)"); err != nil {
			return 0, err
		}
		return 0, errAbort
	}))
	require.Same(t, errAbort, err)
	require.Equal(t, 4, count())
}
