// Package sqlite implements store.Store on an embedded SQLite database. All
// collections share one messages table keyed by a collection column.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"docqueue/internal/domain"
	"docqueue/internal/store"
)

const schema = `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  collection TEXT NOT NULL,
  payload BLOB NOT NULL,
  visible INTEGER NOT NULL,
  ack TEXT,
  tries INTEGER NOT NULL DEFAULT 0,
  deleted INTEGER
);
`

const indexes = `
CREATE INDEX IF NOT EXISTS idx_messages_deleted_visible ON messages(collection, deleted, visible);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_ack ON messages(collection, ack) WHERE ack IS NOT NULL;
`

const columns = `id,payload,visible,ack,tries,deleted`

// FileDSN builds a DSN for an on-disk database shared by several processes.
func FileDSN(path string) string {
	return fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
}

// Open opens the database and creates the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := EnsureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

// EnsureSchema creates the messages table and its indexes if they don't exist.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema + indexes); err != nil {
		return errors.Wrap(err, "ensure schema")
	}
	return nil
}

type Store struct{ db *sql.DB }

func New(db *sql.DB) *Store { return &Store{db: db} }

var _ store.Store = (*Store)(nil)

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) FindOneAndUpdate(ctx context.Context, collection string, f store.Filter, u store.Update, opts store.FindOptions) (domain.Message, bool, error) {
	w, args := where(collection, f)
	pick := `SELECT id FROM messages WHERE ` + w
	if opts.SortByID {
		pick += ` ORDER BY id`
	}
	pick += ` LIMIT 1`
	set, setArgs := setClause(u)

	if opts.ReturnNew {
		// A single statement, so the pick and the update cannot interleave with another writer.
		q := `UPDATE messages SET ` + set + ` WHERE id = (` + pick + `) RETURNING ` + columns
		m, err := scanMessage(s.db.QueryRowContext(ctx, q, append(setArgs, args...)...))
		if err == sql.ErrNoRows {
			return domain.Message{}, false, nil
		}
		if err != nil {
			return domain.Message{}, false, translate(err, "find one and update")
		}
		return m, true, nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.Message{}, false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	q := `SELECT ` + columns + ` FROM messages WHERE id = (` + pick + `)`
	m, err := scanMessage(tx.QueryRowContext(ctx, q, args...))
	if err == sql.ErrNoRows {
		return domain.Message{}, false, nil
	}
	if err != nil {
		return domain.Message{}, false, errors.Wrap(err, "find one")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET `+set+` WHERE id = ?`, append(setArgs, m.ID)...); err != nil {
		return domain.Message{}, false, translate(err, "update one")
	}
	if err := tx.Commit(); err != nil {
		return domain.Message{}, false, errors.Wrap(err, "commit")
	}
	return m, true, nil
}

func (s *Store) InsertMany(ctx context.Context, collection string, msgs []domain.Message) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO messages (collection,payload,visible,ack,tries,deleted)
VALUES (?,?,?,?,?,?)`)
	if err != nil {
		return nil, errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		res, err := stmt.ExecContext(ctx, collection, []byte(m.Payload), m.Visible.UnixNano(), nullString(m.Ack), m.Tries, nullTime(m.Deleted))
		if err != nil {
			return nil, translate(err, "insert")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, errors.Wrap(err, "last insert id")
		}
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return ids, nil
}

func (s *Store) DeleteMany(ctx context.Context, collection string, f store.Filter) (int64, error) {
	w, args := where(collection, f)
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE `+w, args...)
	if err != nil {
		return 0, errors.Wrap(err, "delete many")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	return n, nil
}

func (s *Store) Count(ctx context.Context, collection string, f store.Filter) (int64, error) {
	w, args := where(collection, f)
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE `+w, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count")
	}
	return n, nil
}

// EnsureIndexes is table-wide, so collection is unused.
func (s *Store) EnsureIndexes(ctx context.Context, collection string) error {
	if _, err := s.db.ExecContext(ctx, indexes); err != nil {
		return errors.Wrap(err, "ensure indexes")
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error { return s.db.Close() }

func where(collection string, f store.Filter) (string, []any) {
	clauses := []string{"collection = ?"}
	args := []any{collection}
	if f.Ack != "" {
		clauses = append(clauses, "ack = ?")
		args = append(args, f.Ack)
	}
	clauses = appendPresence(clauses, "ack", f.AckPresence)
	clauses = appendPresence(clauses, "deleted", f.Deleted)
	if !f.VisibleAtOrBefore.IsZero() {
		clauses = append(clauses, "visible <= ?")
		args = append(args, f.VisibleAtOrBefore.UnixNano())
	}
	if !f.VisibleAfter.IsZero() {
		clauses = append(clauses, "visible > ?")
		args = append(args, f.VisibleAfter.UnixNano())
	}
	return strings.Join(clauses, " AND "), args
}

func appendPresence(clauses []string, col string, p store.Presence) []string {
	switch p {
	case store.Absent:
		return append(clauses, col+" IS NULL")
	case store.Present:
		return append(clauses, col+" IS NOT NULL")
	}
	return clauses
}

func setClause(u store.Update) (string, []any) {
	var (
		sets []string
		args []any
	)
	if u.IncTries != 0 {
		sets = append(sets, "tries = tries + ?")
		args = append(args, u.IncTries)
	}
	if u.SetAck != "" {
		sets = append(sets, "ack = ?")
		args = append(args, u.SetAck)
	}
	if !u.SetVisible.IsZero() {
		sets = append(sets, "visible = ?")
		args = append(args, u.SetVisible.UnixNano())
	}
	if !u.SetDeleted.IsZero() {
		sets = append(sets, "deleted = ?")
		args = append(args, u.SetDeleted.UnixNano())
	}
	if len(sets) == 0 {
		sets = append(sets, "id = id")
	}
	return strings.Join(sets, ", "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (domain.Message, error) {
	var (
		m       domain.Message
		id      int64
		payload []byte
		visible int64
		ack     sql.NullString
		deleted sql.NullInt64
	)
	if err := row.Scan(&id, &payload, &visible, &ack, &m.Tries, &deleted); err != nil {
		return domain.Message{}, err
	}
	m.ID = strconv.FormatInt(id, 10)
	m.Payload = payload
	m.Visible = time.Unix(0, visible)
	if ack.Valid {
		m.Ack = ack.String
	}
	if deleted.Valid {
		at := time.Unix(0, deleted.Int64)
		m.Deleted = &at
	}
	return m, nil
}

func translate(err error, op string) error {
	var se *sqlite.Error
	// Only the ack index can be violated by our statements.
	if errors.As(err, &se) && (se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT) {
		return errors.Wrap(store.ErrDuplicateAck, op)
	}
	return errors.Wrap(err, op)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
