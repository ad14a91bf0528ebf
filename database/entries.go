package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

const entryColumns = `id, email, password, sort_order, created_at, updated_at`

// Canonical display sequence; id breaks the remaining ties so repeated fetches agree
const entryOrdering = `ORDER BY sort_order ASC, created_at DESC, id DESC`

// EntryService handles database operations for entries
type EntryService struct {
	db  *sql.DB
	now func() time.Time

	// appendTx isolates tail appends. SQLite serializes writers on its own;
	// InnoDB reads MAX(sort_order) without locking below SERIALIZABLE.
	appendTx *sql.TxOptions
}

func NewEntryService(db *sql.DB) *EntryService {
	s := &EntryService{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	if _, ok := db.Driver().(*mysql.MySQLDriver); ok {
		s.appendTx = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return s
}

// Ping checks that the database is reachable
func (s *EntryService) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// FetchAll returns every entry in display order
func (s *EntryService) FetchAll(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM entries `+entryOrdering)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	return scanEntries(rows)
}

// Get returns a single entry by id
func (s *EntryService) Get(ctx context.Context, id int64) (*Entry, error) {
	return getEntry(ctx, s.db, id)
}

// Search returns entries whose email or password contains the query, ignoring case
func (s *EntryService) Search(ctx context.Context, query string) ([]Entry, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"

	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM entries
		WHERE LOWER(email) LIKE ? ESCAPE '!' OR LOWER(COALESCE(password, '')) LIKE ? ESCAPE '!'
		`+entryOrdering, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search entries: %w", err)
	}
	return scanEntries(rows)
}

// Append stores a new entry at the tail of the collection
func (s *EntryService) Append(ctx context.Context, email string, password *string) (*Entry, error) {
	tx, err := s.db.BeginTx(ctx, s.appendTx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := insertTail(ctx, tx, email, password, s.now())
	if err != nil {
		return nil, err
	}

	entry, err := getEntry(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return entry, nil
}

// Import appends every record in one transaction, skipping emails that already exist
func (s *EntryService) Import(ctx context.Context, records []ImportRecord) (ImportResult, error) {
	var result ImportResult

	tx, err := s.db.BeginTx(ctx, s.appendTx)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	for _, rec := range records {
		_, err := insertTail(ctx, tx, rec.Email, rec.Password, now)
		if errors.Is(err, ErrDuplicateEmail) {
			result.Skipped++
			continue
		}
		if err != nil {
			return ImportResult{}, err
		}
		result.Imported++
	}

	if err := tx.Commit(); err != nil {
		return ImportResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

// Update replaces the email and password of an entry
func (s *EntryService) Update(ctx context.Context, id int64, email string, password *string) (*Entry, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entries SET email = ?, password = ?, updated_at = ? WHERE id = ?`,
		email, password, s.now(), id)
	if err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to update entry: %w", err)
	}

	if err := expectRow(res, id); err != nil {
		return nil, err
	}

	return s.Get(ctx, id)
}

// Delete removes a single entry
func (s *EntryService) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return expectRow(res, id)
}

// DeleteAll removes every entry and reports how many were removed
func (s *EntryService) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete entries: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// BulkSetOrder applies all assignments in one transaction or none of them.
// An assignment for a missing entry fails the whole batch with ErrStaleOrder.
func (s *EntryService) BulkSetOrder(ctx context.Context, assignments []OrderAssignment) error {
	if err := validateAssignments(assignments); err != nil {
		return err
	}
	if len(assignments) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE entries SET sort_order = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare order update: %w", err)
	}
	defer stmt.Close()

	for _, a := range assignments {
		res, err := stmt.ExecContext(ctx, a.Order, a.ID)
		if err != nil {
			return fmt.Errorf("failed to update order of entry %d: %w", a.ID, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: id %d", ErrStaleOrder, a.ID)
		}
	}

	// A partial batch may collide with entries it did not mention
	var collisions int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM (
		SELECT sort_order FROM entries GROUP BY sort_order HAVING COUNT(*) > 1
	) dup`).Scan(&collisions)
	if err != nil {
		return fmt.Errorf("failed to check order collisions: %w", err)
	}
	if collisions > 0 {
		return fmt.Errorf("%w: %d order values are shared by several entries", ErrInvalidAssignment, collisions)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func validateAssignments(assignments []OrderAssignment) error {
	ids := make(map[int64]struct{}, len(assignments))
	orders := make(map[int]struct{}, len(assignments))

	for _, a := range assignments {
		if _, ok := ids[a.ID]; ok {
			return fmt.Errorf("%w: id %d listed twice", ErrInvalidAssignment, a.ID)
		}
		if _, ok := orders[a.Order]; ok {
			return fmt.Errorf("%w: order %d listed twice", ErrInvalidAssignment, a.Order)
		}
		ids[a.ID] = struct{}{}
		orders[a.Order] = struct{}{}
	}

	return nil
}

// insertTail computes max(order)+1 in the same statement that inserts the row
func insertTail(ctx context.Context, q dbtx, email string, password *string, now time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `INSERT INTO entries (email, password, sort_order, created_at, updated_at)
		SELECT ?, ?, COALESCE(MAX(sort_order), 0) + 1, ?, ? FROM entries`,
		email, password, now, now)
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrDuplicateEmail
		}
		return 0, fmt.Errorf("failed to insert entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted id: %w", err)
	}
	return id, nil
}

func getEntry(ctx context.Context, q dbtx, id int64) (*Entry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query entry: %w", err)
	}
	return entry, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e        Entry
		password sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Email, &password, &e.Order, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if password.Valid {
		e.Password = &password.String
	}
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	result := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		result = append(result, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}
	return result, nil
}

func expectRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}
