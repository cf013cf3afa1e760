// Package storage is the SQLite implementation of the ledger store and the
// entitlement status store.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"budget/internal/core"
	"budget/internal/id"
	"budget/internal/ledger"
	"budget/internal/log"

	_ "modernc.org/sqlite"
)

const (
	kindOverride  = "override"
	kindExclusion = "exclusion"

	settingPremium   = "premium"
	settingInstallID = "install_id"
)

type SQLiteRepository struct {
	db     *sql.DB
	logger *log.Logger
}

var _ ledger.Store = (*SQLiteRepository)(nil)

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// migrates it.
func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = log.Nop()
	}
	logger = logger.WithComponent(log.ComponentStorage)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	version, err := migrateSchema(dsn, logger)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Single connection: writers never contend for the database lock.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info("SQLite database ready", "path", dbPath, "schema_version", version)

	return &SQLiteRepository{db: db, logger: logger}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks database connectivity.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func (r *SQLiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nextSeq(ctx context.Context, q querier, table string) (int64, error) {
	var seq int64
	err := q.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) + 1 FROM "+table).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}
	return seq, nil
}

// ==================== Entries ====================

const entryColumns = "id, seq, title, amount_cents, day, template_id"

func scanEntry(row interface{ Scan(...any) error }) (core.Entry, error) {
	var (
		e   core.Entry
		day string
	)
	if err := row.Scan(&e.ID, &e.Seq, &e.Title, &e.Amount.Cents, &day, &e.TemplateID); err != nil {
		return core.Entry{}, err
	}
	d, err := core.ParseDate(day)
	if err != nil {
		return core.Entry{}, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	e.Date = d
	return e, nil
}

func (r *SQLiteRepository) AddEntry(ctx context.Context, e core.Entry) (id.ID, error) {
	var entryID id.ID
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		entryID, err = insertEntry(ctx, tx, e)
		return err
	})
	if err != nil {
		return id.Nil, err
	}
	return entryID, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e core.Entry) (id.ID, error) {
	if e.ID.IsNil() {
		e.ID = id.NewEntryID()
	} else {
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger_entries WHERE id = ?", e.ID).Scan(&n); err != nil {
			return id.Nil, fmt.Errorf("check entry: %w", err)
		}
		if n > 0 {
			return id.Nil, ledger.ErrEntryExists
		}
	}
	seq, err := nextSeq(ctx, tx, "ledger_entries")
	if err != nil {
		return id.Nil, err
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO ledger_entries ("+entryColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		e.ID, seq, e.Title, e.Amount.Cents, e.Date.String(), e.TemplateID)
	if err != nil {
		return id.Nil, fmt.Errorf("insert entry: %w", err)
	}
	return e.ID, nil
}

func (r *SQLiteRepository) DeleteEntry(ctx context.Context, entryID id.ID) (bool, error) {
	var deleted bool
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM ledger_entries WHERE id = ?", entryID)
		if err != nil {
			return fmt.Errorf("delete entry: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		_, err = tx.ExecContext(ctx,
			"DELETE FROM template_exceptions WHERE entry_id = ? AND kind = ?", entryID, kindOverride)
		if err != nil {
			return fmt.Errorf("delete override mark: %w", err)
		}
		return nil
	})
	return deleted, err
}

func (r *SQLiteRepository) UpdateEntry(ctx context.Context, e core.Entry) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE ledger_entries SET title = ?, amount_cents = ?, day = ? WHERE id = ?",
		e.Title, e.Amount.Cents, e.Date.String(), e.ID)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) GetEntry(ctx context.Context, entryID id.ID) (core.Entry, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM ledger_entries WHERE id = ?", entryID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, core.ErrNotFound
	}
	if err != nil {
		return core.Entry{}, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) EntriesInRange(ctx context.Context, from, to core.Date) ([]core.Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE day >= ? AND day <= ? ORDER BY day, seq",
		from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []core.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) SumThrough(ctx context.Context, date core.Date) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount_cents), 0) FROM ledger_entries WHERE day <= ?", date.String()).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum entries: %w", err)
	}
	return sum, nil
}

// ==================== Templates ====================

const templateColumns = "id, seq, title, amount_cents, start_day, active"

func scanTemplate(row interface{ Scan(...any) error }) (core.RecurringTemplate, error) {
	var (
		t     core.RecurringTemplate
		start string
	)
	if err := row.Scan(&t.ID, &t.Seq, &t.Title, &t.Amount.Cents, &start, &t.Active); err != nil {
		return core.RecurringTemplate{}, err
	}
	d, err := core.ParseDate(start)
	if err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("template %s: %w", t.ID, err)
	}
	t.StartDate = d
	return t, nil
}

func (r *SQLiteRepository) ActiveTemplates(ctx context.Context) ([]core.RecurringTemplate, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+templateColumns+" FROM recurring_templates WHERE active = 1 ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	var out []core.RecurringTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	// close before the next query: the pool holds a single connection
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	skips, err := r.skipSets(ctx)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Skip = skips[out[i].ID.String()]
		if out[i].Skip == nil {
			out[i].Skip = core.MonthSet{}
		}
	}
	return out, nil
}

func (r *SQLiteRepository) skipSets(ctx context.Context) (map[string]core.MonthSet, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT template_id, month FROM template_exceptions")
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]core.MonthSet)
	for rows.Next() {
		var templateID, month string
		if err := rows.Scan(&templateID, &month); err != nil {
			return nil, fmt.Errorf("scan exception: %w", err)
		}
		m, err := core.ParseMonth(month)
		if err != nil {
			return nil, err
		}
		if out[templateID] == nil {
			out[templateID] = core.MonthSet{}
		}
		out[templateID].Add(m)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetTemplate(ctx context.Context, templateID id.ID) (core.RecurringTemplate, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+templateColumns+" FROM recurring_templates WHERE id = ?", templateID)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringTemplate{}, core.ErrNotFound
	}
	if err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("get template: %w", err)
	}
	skips, err := r.skipSets(ctx)
	if err != nil {
		return core.RecurringTemplate{}, err
	}
	t.Skip = skips[t.ID.String()]
	if t.Skip == nil {
		t.Skip = core.MonthSet{}
	}
	return t, nil
}

func (r *SQLiteRepository) AddTemplate(ctx context.Context, t core.RecurringTemplate) (id.ID, error) {
	if t.ID.IsNil() {
		t.ID = id.NewTemplateID()
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		seq, err := nextSeq(ctx, tx, "recurring_templates")
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO recurring_templates ("+templateColumns+") VALUES (?, ?, ?, ?, ?, ?)",
			t.ID, seq, t.Title, t.Amount.Cents, t.StartDate.String(), t.Active)
		if err != nil {
			return fmt.Errorf("insert template: %w", err)
		}
		return nil
	})
	if err != nil {
		return id.Nil, err
	}
	return t.ID, nil
}

func (r *SQLiteRepository) DeactivateTemplate(ctx context.Context, templateID id.ID) error {
	res, err := r.db.ExecContext(ctx, "UPDATE recurring_templates SET active = 0 WHERE id = ?", templateID)
	if err != nil {
		return fmt.Errorf("deactivate template: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// ==================== Exceptions ====================

func templateExists(ctx context.Context, q querier, templateID id.ID) error {
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM recurring_templates WHERE id = ?", templateID).Scan(&n); err != nil {
		return fmt.Errorf("check template: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) RecordOverride(ctx context.Context, templateID id.ID, month core.Month, e core.Entry) (id.ID, error) {
	var entryID id.ID
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := templateExists(ctx, tx, templateID); err != nil {
			return err
		}
		var n int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM template_exceptions WHERE template_id = ? AND month = ?",
			templateID, month.String()).Scan(&n)
		if err != nil {
			return fmt.Errorf("check exception: %w", err)
		}
		if n > 0 {
			return ledger.ErrOverrideExists
		}

		e.TemplateID = templateID
		entryID, err = insertEntry(ctx, tx, e)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO template_exceptions (template_id, month, kind, entry_id) VALUES (?, ?, ?, ?)",
			templateID, month.String(), kindOverride, entryID)
		if err != nil {
			return fmt.Errorf("insert override: %w", err)
		}
		return nil
	})
	if err != nil {
		return id.Nil, err
	}
	return entryID, nil
}

func (r *SQLiteRepository) OverrideFor(ctx context.Context, templateID id.ID, month core.Month) (core.Entry, bool, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT e.id, e.seq, e.title, e.amount_cents, e.day, e.template_id "+
			"FROM template_exceptions x JOIN ledger_entries e ON e.id = x.entry_id "+
			"WHERE x.template_id = ? AND x.month = ? AND x.kind = ?",
		templateID, month.String(), kindOverride)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, false, nil
	}
	if err != nil {
		return core.Entry{}, false, fmt.Errorf("get override: %w", err)
	}
	return e, true, nil
}

func (r *SQLiteRepository) RecordExclusion(ctx context.Context, templateID id.ID, month core.Month) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := templateExists(ctx, tx, templateID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO template_exceptions (template_id, month, kind, entry_id) VALUES (?, ?, ?, NULL) "+
				"ON CONFLICT (template_id, month) DO UPDATE SET kind = excluded.kind, entry_id = NULL",
			templateID, month.String(), kindExclusion)
		if err != nil {
			return fmt.Errorf("record exclusion: %w", err)
		}
		return nil
	})
}

// ==================== Settings ====================

func (r *SQLiteRepository) getSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return v, true, nil
}

func (r *SQLiteRepository) setSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// SavePremium persists the last definitive entitlement.
func (r *SQLiteRepository) SavePremium(ctx context.Context, premium bool) error {
	return r.setSetting(ctx, settingPremium, strconv.FormatBool(premium))
}

// LoadPremium returns the persisted entitlement.
func (r *SQLiteRepository) LoadPremium(ctx context.Context) (premium, known bool, err error) {
	v, ok, err := r.getSetting(ctx, settingPremium)
	if err != nil || !ok {
		return false, false, err
	}
	premium, err = strconv.ParseBool(v)
	if err != nil {
		r.logger.WarnContext(ctx, "Ignoring malformed premium setting", "value", v)
		return false, false, nil
	}
	return premium, true, nil
}

// EnsureInstallID returns the id of this installation, creating it on first
// use.
func (r *SQLiteRepository) EnsureInstallID(ctx context.Context) (string, error) {
	v, ok, err := r.getSetting(ctx, settingInstallID)
	if err != nil {
		return "", err
	}
	if ok {
		return v, nil
	}
	v = id.New(id.PrefixInstall).String()
	if err := r.setSetting(ctx, settingInstallID, v); err != nil {
		return "", err
	}
	r.logger.InfoContext(ctx, "Install id created", "install_id", v)
	return v, nil
}
