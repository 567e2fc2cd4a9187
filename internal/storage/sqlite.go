package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"immunizer/internal/immunization"
	logx "immunizer/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Timestamps are stored as unix milliseconds and read back in UTC.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	if path != ":memory:" {
		_, _ = db.Exec("PRAGMA journal_mode = WAL")
		_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	}

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- children ----

func (s *sqliteStore) ListChildren(ctx context.Context) ([]immunization.Child, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, date_of_birth, parent_id, created_at FROM children ORDER BY id`)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	out := make([]immunization.Child, 0)
	for rows.Next() {
		c, err := scanChild(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

func (s *sqliteStore) GetChild(ctx context.Context, id string) (immunization.Child, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, date_of_birth, parent_id, created_at FROM children WHERE id = ?`, id)
	c, err := scanChild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return immunization.Child{}, fmt.Errorf("child %s: %w", id, immunization.ErrNotFound)
	}
	if err != nil {
		return immunization.Child{}, storeErr(err)
	}
	return c, nil
}

func (s *sqliteStore) UpsertChild(ctx context.Context, c immunization.Child) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("child id required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO children(id, name, date_of_birth, parent_id, created_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, date_of_birth=excluded.date_of_birth, parent_id=excluded.parent_id`,
		c.ID, c.Name, c.DateOfBirth.UnixMilli(), c.ParentID, c.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return storeErr(err)
	}
	return nil
}

func scanChild(sc scanner) (immunization.Child, error) {
	var (
		c            immunization.Child
		dob, created int64
	)
	if err := sc.Scan(&c.ID, &c.Name, &dob, &c.ParentID, &created); err != nil {
		return immunization.Child{}, err
	}
	c.DateOfBirth = fromMillis(dob)
	c.CreatedAt = fromMillis(created)
	return c, nil
}

// ---- vaccines ----

const vaccineCols = `id, name, description, age_windows, doses, active, created_at, updated_at`

func (s *sqliteStore) ListVaccines(ctx context.Context, activeOnly bool) ([]immunization.VaccineDefinition, error) {
	q := `SELECT ` + vaccineCols + ` FROM vaccines`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	out := make([]immunization.VaccineDefinition, 0)
	for rows.Next() {
		v, err := scanVaccine(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

func (s *sqliteStore) GetVaccine(ctx context.Context, id string) (immunization.VaccineDefinition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+vaccineCols+` FROM vaccines WHERE id = ?`, id)
	v, err := scanVaccine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return immunization.VaccineDefinition{}, fmt.Errorf("vaccine %s: %w", id, immunization.ErrNotFound)
	}
	if err != nil {
		return immunization.VaccineDefinition{}, storeErr(err)
	}
	return v, nil
}

func (s *sqliteStore) UpsertVaccine(ctx context.Context, v immunization.VaccineDefinition) error {
	if strings.TrimSpace(v.ID) == "" {
		return fmt.Errorf("vaccine id required")
	}
	windows, err := json.Marshal(v.AgeWindows)
	if err != nil {
		return err
	}
	doses, err := json.Marshal(v.Doses)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vaccines(`+vaccineCols+`) VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description,
		   age_windows=excluded.age_windows, doses=excluded.doses, active=excluded.active, updated_at=excluded.updated_at`,
		v.ID, v.Name, v.Description, string(windows), string(doses), boolInt(v.Active), v.CreatedAt.UnixMilli(), v.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return storeErr(err)
	}
	return nil
}

func scanVaccine(sc scanner) (immunization.VaccineDefinition, error) {
	var (
		v                immunization.VaccineDefinition
		windows, doses   string
		active           int
		created, updated int64
	)
	if err := sc.Scan(&v.ID, &v.Name, &v.Description, &windows, &doses, &active, &created, &updated); err != nil {
		return immunization.VaccineDefinition{}, err
	}
	if err := json.Unmarshal([]byte(windows), &v.AgeWindows); err != nil {
		return immunization.VaccineDefinition{}, fmt.Errorf("vaccine %s age_windows: %w", v.ID, err)
	}
	if err := json.Unmarshal([]byte(doses), &v.Doses); err != nil {
		return immunization.VaccineDefinition{}, fmt.Errorf("vaccine %s doses: %w", v.ID, err)
	}
	v.Active = active != 0
	v.CreatedAt = fromMillis(created)
	v.UpdatedAt = fromMillis(updated)
	return v, nil
}

// ---- records ----

const recordCols = `id, child_id, vaccine_id, dose_number, scheduled_date, status, administered_date,
	administered_by, batch_number, notes, created_at, updated_at`

func (s *sqliteStore) FindRecords(ctx context.Context, f RecordFilter) ([]immunization.VaccinationRecord, error) {
	where, args := recordWhere(f)
	q := `SELECT ` + recordCols + ` FROM vaccination_records` + where + ` ORDER BY scheduled_date, id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	out := make([]immunization.VaccinationRecord, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

func (s *sqliteStore) GetRecord(ctx context.Context, id string) (immunization.VaccinationRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordCols+` FROM vaccination_records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return immunization.VaccinationRecord{}, fmt.Errorf("record %s: %w", id, immunization.ErrNotFound)
	}
	if err != nil {
		return immunization.VaccinationRecord{}, storeErr(err)
	}
	return r, nil
}

func (s *sqliteStore) CreateRecord(ctx context.Context, r immunization.VaccinationRecord) error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("record id required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vaccination_records(`+recordCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.ChildID, r.VaccineID, r.DoseNumber, r.ScheduledDate.UnixMilli(), string(r.Status), nullMillis(r.AdministeredDate),
		r.AdministeredBy, r.BatchNumber, r.Notes, r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("child %s vaccine %s dose %d: %w", r.ChildID, r.VaccineID, r.DoseNumber, immunization.ErrDuplicate)
	}
	if err != nil {
		return storeErr(err)
	}
	return nil
}

func (s *sqliteStore) UpdateRecord(ctx context.Context, r immunization.VaccinationRecord, from immunization.RecordStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE vaccination_records SET child_id=?, vaccine_id=?, dose_number=?, scheduled_date=?, status=?,
		   administered_date=?, administered_by=?, batch_number=?, notes=?, updated_at=?
		 WHERE id=? AND status=?`,
		r.ChildID, r.VaccineID, r.DoseNumber, r.ScheduledDate.UnixMilli(), string(r.Status),
		nullMillis(r.AdministeredDate), r.AdministeredBy, r.BatchNumber, r.Notes, r.UpdatedAt.UnixMilli(), r.ID, string(from),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("child %s vaccine %s dose %d: %w", r.ChildID, r.VaccineID, r.DoseNumber, immunization.ErrDuplicate)
	}
	if err != nil {
		return storeErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var cur string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM vaccination_records WHERE id=?`, r.ID).Scan(&cur)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("record %s: %w", r.ID, immunization.ErrNotFound)
		case err != nil:
			return storeErr(err)
		}
		return staleStatus(r.ID, from, immunization.RecordStatus(cur))
	}
	return nil
}

func (s *sqliteStore) DeleteRecords(ctx context.Context, f RecordFilter) (int, error) {
	if f.empty() {
		return 0, ErrUnfilteredDelete
	}
	where, args := recordWhere(f)
	res, err := s.db.ExecContext(ctx, `DELETE FROM vaccination_records`+where, args...)
	if err != nil {
		return 0, storeErr(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func recordWhere(f RecordFilter) (string, []any) {
	var w whereBuilder
	if f.ChildID != "" {
		w.add("child_id = ?", f.ChildID)
	}
	if f.VaccineID != "" {
		w.add("vaccine_id = ?", f.VaccineID)
	}
	if f.DoseNumber != 0 {
		w.add("dose_number = ?", f.DoseNumber)
	}
	if len(f.Statuses) > 0 {
		vals := make([]any, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			vals = append(vals, string(st))
		}
		w.in("status", vals)
	}
	if !f.ScheduledFrom.IsZero() {
		w.add("scheduled_date >= ?", f.ScheduledFrom.UnixMilli())
	}
	if !f.ScheduledBefore.IsZero() {
		w.add("scheduled_date < ?", f.ScheduledBefore.UnixMilli())
	}
	if !f.UpdatedBefore.IsZero() {
		w.add("updated_at < ?", f.UpdatedBefore.UnixMilli())
	}
	return w.sql(), w.args
}

func scanRecord(sc scanner) (immunization.VaccinationRecord, error) {
	var (
		r                           immunization.VaccinationRecord
		scheduled, created, updated int64
		administered                sql.NullInt64
		status                      string
	)
	err := sc.Scan(&r.ID, &r.ChildID, &r.VaccineID, &r.DoseNumber, &scheduled, &status, &administered,
		&r.AdministeredBy, &r.BatchNumber, &r.Notes, &created, &updated)
	if err != nil {
		return immunization.VaccinationRecord{}, err
	}
	r.Status = immunization.RecordStatus(status)
	r.ScheduledDate = fromMillis(scheduled)
	if administered.Valid {
		t := fromMillis(administered.Int64)
		r.AdministeredDate = &t
	}
	r.CreatedAt = fromMillis(created)
	r.UpdatedAt = fromMillis(updated)
	return r, nil
}

// ---- notifications ----

const notificationCols = `id, type, record_id, child_id, recipient, title, message, methods, status, error, attempts, created_at, sent_at`

func (s *sqliteStore) FindNotifications(ctx context.Context, f NotificationFilter) ([]immunization.Notification, error) {
	where, args := notificationWhere(f)
	q := `SELECT ` + notificationCols + ` FROM notifications` + where + ` ORDER BY created_at, id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	out := make([]immunization.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

func (s *sqliteStore) CreateNotification(ctx context.Context, n immunization.Notification) error {
	if strings.TrimSpace(n.ID) == "" {
		return fmt.Errorf("notification id required")
	}
	methods, err := json.Marshal(n.Methods)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notifications(`+notificationCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		n.ID, string(n.Type), n.RecordID, n.ChildID, n.Recipient, n.Title, n.Message, string(methods),
		string(n.Status), n.Error, n.Attempts, n.CreatedAt.UnixMilli(), nullMillis(n.SentAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("notification %s: %w", n.ID, immunization.ErrDuplicate)
	}
	if err != nil {
		return storeErr(err)
	}
	return nil
}

func (s *sqliteStore) UpdateNotification(ctx context.Context, n immunization.Notification) error {
	methods, err := json.Marshal(n.Methods)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET type=?, record_id=?, child_id=?, recipient=?, title=?, message=?, methods=?,
		   status=?, error=?, attempts=?, sent_at=?
		 WHERE id=?`,
		string(n.Type), n.RecordID, n.ChildID, n.Recipient, n.Title, n.Message, string(methods),
		string(n.Status), n.Error, n.Attempts, nullMillis(n.SentAt), n.ID,
	)
	if err != nil {
		return storeErr(err)
	}
	if c, err := res.RowsAffected(); err == nil && c == 0 {
		return fmt.Errorf("notification %s: %w", n.ID, immunization.ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) DeleteNotifications(ctx context.Context, f NotificationFilter) (int, error) {
	if f.empty() {
		return 0, ErrUnfilteredDelete
	}
	where, args := notificationWhere(f)
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications`+where, args...)
	if err != nil {
		return 0, storeErr(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func notificationWhere(f NotificationFilter) (string, []any) {
	var w whereBuilder
	if f.RecordID != "" {
		w.add("record_id = ?", f.RecordID)
	}
	if len(f.Types) > 0 {
		vals := make([]any, 0, len(f.Types))
		for _, t := range f.Types {
			vals = append(vals, string(t))
		}
		w.in("type", vals)
	}
	if len(f.Statuses) > 0 {
		vals := make([]any, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			vals = append(vals, string(st))
		}
		w.in("status", vals)
	}
	if !f.CreatedFrom.IsZero() {
		w.add("created_at >= ?", f.CreatedFrom.UnixMilli())
	}
	if !f.CreatedBefore.IsZero() {
		w.add("created_at < ?", f.CreatedBefore.UnixMilli())
	}
	return w.sql(), w.args
}

func scanNotification(sc scanner) (immunization.Notification, error) {
	var (
		n                    immunization.Notification
		typ, status, methods string
		created              int64
		sent                 sql.NullInt64
	)
	err := sc.Scan(&n.ID, &typ, &n.RecordID, &n.ChildID, &n.Recipient, &n.Title, &n.Message, &methods,
		&status, &n.Error, &n.Attempts, &created, &sent)
	if err != nil {
		return immunization.Notification{}, err
	}
	if err := json.Unmarshal([]byte(methods), &n.Methods); err != nil {
		return immunization.Notification{}, fmt.Errorf("notification %s methods: %w", n.ID, err)
	}
	n.Type = immunization.NotificationType(typ)
	n.Status = immunization.NotificationStatus(status)
	n.CreatedAt = fromMillis(created)
	if sent.Valid {
		t := fromMillis(sent.Int64)
		n.SentAt = &t
	}
	return n, nil
}

// ---- helpers ----

type scanner interface {
	Scan(dest ...any) error
}

type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, arg any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, arg)
}

func (w *whereBuilder) in(col string, vals []any) {
	ph := strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",")
	w.conds = append(w.conds, col+" IN ("+ph+")")
	w.args = append(w.args, vals...)
}

func (w *whereBuilder) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
