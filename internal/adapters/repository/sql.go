package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite" // registers the "sqlite" driver
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/pressly/goose/v3"

	"github.com/okian/pitchside/internal/domain/assignment"
	"github.com/okian/pitchside/internal/domain/model"
	"github.com/okian/pitchside/pkg/logger"
	"github.com/okian/pitchside/pkg/metrics"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Dialect selects the SQL flavour and driver.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

func (d Dialect) driverName() (string, error) {
	switch d {
	case DialectPostgres:
		return "pgx", nil
	case DialectSQLite:
		return "sqlite", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDriver, string(d))
}

func (d Dialect) gooseDialect() string {
	if d == DialectSQLite {
		return "sqlite3"
	}
	return "postgres"
}

// SQLStore implements Store on database/sql for Postgres (pgx) and SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	opts    options
	stop    chan struct{}
	once    sync.Once
}

// Open connects, pings and optionally migrates.
func Open(ctx context.Context, dialect Dialect, dsn string, opts ...Option) (*SQLStore, error) {
	driver, err := dialect.driverName()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// SQLite serializes writers; one connection also keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	s, err := NewSQLStore(ctx, db, dialect, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database. Migrations and profile seeding run
// here when configured.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, opts ...Option) (*SQLStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("repository")
	}
	s := &SQLStore{db: db, dialect: dialect, opts: o, stop: make(chan struct{})}

	if o.migrate {
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	if len(o.profiles) > 0 {
		if err := s.UpsertProfiles(ctx, o.profiles); err != nil {
			return nil, fmt.Errorf("seed profiles: %w", err)
		}
	}
	s.startMetricsUpdater(ctx)
	return s, nil
}

// Migrate applies the embedded migrations.
func (s *SQLStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{log: s.opts.log})
	if err := goose.SetDialect(s.dialect.gooseDialect()); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Close stops the gauge updater and closes the database.
func (s *SQLStore) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		err = s.db.Close()
	})
	return err
}

func (s *SQLStore) startMetricsUpdater(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.opts.metricsUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.updateMetrics(ctx)
			}
		}
	}()
}

func (s *SQLStore) updateMetrics(ctx context.Context) {
	for kind, table := range map[string]string{
		"assignments":   "tracker_assignments",
		"claims":        "assignment_claims",
		"notifications": "notifications",
	} {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			s.opts.log.Debug(ctx, "record count failed", logger.String("table", table), logger.Error(err))
			continue
		}
		metrics.UpdateRepositoryRecords(kind, n)
	}
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const assignmentColumns = `id, match_id, tracker_user_id, tracker_email, player_id, player_team_id,
       assigned_event_types, assignment_type, video_url, created_at`

func (s *SQLStore) CreateAssignments(ctx context.Context, batch []model.Assignment) (err error) {
	defer func(start time.Time) { observe("create_assignments", start, err) }(time.Now())
	if len(batch) == 0 {
		return ErrEmptyBatch
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	insertAssignment := s.rebind(`
INSERT INTO tracker_assignments
  (id, match_id, tracker_user_id, player_id, player_team_id, assigned_event_types, assignment_type, video_url, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	insertClaim := s.rebind(`
INSERT INTO assignment_claims (match_id, player_id, player_team_id, event_type, assignment_id, tracker_user_id)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (match_id, player_id, player_team_id, event_type) DO NOTHING`)

	var lost []model.ClaimKey
	for i := range batch {
		a := &batch[i]
		types, mErr := json.Marshal(a.AssignedEventTypes)
		if mErr != nil {
			return fmt.Errorf("encode event types: %w", mErr)
		}
		if _, err = tx.ExecContext(ctx, insertAssignment,
			a.ID, a.MatchID, a.TrackerUserID, a.PlayerID, string(a.PlayerTeamID),
			string(types), string(a.AssignmentType), a.VideoURL, a.CreatedAt.UnixMilli(),
		); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: assignment %s", ErrDuplicateID, a.ID)
			}
			return fmt.Errorf("insert assignment: %w", err)
		}
		for _, c := range a.Claims() {
			res, execErr := tx.ExecContext(ctx, insertClaim,
				c.MatchID, c.PlayerID, string(c.TeamID), c.EventType, c.AssignmentID, c.TrackerUserID)
			if execErr != nil {
				err = fmt.Errorf("insert claim: %w", execErr)
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				lost = append(lost, c.ClaimKey)
			}
		}
	}

	if len(lost) > 0 {
		conflicts, qErr := s.owners(ctx, tx, lost)
		if qErr != nil {
			err = qErr
			return err
		}
		err = &assignment.ConflictError{Conflicts: conflicts}
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// owners resolves who holds each lost claim.
func (s *SQLStore) owners(ctx context.Context, tx *sql.Tx, keys []model.ClaimKey) ([]model.Claim, error) {
	query := s.rebind(`
SELECT c.assignment_id, c.tracker_user_id, COALESCE(p.email, '')
  FROM assignment_claims c
  LEFT JOIN profiles p ON p.id = c.tracker_user_id
 WHERE c.match_id = ? AND c.player_id = ? AND c.player_team_id = ? AND c.event_type = ?`)

	out := make([]model.Claim, 0, len(keys))
	for _, k := range keys {
		c := model.Claim{ClaimKey: k}
		err := tx.QueryRowContext(ctx, query, k.MatchID, k.PlayerID, string(k.TeamID), k.EventType).
			Scan(&c.AssignmentID, &c.TrackerUserID, &c.TrackerEmail)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load claim owner: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *SQLStore) ListAssignments(ctx context.Context, matchID string) (out []model.Assignment, err error) {
	defer func(start time.Time) { observe("list_assignments", start, err) }(time.Now())
	return s.queryAssignments(ctx, s.rebind(`
SELECT `+assignmentColumns+`
  FROM tracker_assignments_with_email
 WHERE match_id = ?
 ORDER BY created_at, id`), matchID)
}

func (s *SQLStore) ListPlayerAssignments(ctx context.Context, matchID, playerID string, team model.TeamSide) (out []model.Assignment, err error) {
	defer func(start time.Time) { observe("list_player_assignments", start, err) }(time.Now())
	return s.queryAssignments(ctx, s.rebind(`
SELECT `+assignmentColumns+`
  FROM tracker_assignments_with_email
 WHERE match_id = ? AND player_id = ? AND player_team_id = ?
 ORDER BY created_at, id`), matchID, playerID, string(team))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row rowScanner) (model.Assignment, error) {
	var (
		a          model.Assignment
		team, kind string
		types      string
		createdAt  int64
	)
	if err := row.Scan(&a.ID, &a.MatchID, &a.TrackerUserID, &a.TrackerEmail, &a.PlayerID, &team,
		&types, &kind, &a.VideoURL, &createdAt); err != nil {
		return model.Assignment{}, err
	}
	if err := json.Unmarshal([]byte(types), &a.AssignedEventTypes); err != nil {
		return model.Assignment{}, fmt.Errorf("decode event types of %s: %w", a.ID, err)
	}
	a.PlayerTeamID = model.TeamSide(team)
	a.AssignmentType = model.AssignmentType(kind)
	a.CreatedAt = time.UnixMilli(createdAt).UTC()
	return a, nil
}

func (s *SQLStore) queryAssignments(ctx context.Context, query string, args ...any) ([]model.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Assignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteAssignment(ctx context.Context, id string) (deleted model.Assignment, err error) {
	defer func(start time.Time) { observe("delete_assignment", start, err) }(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Assignment{}, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	deleted, err = scanAssignment(tx.QueryRowContext(ctx, s.rebind(`
SELECT `+assignmentColumns+`
  FROM tracker_assignments_with_email
 WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("assignment %s: %w", id, ErrNotFound)
		return model.Assignment{}, err
	}
	if err != nil {
		return model.Assignment{}, err
	}

	if _, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM assignment_claims WHERE assignment_id = ?`), id); err != nil {
		return model.Assignment{}, fmt.Errorf("release claims: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM tracker_assignments WHERE id = ?`), id)
	if err != nil {
		return model.Assignment{}, fmt.Errorf("delete assignment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return model.Assignment{}, fmt.Errorf("delete assignment: %w", err)
	}
	// A concurrent delete committed between our read and our write.
	if affected == 0 {
		err = fmt.Errorf("assignment %s: %w", id, ErrNotFound)
		return model.Assignment{}, err
	}
	if err = tx.Commit(); err != nil {
		return model.Assignment{}, fmt.Errorf("commit: %w", err)
	}
	return deleted, nil
}

func (s *SQLStore) ListTrackers(ctx context.Context) (out []model.TrackerUser, err error) {
	defer func(start time.Time) { observe("list_trackers", start, err) }(time.Now())
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, email, full_name
  FROM profiles
 WHERE role = ?
 ORDER BY email, id`), model.RoleTracker)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out = []model.TrackerUser{}
	for rows.Next() {
		var t model.TrackerUser
		if err = rows.Scan(&t.ID, &t.Email, &t.FullName); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetTracker(ctx context.Context, id string) (model.TrackerUser, error) {
	var t model.TrackerUser
	err := s.db.QueryRowContext(ctx, s.rebind(`
SELECT id, email, full_name
  FROM profiles
 WHERE id = ? AND role = ?`), id, model.RoleTracker).Scan(&t.ID, &t.Email, &t.FullName)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TrackerUser{}, fmt.Errorf("tracker %s: %w", id, ErrNotFound)
	}
	return t, err
}

func (s *SQLStore) UpsertProfiles(ctx context.Context, profiles []model.Profile) error {
	query := s.rebind(`
INSERT INTO profiles (id, email, full_name, role)
VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
  email     = excluded.email,
  full_name = excluded.full_name,
  role      = excluded.role`)
	for _, p := range profiles {
		if _, err := s.db.ExecContext(ctx, query, p.ID, p.Email, p.FullName, p.Role); err != nil {
			return fmt.Errorf("upsert profile %s: %w", p.ID, err)
		}
	}
	return nil
}

func (s *SQLStore) InsertNotification(ctx context.Context, n model.Notification) (err error) {
	defer func(start time.Time) { observe("insert_notification", start, err) }(time.Now())
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("encode notification data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
INSERT INTO notifications (id, user_id, match_id, type, title, message, notification_data, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		n.ID, n.UserID, n.MatchID, string(n.Type), n.Title, n.Message, string(data), n.CreatedAt.UnixMilli())
	return err
}

func (s *SQLStore) ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, user_id, match_id, type, title, message, notification_data, created_at
  FROM notifications
 WHERE user_id = ?
 ORDER BY created_at DESC, id DESC
 LIMIT ?`), userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var (
			n         model.Notification
			kind      string
			data      string
			createdAt int64
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.MatchID, &kind, &n.Title, &n.Message, &data, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
			return nil, fmt.Errorf("decode notification %s: %w", n.ID, err)
		}
		n.Type = model.NotificationType(kind)
		n.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}

// isUniqueViolation recognises primary key and unique violations from
// Postgres (SQLSTATE 23505) and SQLite (extended codes 1555 and 2067).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		switch coded.Code() {
		case 1555, 2067:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type gooseLogger struct {
	log logger.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.log.Info(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.log.Error(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
}
