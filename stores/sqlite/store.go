package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"canvas-collab/core"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db    *sql.DB
	clock core.Clock
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	return NewStoreWithClock(dataSourceName, core.SystemClock)
}

// connString attaches the pragmas every pooled connection must carry.
// Issuing them through db.Exec would configure only one connection of
// the pool; encoded in the DSN the driver applies them on every open.
// _txlock=immediate makes the sequencing transaction take the write
// lock up front, so racing writers queue on busy_timeout instead of
// failing when the deferred lock upgrade loses.
func connString(dataSourceName string) string {
	sep := "?"
	if strings.Contains(dataSourceName, "?") {
		sep = "&"
	}
	return dataSourceName + sep +
		"_txlock=immediate" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)"
}

// NewStoreWithClock lets tests control the timestamps stamped on
// reference-count adjustments.
func NewStoreWithClock(dataSourceName string, clock core.Clock) *sqliteStore {
	db, err := sql.Open("sqlite", connString(dataSourceName))
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		members TEXT NOT NULL DEFAULT '[]',
		settings TEXT NOT NULL DEFAULT '{}',
		last_snapshot_index INTEGER NOT NULL DEFAULT -1,
		last_snapshot_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ops (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		op_index INTEGER NOT NULL,
		type TEXT NOT NULL,
		element_id TEXT NOT NULL DEFAULT '',
		element_ids TEXT NOT NULL DEFAULT '[]',
		data TEXT NOT NULL DEFAULT '{}',
		actor_id TEXT NOT NULL,
		request_id TEXT NOT NULL DEFAULT '',
		client_ts DATETIME,
		created_at DATETIME NOT NULL,
		UNIQUE (project_id, op_index)
	);
	CREATE INDEX IF NOT EXISTS idx_ops_project_index ON ops(project_id, op_index);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_ops_request ON ops(project_id, request_id) WHERE request_id != '';

	CREATE TABLE IF NOT EXISTS op_counters (
		project_id TEXT PRIMARY KEY,
		next_index INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS elements (
		project_id TEXT NOT NULL,
		id TEXT NOT NULL,
		doc TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (project_id, id)
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		project_id TEXT NOT NULL,
		snapshot_index INTEGER NOT NULL,
		elements TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (project_id, snapshot_index)
	);

	CREATE TABLE IF NOT EXISTS media (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		storage_path TEXT NOT NULL DEFAULT '',
		origin TEXT NOT NULL,
		ref_count INTEGER NOT NULL DEFAULT 0,
		meta TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_media_refs ON media(ref_count, updated_at);
	`
	if _, err := db.Exec(schema); err != nil {
		log.Fatalf("failed to create schema: %v", err)
	}

	return &sqliteStore{db: db, clock: clock}
}

// isBusy reports whether the driver refused a write because another
// transaction holds the lock.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ProjectStore implementation

func (s *sqliteStore) CreateProject(ctx context.Context, p *core.Project) error {
	members, err := json.Marshal(p.Members)
	if err != nil {
		return err
	}
	settings, err := json.Marshal(p.Settings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, owner_id, members, settings, last_snapshot_index, last_snapshot_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.OwnerID, string(members), string(settings),
		p.LastSnapshotIndex, p.LastSnapshotAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		logrus.WithError(err).WithField("project_id", p.ID).Error("Failed to create project")
		return err
	}
	return nil
}

func (s *sqliteStore) scanProject(row *sql.Row) (*core.Project, error) {
	var (
		p              core.Project
		members        string
		settings       string
		lastSnapshotAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Name, &p.OwnerID, &members, &settings,
		&p.LastSnapshotIndex, &lastSnapshotAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(members), &p.Members); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(settings), &p.Settings); err != nil {
		return nil, err
	}
	if lastSnapshotAt.Valid {
		p.LastSnapshotAt = lastSnapshotAt.Time
	}
	return &p, nil
}

func (s *sqliteStore) GetProject(ctx context.Context, id string) (*core.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, members, settings, last_snapshot_index, last_snapshot_at, created_at, updated_at
		 FROM projects WHERE id = ?`, id)
	p, err := s.scanProject(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", id, core.ErrNotFound)
	}
	return p, err
}

func (s *sqliteStore) ListProjectsByMember(ctx context.Context, userID string) ([]*core.Project, error) {
	// Members are a JSON blob; owner match is indexed, membership is
	// filtered in Go after a coarse LIKE prefilter.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, owner_id, members, settings, last_snapshot_index, last_snapshot_at, created_at, updated_at
		 FROM projects WHERE owner_id = ? OR members LIKE ? ORDER BY created_at`,
		userID, `%"`+userID+`"%`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Project
	for rows.Next() {
		var (
			p              core.Project
			members        string
			settings       string
			lastSnapshotAt sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.OwnerID, &members, &settings,
			&p.LastSnapshotIndex, &lastSnapshotAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(members), &p.Members); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(settings), &p.Settings); err != nil {
			return nil, err
		}
		if lastSnapshotAt.Valid {
			p.LastSnapshotAt = lastSnapshotAt.Time
		}
		if _, ok := p.RoleOf(userID); !ok {
			continue
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateProject(ctx context.Context, p *core.Project) error {
	members, err := json.Marshal(p.Members)
	if err != nil {
		return err
	}
	settings, err := json.Marshal(p.Settings)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, members = ?, settings = ?, last_snapshot_index = ?, last_snapshot_at = ?, updated_at = ?
		 WHERE id = ?`,
		p.Name, string(members), string(settings), p.LastSnapshotIndex, p.LastSnapshotAt, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("project %s: %w", p.ID, core.ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) DeleteProject(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("project %s: %w", id, core.ErrNotFound)
	}
	// Deleting a project cascades to its log, projection, and snapshots.
	for _, stmt := range []string{
		`DELETE FROM ops WHERE project_id = ?`,
		`DELETE FROM op_counters WHERE project_id = ?`,
		`DELETE FROM elements WHERE project_id = ?`,
		`DELETE FROM snapshots WHERE project_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// OpStore implementation

// AppendOp runs the read-increment-write of the per-project counter and
// the op insert in one transaction, so two concurrent appends never
// receive the same index. Lock contention surfaces as core.ErrConflict
// for the sequencer to retry.
func (s *sqliteStore) AppendOp(ctx context.Context, op *core.Op) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return 0, fmt.Errorf("begin append: %w", core.ErrConflict)
		}
		return 0, fmt.Errorf("begin append: %w: %v", core.ErrUnavailable, err)
	}
	defer tx.Rollback()

	// Taking the counter row write-lock first serializes writers per store.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO op_counters (project_id, next_index) VALUES (?, 0)
		 ON CONFLICT(project_id) DO NOTHING`, op.ProjectID); err != nil {
		if isBusy(err) {
			return 0, fmt.Errorf("init counter: %w", core.ErrConflict)
		}
		return 0, err
	}

	var index int64
	err = tx.QueryRowContext(ctx,
		`UPDATE op_counters SET next_index = next_index + 1 WHERE project_id = ? RETURNING next_index - 1`,
		op.ProjectID).Scan(&index)
	if err != nil {
		if isBusy(err) {
			return 0, fmt.Errorf("increment counter: %w", core.ErrConflict)
		}
		return 0, err
	}

	elementIDs, err := json.Marshal(op.ElementIDs)
	if err != nil {
		return 0, err
	}
	data := op.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	var clientTS interface{}
	if op.ClientTS != nil {
		clientTS = *op.ClientTS
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO ops (id, project_id, op_index, type, element_id, element_ids, data, actor_id, request_id, client_ts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.ProjectID, index, string(op.Type), op.ElementID, string(elementIDs),
		string(data), op.ActorID, op.RequestID, clientTS, op.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) || isBusy(err) {
			return 0, fmt.Errorf("insert op: %w", core.ErrConflict)
		}
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return 0, fmt.Errorf("commit append: %w", core.ErrConflict)
		}
		return 0, err
	}
	op.OpIndex = index
	return index, nil
}

const opColumns = `id, project_id, op_index, type, element_id, element_ids, data, actor_id, request_id, client_ts, created_at`

func scanOp(scan func(dest ...any) error) (*core.Op, error) {
	var (
		op         core.Op
		opType     string
		elementIDs string
		data       string
		clientTS   sql.NullTime
	)
	err := scan(&op.ID, &op.ProjectID, &op.OpIndex, &opType, &op.ElementID,
		&elementIDs, &data, &op.ActorID, &op.RequestID, &clientTS, &op.CreatedAt)
	if err != nil {
		return nil, err
	}
	op.Type = core.OpType(opType)
	if err := json.Unmarshal([]byte(elementIDs), &op.ElementIDs); err != nil {
		return nil, err
	}
	op.Data = json.RawMessage(data)
	if clientTS.Valid {
		t := clientTS.Time
		op.ClientTS = &t
	}
	return &op, nil
}

func (s *sqliteStore) ListOpsSince(ctx context.Context, projectID string, fromIndex int64, limit int) ([]*core.Op, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+opColumns+` FROM ops WHERE project_id = ? AND op_index >= ? ORDER BY op_index ASC LIMIT ?`,
		projectID, fromIndex, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Op
	for rows.Next() {
		op, err := scanOp(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *sqliteStore) FindOpByRequestID(ctx context.Context, projectID, requestID string) (*core.Op, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+opColumns+` FROM ops WHERE project_id = ? AND request_id = ?`,
		projectID, requestID)
	op, err := scanOp(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("request %s: %w", requestID, core.ErrNotFound)
	}
	return op, err
}

func (s *sqliteStore) GetOp(ctx context.Context, projectID, opID string) (*core.Op, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+opColumns+` FROM ops WHERE project_id = ? AND id = ?`,
		projectID, opID)
	op, err := scanOp(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("op %s: %w", opID, core.ErrNotFound)
	}
	return op, err
}

func (s *sqliteStore) CurrentOpIndex(ctx context.Context, projectID string) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx,
		`SELECT next_index FROM op_counters WHERE project_id = ?`, projectID).Scan(&next)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	return next - 1, nil
}

// ElementStore implementation

func (s *sqliteStore) GetElements(ctx context.Context, projectID string, ids []string) (map[string]*core.Element, error) {
	out := make(map[string]*core.Element, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)+1)
	args = append(args, projectID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM elements WHERE project_id = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var e core.Element
		if err := json.Unmarshal([]byte(doc), &e); err != nil {
			return nil, err
		}
		out[e.ID] = &e
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListElements(ctx context.Context, projectID string) ([]*core.Element, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM elements WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Element
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var e core.Element
		if err := json.Unmarshal([]byte(doc), &e); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ApplyElementChanges(ctx context.Context, projectID string, upserts []*core.Element, removes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range upserts {
		doc, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO elements (project_id, id, doc, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(project_id, id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
			projectID, e.ID, string(doc), e.UpdatedAt); err != nil {
			return err
		}
	}
	for _, id := range removes {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM elements WHERE project_id = ? AND id = ?`, projectID, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SnapshotStore implementation

func (s *sqliteStore) SaveSnapshot(ctx context.Context, snap *core.Snapshot) error {
	elements, err := json.Marshal(snap.Elements)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (project_id, snapshot_index, elements, version, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, snapshot_index) DO UPDATE SET elements = excluded.elements, version = excluded.version, created_at = excluded.created_at`,
		snap.ProjectID, snap.OpIndex, string(elements), snap.Version, snap.CreatedAt)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"project_id":     snap.ProjectID,
			"snapshot_index": snap.OpIndex,
		}).Error("Failed to save snapshot")
	}
	return err
}

func (s *sqliteStore) scanSnapshot(row *sql.Row) (*core.Snapshot, error) {
	var (
		snap     core.Snapshot
		elements string
	)
	err := row.Scan(&snap.ProjectID, &snap.OpIndex, &elements, &snap.Version, &snap.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(elements), &snap.Elements); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *sqliteStore) GetSnapshot(ctx context.Context, projectID string, atIndex int64) (*core.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT project_id, snapshot_index, elements, version, created_at FROM snapshots
		 WHERE project_id = ? AND snapshot_index >= 0 AND snapshot_index <= ?
		 ORDER BY snapshot_index DESC LIMIT 1`,
		projectID, atIndex)
	snap, err := s.scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot at %d: %w", atIndex, core.ErrNotFound)
	}
	return snap, err
}

func (s *sqliteStore) GetLatestSnapshot(ctx context.Context, projectID string) (*core.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT project_id, snapshot_index, elements, version, created_at FROM snapshots
		 WHERE project_id = ? AND snapshot_index >= 0
		 ORDER BY snapshot_index DESC LIMIT 1`,
		projectID)
	snap, err := s.scanSnapshot(row)
	if err == nil {
		return snap, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}
	// Fall back to the rolling current slot.
	row = s.db.QueryRowContext(ctx,
		`SELECT project_id, snapshot_index, elements, version, created_at FROM snapshots
		 WHERE project_id = ? AND snapshot_index = ?`,
		projectID, core.CurrentSnapshotIndex)
	snap, err = s.scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("latest snapshot: %w", core.ErrNotFound)
	}
	return snap, err
}

// MediaStore implementation

func (s *sqliteStore) CreateMedia(ctx context.Context, m *core.Media) error {
	meta, err := json.Marshal(m.Meta)
	if err != nil {
		return err
	}
	now := s.clock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO media (id, project_id, url, storage_path, origin, ref_count, meta, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, m.URL, m.StoragePath, string(m.Origin), m.RefCount, string(meta), m.CreatedAt, m.UpdatedAt)
	return err
}

func (s *sqliteStore) GetMedia(ctx context.Context, id string) (*core.Media, error) {
	var (
		m      core.Media
		origin string
		meta   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, url, storage_path, origin, ref_count, meta, created_at, updated_at
		 FROM media WHERE id = ?`, id).
		Scan(&m.ID, &m.ProjectID, &m.URL, &m.StoragePath, &origin, &m.RefCount, &meta, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("media %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	m.Origin = core.MediaOrigin(origin)
	if err := json.Unmarshal([]byte(meta), &m.Meta); err != nil {
		return nil, err
	}
	return &m, nil
}

// AdjustMediaRefs clamps at zero inside the statement itself, so a
// retried decrement can never drive the count negative.
func (s *sqliteStore) AdjustMediaRefs(ctx context.Context, id string, delta int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE media SET ref_count = MAX(0, ref_count + ?), updated_at = ? WHERE id = ?`,
		delta, s.clock(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("media %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) ListUnreferencedMedia(ctx context.Context, olderThan time.Time, limit int) ([]*core.Media, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, url, storage_path, origin, ref_count, meta, created_at, updated_at
		 FROM media WHERE ref_count = 0 AND updated_at < ? ORDER BY updated_at ASC LIMIT ?`,
		olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Media
	for rows.Next() {
		var (
			m      core.Media
			origin string
			meta   string
		)
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.URL, &m.StoragePath, &origin, &m.RefCount, &meta, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Origin = core.MediaOrigin(origin)
		if err := json.Unmarshal([]byte(meta), &m.Meta); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteMedia(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("media %s: %w", id, core.ErrNotFound)
	}
	return nil
}
