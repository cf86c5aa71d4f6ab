package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/objperm/permission"
	"github.com/MrEthical07/objperm/record"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgx used by the store. *pgxpool.Pool, *pgx.Conn and
// pgx.Tx all satisfy it.
type DB interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS object_permissions (
    entity_type  TEXT        NOT NULL,
    instance_id  TEXT        NOT NULL,
    subject_kind SMALLINT    NOT NULL,
    subject_id   TEXT        NOT NULL,
    mask         BIGINT      NOT NULL DEFAULT 0,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (entity_type, instance_id, subject_kind, subject_id)
);

CREATE TABLE IF NOT EXISTS object_permission_members (
    group_id TEXT NOT NULL,
    actor_id TEXT NOT NULL,
    PRIMARY KEY (actor_id, group_id)
);

CREATE INDEX IF NOT EXISTS object_permission_members_group_idx
    ON object_permission_members (group_id);
`

const (
	selectMaskSQL = `SELECT mask FROM object_permissions
WHERE entity_type = $1 AND instance_id = $2 AND subject_kind = $3 AND subject_id = $4`

	selectManySQL = `SELECT p.entity_type, p.instance_id, p.subject_kind, p.subject_id, p.mask
FROM object_permissions p
JOIN unnest($1::text[], $2::text[], $3::smallint[], $4::text[]) AS k(entity_type, instance_id, subject_kind, subject_id)
  ON p.entity_type = k.entity_type AND p.instance_id = k.instance_id
 AND p.subject_kind = k.subject_kind AND p.subject_id = k.subject_id`

	orExistingSQL = `WITH old AS (
    SELECT mask FROM object_permissions
    WHERE entity_type = $1 AND instance_id = $2 AND subject_kind = $3 AND subject_id = $4
    FOR UPDATE
)
UPDATE object_permissions AS p SET mask = p.mask | $5, updated_at = now()
FROM old
WHERE p.entity_type = $1 AND p.instance_id = $2 AND p.subject_kind = $3 AND p.subject_id = $4
RETURNING old.mask, p.mask`

	andNotExistingSQL = `WITH old AS (
    SELECT mask FROM object_permissions
    WHERE entity_type = $1 AND instance_id = $2 AND subject_kind = $3 AND subject_id = $4
    FOR UPDATE
)
UPDATE object_permissions AS p SET mask = p.mask & ~$5::bigint, updated_at = now()
FROM old
WHERE p.entity_type = $1 AND p.instance_id = $2 AND p.subject_kind = $3 AND p.subject_id = $4
RETURNING old.mask, p.mask`

	insertSQL = `INSERT INTO object_permissions (entity_type, instance_id, subject_kind, subject_id, mask)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT DO NOTHING
RETURNING mask`

	deleteZeroSQL = `DELETE FROM object_permissions
WHERE entity_type = $1 AND instance_id = $2 AND subject_kind = $3 AND subject_id = $4 AND mask = 0`

	listSQL = `SELECT subject_kind, subject_id, mask FROM object_permissions
WHERE entity_type = $1 AND instance_id = $2
ORDER BY subject_kind, subject_id`

	addMemberSQL    = `INSERT INTO object_permission_members (group_id, actor_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	removeMemberSQL = `DELETE FROM object_permission_members WHERE group_id = $1 AND actor_id = $2`
	groupsSQL       = `SELECT group_id FROM object_permission_members WHERE actor_id = $1 ORDER BY group_id`
	membersSQL      = `SELECT actor_id FROM object_permission_members WHERE group_id = $1 ORDER BY actor_id`
)

// insertAttempts bounds the update-or-insert loop. A lost insert race means
// the row now exists, so the second update attempt always finds it unless
// the row was deleted in between.
const insertAttempts = 3

// Connect opens a pgx pool for dsn and pings it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("pgstore: new pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", record.ErrUnavailable, err)
	}
	return pool, nil
}

// Migrate creates the permission and membership tables if missing.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%w: migrate: %v", record.ErrUnavailable, err)
	}
	return nil
}

// Store is a Postgres-backed [record.Store]. Masks are stored as BIGINT and
// mutated with bitwise SQL under a row lock.
type Store struct {
	db DB
}

var _ record.Store = (*Store)(nil)

// New creates a [Store] on db.
func New(db DB) *Store {
	return &Store{db: db}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", record.ErrUnavailable, err)
}

func keyArgs(key record.Key) []interface{} {
	return []interface{}{key.EntityType, key.InstanceID, int16(key.Kind), key.SubjectID}
}

func (s *Store) Get(ctx context.Context, key record.Key) (record.Record, error) {
	if err := key.Validate(); err != nil {
		return record.Record{}, err
	}

	var raw int64
	err := s.db.QueryRow(ctx, selectMaskSQL, keyArgs(key)...).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return record.Record{Key: key}, nil
		}
		return record.Record{}, unavailable(err)
	}
	return record.Record{Key: key, Mask: permission.Mask(uint64(raw))}, nil
}

func (s *Store) GetMany(ctx context.Context, keys []record.Key) ([]record.Record, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	types := make([]string, len(keys))
	instances := make([]string, len(keys))
	kinds := make([]int16, len(keys))
	subjects := make([]string, len(keys))
	for i, key := range keys {
		if err := key.Validate(); err != nil {
			return nil, err
		}
		types[i] = key.EntityType
		instances[i] = key.InstanceID
		kinds[i] = int16(key.Kind)
		subjects[i] = key.SubjectID
	}

	rows, err := s.db.Query(ctx, selectManySQL, types, instances, kinds, subjects)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	found := make(map[record.Key]permission.Mask, len(keys))
	for rows.Next() {
		var (
			k    record.Key
			kind int16
			raw  int64
		)
		if err := rows.Scan(&k.EntityType, &k.InstanceID, &kind, &k.SubjectID, &raw); err != nil {
			return nil, unavailable(err)
		}
		k.Kind = record.SubjectKind(kind)
		found[k] = permission.Mask(uint64(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}

	out := make([]record.Record, len(keys))
	for i, key := range keys {
		out[i] = record.Record{Key: key, Mask: found[key]}
	}
	return out, nil
}

func (s *Store) Or(ctx context.Context, key record.Key, bits permission.Mask) (record.Mutation, error) {
	if err := key.Validate(); err != nil {
		return record.Mutation{}, err
	}

	for attempt := 0; attempt < insertAttempts; attempt++ {
		m, ok, err := s.updateExisting(ctx, orExistingSQL, key, bits)
		if err != nil || ok {
			return m, err
		}

		var raw int64
		args := append(keyArgs(key), int64(uint64(bits)))
		err = s.db.QueryRow(ctx, insertSQL, args...).Scan(&raw)
		if err == nil {
			return record.Mutation{
				Record: record.Record{Key: key, Mask: permission.Mask(uint64(raw))},
			}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return record.Mutation{}, unavailable(err)
		}
		// Lost the insert race; the row exists now.
	}
	return record.Mutation{}, unavailable(fmt.Errorf("upsert of %s did not settle", key))
}

func (s *Store) AndNot(ctx context.Context, key record.Key, bits permission.Mask) (record.Mutation, error) {
	if err := key.Validate(); err != nil {
		return record.Mutation{}, err
	}

	m, ok, err := s.updateExisting(ctx, andNotExistingSQL, key, bits)
	if err != nil {
		return record.Mutation{}, err
	}
	if !ok {
		return record.Mutation{Record: record.Record{Key: key}}, nil
	}
	return m, nil
}

func (s *Store) updateExisting(ctx context.Context, sql string, key record.Key, bits permission.Mask) (record.Mutation, bool, error) {
	var prev, next int64
	args := append(keyArgs(key), int64(uint64(bits)))
	err := s.db.QueryRow(ctx, sql, args...).Scan(&prev, &next)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return record.Mutation{}, false, nil
		}
		return record.Mutation{}, false, unavailable(err)
	}
	return record.Mutation{
		Record:   record.Record{Key: key, Mask: permission.Mask(uint64(next))},
		Previous: permission.Mask(uint64(prev)),
		Existed:  true,
	}, true, nil
}

func (s *Store) DeleteIfZero(ctx context.Context, key record.Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx, deleteZeroSQL, keyArgs(key)...)
	if err != nil {
		return false, unavailable(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ListByInstance(ctx context.Context, entityType, instanceID string) ([]record.Record, error) {
	rows, err := s.db.Query(ctx, listSQL, entityType, instanceID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []record.Record
	for rows.Next() {
		var (
			kind      int16
			subjectID string
			raw       int64
		)
		if err := rows.Scan(&kind, &subjectID, &raw); err != nil {
			return nil, unavailable(err)
		}
		out = append(out, record.Record{
			Key: record.Key{
				Kind:       record.SubjectKind(kind),
				SubjectID:  subjectID,
				EntityType: entityType,
				InstanceID: instanceID,
			},
			Mask: permission.Mask(uint64(raw)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// Membership is a Postgres-backed [record.Membership].
type Membership struct {
	db DB
}

var _ record.Membership = (*Membership)(nil)

func NewMembership(db DB) *Membership {
	return &Membership{db: db}
}

func (m *Membership) AddMember(ctx context.Context, groupID, actorID string) error {
	if _, err := m.db.Exec(ctx, addMemberSQL, groupID, actorID); err != nil {
		return unavailable(err)
	}
	return nil
}

func (m *Membership) RemoveMember(ctx context.Context, groupID, actorID string) error {
	if _, err := m.db.Exec(ctx, removeMemberSQL, groupID, actorID); err != nil {
		return unavailable(err)
	}
	return nil
}

func (m *Membership) Groups(ctx context.Context, actorID string) ([]string, error) {
	return m.strings(ctx, groupsSQL, actorID)
}

// Members returns the actor IDs of groupID.
func (m *Membership) Members(ctx context.Context, groupID string) ([]string, error) {
	return m.strings(ctx, membersSQL, groupID)
}

func (m *Membership) strings(ctx context.Context, sql string, arg string) ([]string, error) {
	rows, err := m.db.Query(ctx, sql, arg)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, unavailable(err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}
