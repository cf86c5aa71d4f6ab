package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/MrEthical07/objperm/permission"
	"github.com/MrEthical07/objperm/record"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "op"

	actorFieldPrefix = "a:"
	groupFieldPrefix = "g:"
)

// updateMaskScript applies OR or AND-NOT to one 8-byte big-endian field.
// Lua in Redis has no 64-bit integers, so the mask is combined byte by byte.
// Reply: {0} when AND-NOT finds no field, {-1} for a corrupt value,
// otherwise {1, existed, previous, next}.
const updateMaskScript = `
local function mix(a, b, clear)
  local out, p = 0, 1
  for _ = 1, 8 do
    local x, y = a % 2, b % 2
    if (clear and x == 1 and y == 0) or ((not clear) and (x == 1 or y == 1)) then
      out = out + p
    end
    a = (a - x) / 2
    b = (b - y) / 2
    p = p * 2
  end
  return out
end

local clear = ARGV[3] == "andnot"
local cur = redis.call("HGET", KEYS[1], ARGV[1])
local existed = 1
if not cur then
  if clear then
    return {0}
  end
  existed = 0
  cur = string.rep(string.char(0), 8)
end
if #cur ~= 8 or #ARGV[2] ~= 8 then
  return {-1}
end

local out = ""
for i = 1, 8 do
  out = out .. string.char(mix(string.byte(cur, i), string.byte(ARGV[2], i), clear))
end
redis.call("HSET", KEYS[1], ARGV[1], out)
return {1, existed, cur, out}
`

var updateMaskLua = redis.NewScript(updateMaskScript)

// deleteZeroScript drops a field only while it holds an all-zero mask.
const deleteZeroScript = `
local cur = redis.call("HGET", KEYS[1], ARGV[1])
if (not cur) or cur ~= string.rep(string.char(0), 8) then
  return 0
end
redis.call("HDEL", KEYS[1], ARGV[1])
return 1
`

var deleteZeroLua = redis.NewScript(deleteZeroScript)

// Store is a Redis-backed [record.Store]. All records of one instance live in
// a single hash keyed by subject, so listing holders is one HGETALL.
// Mutations run as Lua scripts touching a single field, so writes to
// different subjects of one instance never conflict.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

var _ record.Store = (*Store)(nil)

// New creates a [Store]. An empty prefix defaults to "op".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{
		redis:  client,
		prefix: prefix,
	}
}

// The entity type is length-prefixed so types and instance IDs containing
// ':' cannot collide.
func (s *Store) instanceKey(entityType, instanceID string) string {
	return s.prefix + ":rec:" + strconv.Itoa(len(entityType)) + ":" + entityType + ":" + instanceID
}

func subjectField(kind record.SubjectKind, subjectID string) string {
	if kind == record.KindGroup {
		return groupFieldPrefix + subjectID
	}
	return actorFieldPrefix + subjectID
}

func parseSubjectField(field string) (record.SubjectKind, string, bool) {
	switch {
	case strings.HasPrefix(field, actorFieldPrefix):
		return record.KindActor, field[len(actorFieldPrefix):], true
	case strings.HasPrefix(field, groupFieldPrefix):
		return record.KindGroup, field[len(groupFieldPrefix):], true
	default:
		return 0, "", false
	}
}

func (s *Store) locate(key record.Key) (string, string) {
	return s.instanceKey(key.EntityType, key.InstanceID), subjectField(key.Kind, key.SubjectID)
}

func decodeValue(data []byte) (permission.Mask, error) {
	mask, err := permission.DecodeMask(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", record.ErrCorrupt, err)
	}
	return mask, nil
}

func (s *Store) Get(ctx context.Context, key record.Key) (record.Record, error) {
	if err := key.Validate(); err != nil {
		return record.Record{}, err
	}

	hkey, field := s.locate(key)
	data, err := s.redis.HGet(ctx, hkey, field).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return record.Record{Key: key}, nil
		}
		return record.Record{}, fmt.Errorf("%w: %v", record.ErrUnavailable, err)
	}

	mask, err := decodeValue(data)
	if err != nil {
		return record.Record{}, err
	}
	return record.Record{Key: key, Mask: mask}, nil
}

func (s *Store) GetMany(ctx context.Context, keys []record.Key) ([]record.Record, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	for _, key := range keys {
		if err := key.Validate(); err != nil {
			return nil, err
		}
	}

	cmds := make([]*redis.StringCmd, len(keys))
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			hkey, field := s.locate(key)
			cmds[i] = pipe.HGet(ctx, hkey, field)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", record.ErrUnavailable, err)
	}

	out := make([]record.Record, len(keys))
	for i, cmd := range cmds {
		out[i] = record.Record{Key: keys[i]}
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", record.ErrUnavailable, err)
		}
		mask, err := decodeValue(data)
		if err != nil {
			return nil, err
		}
		out[i].Mask = mask
	}
	return out, nil
}

func (s *Store) Or(ctx context.Context, key record.Key, bits permission.Mask) (record.Mutation, error) {
	return s.update(ctx, key, bits, "or")
}

func (s *Store) AndNot(ctx context.Context, key record.Key, bits permission.Mask) (record.Mutation, error) {
	return s.update(ctx, key, bits, "andnot")
}

func (s *Store) update(ctx context.Context, key record.Key, bits permission.Mask, op string) (record.Mutation, error) {
	if err := key.Validate(); err != nil {
		return record.Mutation{}, err
	}
	hkey, field := s.locate(key)

	reply, err := updateMaskLua.Run(ctx, s.redis, []string{hkey}, field, permission.EncodeMask(bits), op).Slice()
	if err != nil {
		return record.Mutation{}, fmt.Errorf("%w: %v", record.ErrUnavailable, err)
	}
	if len(reply) == 0 {
		return record.Mutation{}, fmt.Errorf("%w: empty script reply", record.ErrUnavailable)
	}

	status, _ := reply[0].(int64)
	switch status {
	case 0:
		return record.Mutation{Record: record.Record{Key: key}}, nil
	case -1:
		return record.Mutation{}, fmt.Errorf("%w: %s", record.ErrCorrupt, key)
	}
	if len(reply) != 4 {
		return record.Mutation{}, fmt.Errorf("%w: unexpected script reply %v", record.ErrUnavailable, reply)
	}

	existed, _ := reply[1].(int64)
	prevRaw, _ := reply[2].(string)
	nextRaw, _ := reply[3].(string)
	prev, err := decodeValue([]byte(prevRaw))
	if err != nil {
		return record.Mutation{}, err
	}
	next, err := decodeValue([]byte(nextRaw))
	if err != nil {
		return record.Mutation{}, err
	}

	return record.Mutation{
		Record:   record.Record{Key: key, Mask: next},
		Previous: prev,
		Existed:  existed == 1,
	}, nil
}

func (s *Store) DeleteIfZero(ctx context.Context, key record.Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}

	hkey, field := s.locate(key)
	deleted, err := deleteZeroLua.Run(ctx, s.redis, []string{hkey}, field).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", record.ErrUnavailable, err)
	}
	return deleted == 1, nil
}

func (s *Store) ListByInstance(ctx context.Context, entityType, instanceID string) ([]record.Record, error) {
	values, err := s.redis.HGetAll(ctx, s.instanceKey(entityType, instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", record.ErrUnavailable, err)
	}

	out := make([]record.Record, 0, len(values))
	for field, raw := range values {
		kind, subjectID, ok := parseSubjectField(field)
		if !ok {
			continue
		}
		mask, err := decodeValue([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, record.Record{
			Key: record.Key{
				Kind:       kind,
				SubjectID:  subjectID,
				EntityType: entityType,
				InstanceID: instanceID,
			},
			Mask: mask,
		})
	}
	record.SortRecords(out)
	return out, nil
}

// Membership is a Redis-backed [record.Membership]. Each actor owns a set of
// group IDs; each group owns the reverse set of actor IDs.
type Membership struct {
	redis  redis.UniversalClient
	prefix string
}

var _ record.Membership = (*Membership)(nil)

// NewMembership creates a [Membership]. An empty prefix defaults to "op".
func NewMembership(client redis.UniversalClient, prefix string) *Membership {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Membership{
		redis:  client,
		prefix: prefix,
	}
}

func (m *Membership) actorKey(actorID string) string {
	return m.prefix + ":mem:" + actorID
}

func (m *Membership) groupKey(groupID string) string {
	return m.prefix + ":grp:" + groupID
}

// AddMember puts actorID into groupID.
func (m *Membership) AddMember(ctx context.Context, groupID, actorID string) error {
	_, err := m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, m.actorKey(actorID), groupID)
		pipe.SAdd(ctx, m.groupKey(groupID), actorID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", record.ErrUnavailable, err)
	}
	return nil
}

// RemoveMember takes actorID out of groupID.
func (m *Membership) RemoveMember(ctx context.Context, groupID, actorID string) error {
	_, err := m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, m.actorKey(actorID), groupID)
		pipe.SRem(ctx, m.groupKey(groupID), actorID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", record.ErrUnavailable, err)
	}
	return nil
}

func (m *Membership) Groups(ctx context.Context, actorID string) ([]string, error) {
	groups, err := m.redis.SMembers(ctx, m.actorKey(actorID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", record.ErrUnavailable, err)
	}
	sort.Strings(groups)
	return groups, nil
}

// Members returns the actor IDs of groupID.
func (m *Membership) Members(ctx context.Context, groupID string) ([]string, error) {
	actors, err := m.redis.SMembers(ctx, m.groupKey(groupID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", record.ErrUnavailable, err)
	}
	sort.Strings(actors)
	return actors, nil
}
