package objperm

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/objperm/record"
	"github.com/MrEthical07/objperm/record/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var page1 = Ref{Type: "flatpage", ID: "1"}

func newTestEngine(t *testing.T, b *Builder) *Engine {
	t.Helper()
	if b == nil {
		b = New()
	}
	engine, err := b.WithTypes("flatpage", "Perm1", "Perm2", "Perm3", "Perm4").Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

type changeRecorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *changeRecorder) listen(_ context.Context, c Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return nil
}

func (r *changeRecorder) all() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

func mustEffective(t *testing.T, e *Engine, s Subject) Mask {
	t.Helper()
	m, err := e.EffectivePermission(context.Background(), s, page1)
	if err != nil {
		t.Fatalf("EffectivePermission failed: %v", err)
	}
	return m
}

func TestGrantThenCheck(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()
	u1 := Actor("u1")

	if _, err := engine.Grant(ctx, u1, page1, "Perm1"); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	cases := []struct {
		mode  CheckMode
		perms []string
		want  bool
	}{
		{CheckAll, []string{"Perm1"}, true},
		{CheckAll, []string{"Perm2"}, false},
		{CheckAny, []string{"Perm1", "Perm2"}, true},
		{CheckAll, []string{"Perm1", "Perm2"}, false},
		{CheckAny, []string{"Perm3", "Perm4"}, false},
	}
	for _, tc := range cases {
		got, err := engine.Check(ctx, u1, page1, tc.mode, tc.perms...)
		if err != nil {
			t.Fatalf("Check(%s, %v) failed: %v", tc.mode, tc.perms, err)
		}
		if got != tc.want {
			t.Fatalf("Check(%s, %v) = %v, want %v", tc.mode, tc.perms, got, tc.want)
		}
	}

	if ok, _ := engine.HasAny(ctx, u1, page1, "Perm1", "Perm2"); !ok {
		t.Fatal("HasAny should be true")
	}
	if ok, _ := engine.HasAll(ctx, u1, page1, "Perm1", "Perm2"); ok {
		t.Fatal("HasAll should be false")
	}
}

func TestGrantAccumulatesMask(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()
	u1 := Actor("u1")

	if _, err := engine.Grant(ctx, u1, page1, "Perm1"); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	rec, err := engine.Grant(ctx, u1, page1, "Perm2", "Perm3")
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if rec.Mask != 7 {
		t.Fatalf("expected mask 7, got %d", rec.Mask)
	}
	if got, _ := engine.SubjectPermission(ctx, u1, page1); got != 7 {
		t.Fatalf("expected stored mask 7, got %d", got)
	}
}

func TestRevokeNeverGrantedIsSilentNoOp(t *testing.T) {
	rec := &changeRecorder{}
	store := record.NewMemoryStore()
	engine := newTestEngine(t, New().WithStore(store).WithListener(rec.listen))
	ctx := context.Background()

	got, err := engine.Revoke(ctx, Actor("u1"), page1, "Perm1")
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if got.Mask != 0 {
		t.Fatalf("expected mask 0, got %d", got.Mask)
	}
	if len(rec.all()) != 0 {
		t.Fatalf("revoke on missing record must not notify, got %d changes", len(rec.all()))
	}
	if store.Len() != 0 {
		t.Fatalf("revoke on missing record must not create one, have %d", store.Len())
	}

	// Revoking a bit the existing record does not hold leaves it unchanged.
	if _, err := engine.Grant(ctx, Actor("u1"), page1, "Perm2"); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	got, err = engine.Revoke(ctx, Actor("u1"), page1, "Perm1")
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if got.Mask != 2 {
		t.Fatalf("expected mask 2, got %d", got.Mask)
	}
}

func TestEffectivePermissionScenario(t *testing.T) {
	mem := record.NewMemoryMembership()
	engine := newTestEngine(t, New().WithMembership(mem))
	ctx := context.Background()
	actor, group := Actor("u1"), Group("g1")

	if err := mem.AddMember(ctx, "g1", "u1"); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	steps := []struct {
		name string
		do   func() error
		want Mask
	}{
		{"initial", func() error { return nil }, 0},
		{"actor grants Perm1+Perm4", func() error {
			_, err := engine.Grant(ctx, actor, page1, "Perm1", "Perm4")
			return err
		}, 9},
		{"group grants Perm1+Perm3", func() error {
			_, err := engine.Grant(ctx, group, page1, "Perm1", "Perm3")
			return err
		}, 13},
		{"actor revokes Perm1", func() error {
			_, err := engine.Revoke(ctx, actor, page1, "Perm1")
			return err
		}, 13},
		{"group revokes Perm1", func() error {
			_, err := engine.Revoke(ctx, group, page1, "Perm1")
			return err
		}, 12},
	}

	for _, step := range steps {
		if err := step.do(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if got := mustEffective(t, engine, actor); got != step.want {
			t.Fatalf("%s: effective = %d, want %d", step.name, got, step.want)
		}
	}

	if got := mustEffective(t, engine, group); got != 4 {
		t.Fatalf("group effective must be its own mask 4, got %d", got)
	}
	if got, _ := engine.SubjectPermission(ctx, actor, page1); got != 8 {
		t.Fatalf("actor own mask must be 8, got %d", got)
	}
}

func TestEffectivePermissionFormats(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()
	u1 := Actor("u1")

	if _, err := engine.GrantMask(ctx, u1, page1, 13); err != nil {
		t.Fatalf("GrantMask failed: %v", err)
	}

	names, err := engine.EffectivePermissionNames(ctx, u1, page1)
	if err != nil {
		t.Fatalf("EffectivePermissionNames failed: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"Perm1", "Perm3", "Perm4"}) {
		t.Fatalf("unexpected names %v", names)
	}

	bits, _ := engine.EffectivePermissionBits(ctx, u1, page1)
	if !reflect.DeepEqual(bits, []Mask{1, 4, 8}) {
		t.Fatalf("unexpected bits %v", bits)
	}

	choices, _ := engine.EffectivePermissionChoices(ctx, u1, page1)
	want := []Choice{{Bit: 1, Name: "Perm1"}, {Bit: 4, Name: "Perm3"}, {Bit: 8, Name: "Perm4"}}
	if !reflect.DeepEqual(choices, want) {
		t.Fatalf("unexpected choices %v", choices)
	}
}

func TestEveryMutationNotifiesOnceWithKindAndInstance(t *testing.T) {
	rec := &changeRecorder{}
	engine := newTestEngine(t, New().WithListener(rec.listen))
	ctx := context.Background()
	page2 := Ref{Type: "flatpage", ID: "2"}

	_, _ = engine.Grant(ctx, Actor("u1"), page1, "Perm1")
	_, _ = engine.Grant(ctx, Group("g1"), page2, "Perm2", "Perm3")
	_, _ = engine.Grant(ctx, Actor("u1"), page1, "Perm1")
	_, _ = engine.Revoke(ctx, Group("g1"), page2, "Perm2")
	_, _ = engine.RevokeAll(ctx, Actor("u1"), page1)

	changes := rec.all()
	if len(changes) != 5 {
		t.Fatalf("expected 5 changes, got %d", len(changes))
	}

	type summary struct {
		op       ChangeOp
		kind     SubjectKind
		instance Instance
		prev     Mask
		mask     Mask
	}
	var got []summary
	for _, c := range changes {
		got = append(got, summary{c.Op, c.Record.Key.Kind, c.Instance, c.Previous, c.Record.Mask})
	}
	want := []summary{
		{OpGrant, KindActor, page1, 0, 1},
		{OpGrant, KindGroup, page2, 0, 6},
		{OpGrant, KindActor, page1, 1, 1},
		{OpRevoke, KindGroup, page2, 6, 4},
		{OpRevokeAll, KindActor, page1, 1, 0},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("changes = %+v\nwant %+v", got, want)
	}

	if changes[2].Changed() {
		t.Fatal("idempotent grant must report Changed() == false")
	}
	if changes[3].Removed() != 2 || changes[1].Added() != 6 {
		t.Fatalf("unexpected Added/Removed: %d/%d", changes[1].Added(), changes[3].Removed())
	}
	if changes[0].Subject() != Actor("u1") {
		t.Fatalf("unexpected subject %v", changes[0].Subject())
	}
	if changes[0].ID == changes[1].ID {
		t.Fatal("change IDs must be unique")
	}
}

func TestChangeCarriesContextMetadata(t *testing.T) {
	rec := &changeRecorder{}
	engine := newTestEngine(t, New().WithListener(rec.listen))

	ctx := WithRequestID(WithInitiator(context.Background(), "admin"), "req-1")
	if _, err := engine.Grant(ctx, Actor("u1"), page1, "Perm1"); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	c := rec.all()[0]
	if c.Initiator != "admin" || c.RequestID != "req-1" {
		t.Fatalf("unexpected metadata %q/%q", c.Initiator, c.RequestID)
	}
	if c.At.IsZero() || time.Since(c.At) > time.Minute {
		t.Fatalf("unexpected timestamp %v", c.At)
	}
}

func TestUnknownPermissionDoesNotPartiallyApply(t *testing.T) {
	rec := &changeRecorder{}
	engine := newTestEngine(t, New().WithListener(rec.listen))
	ctx := context.Background()

	_, err := engine.Grant(ctx, Actor("u1"), page1, "Perm1", "Perm5")
	if !errors.Is(err, ErrUnknownPermission) {
		t.Fatalf("expected ErrUnknownPermission, got %v", err)
	}
	if !strings.Contains(err.Error(), `"Perm5"`) {
		t.Fatalf("error should name the offending permission: %v", err)
	}
	if got := mustEffective(t, engine, Actor("u1")); got != 0 {
		t.Fatalf("expected mask 0, got %d", got)
	}
	if len(rec.all()) != 0 {
		t.Fatal("failed grant must not notify")
	}

	if _, err := engine.Has(ctx, Actor("u1"), page1, "nope"); !errors.Is(err, ErrUnknownPermission) {
		t.Fatalf("expected ErrUnknownPermission from Has, got %v", err)
	}
}

func TestGrantMaskRejectsUndefinedBits(t *testing.T) {
	engine := newTestEngine(t, nil)

	_, err := engine.GrantMask(context.Background(), Actor("u1"), page1, 1<<4)
	if !errors.Is(err, ErrUndefinedBits) {
		t.Fatalf("expected ErrUndefinedBits, got %v", err)
	}
}

func TestEmptyPermissionSet(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := engine.Grant(ctx, Actor("u1"), page1); !errors.Is(err, ErrEmptyPermissionSet) {
		t.Fatalf("Grant: expected ErrEmptyPermissionSet, got %v", err)
	}
	if _, err := engine.Revoke(ctx, Actor("u1"), page1); !errors.Is(err, ErrEmptyPermissionSet) {
		t.Fatalf("Revoke: expected ErrEmptyPermissionSet, got %v", err)
	}
	if _, err := engine.HasAll(ctx, Actor("u1"), page1); !errors.Is(err, ErrEmptyPermissionSet) {
		t.Fatalf("HasAll: expected ErrEmptyPermissionSet, got %v", err)
	}
	if _, err := engine.GrantMask(ctx, Actor("u1"), page1, 0); !errors.Is(err, ErrEmptyPermissionSet) {
		t.Fatalf("GrantMask: expected ErrEmptyPermissionSet, got %v", err)
	}
}

func TestInvalidSubjectAndInstance(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := engine.Grant(ctx, Actor(""), page1, "Perm1"); !errors.Is(err, ErrInvalidSubject) {
		t.Fatalf("expected ErrInvalidSubject, got %v", err)
	}
	if _, err := engine.Grant(ctx, Subject{ID: "x"}, page1, "Perm1"); !errors.Is(err, ErrInvalidSubject) {
		t.Fatalf("expected ErrInvalidSubject for zero kind, got %v", err)
	}
	if _, err := engine.Grant(ctx, Actor("u1"), nil, "Perm1"); !errors.Is(err, ErrInvalidInstance) {
		t.Fatalf("expected ErrInvalidInstance for nil, got %v", err)
	}
	if _, err := engine.Grant(ctx, Actor("u1"), Ref{Type: "flatpage"}, "Perm1"); !errors.Is(err, ErrInvalidInstance) {
		t.Fatalf("expected ErrInvalidInstance for empty id, got %v", err)
	}
}

func TestRegistryLifecycle(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := engine.Register("flatpage", "Other"); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	voc, err := engine.Register("document", "read", "write")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if bit, _ := voc.Bit("write"); bit != 2 {
		t.Fatalf("expected write=2, got %d", bit)
	}
	if !reflect.DeepEqual(engine.Types(), []string{"document", "flatpage"}) {
		t.Fatalf("unexpected types %v", engine.Types())
	}

	doc := Ref{Type: "document", ID: "d1"}
	if _, err := engine.Grant(ctx, Actor("u1"), doc, "read"); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	if err := engine.Unregister("document"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if _, err := engine.Has(ctx, Actor("u1"), doc, "read"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if _, err := engine.Vocabulary("document"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered from Vocabulary, got %v", err)
	}
	if err := engine.Unregister("document"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered on second Unregister, got %v", err)
	}
}

func TestFreezeAfterBuild(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Permission.FreezeAfterBuild = true
	engine := newTestEngine(t, New().WithConfig(cfg))

	if _, err := engine.Register("document", "read"); !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("expected ErrRegistryFrozen, got %v", err)
	}
	if err := engine.Unregister("flatpage"); !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("expected ErrRegistryFrozen, got %v", err)
	}
}

func TestRevokeAllAndPrune(t *testing.T) {
	store := record.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.Store.PruneZeroRecords = true
	engine := newTestEngine(t, New().WithConfig(cfg).WithStore(store))
	ctx := context.Background()

	if _, err := engine.Grant(ctx, Actor("u1"), page1, "Perm1", "Perm2"); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	rec, err := engine.RevokeAll(ctx, Actor("u1"), page1)
	if err != nil {
		t.Fatalf("RevokeAll failed: %v", err)
	}
	if rec.Mask != 0 {
		t.Fatalf("expected mask 0, got %d", rec.Mask)
	}
	if store.Len() != 0 {
		t.Fatalf("zero record should be pruned, have %d", store.Len())
	}
}

// interleavingStore runs after once, right after the first AndNot, to model
// a writer that lands between a revoke and its prune.
type interleavingStore struct {
	*record.MemoryStore
	once  sync.Once
	after func()
}

func (s *interleavingStore) AndNot(ctx context.Context, key record.Key, bits Mask) (record.Mutation, error) {
	mut, err := s.MemoryStore.AndNot(ctx, key, bits)
	if err == nil && s.after != nil {
		s.once.Do(s.after)
	}
	return mut, err
}

func TestPruneKeepsGrantLandingAfterRevoke(t *testing.T) {
	store := &interleavingStore{MemoryStore: record.NewMemoryStore()}
	cfg := DefaultConfig()
	cfg.Store.PruneZeroRecords = true
	engine := newTestEngine(t, New().WithConfig(cfg).WithStore(store))
	ctx := context.Background()

	if _, err := engine.Grant(ctx, Actor("u1"), page1, "Perm1"); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	key := record.Key{Kind: record.KindActor, SubjectID: "u1", EntityType: "flatpage", InstanceID: "1"}
	store.after = func() {
		if _, err := store.MemoryStore.Or(ctx, key, 2); err != nil {
			t.Errorf("concurrent Or failed: %v", err)
		}
	}

	rec, err := engine.Revoke(ctx, Actor("u1"), page1, "Perm1")
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if rec.Mask != 0 {
		t.Fatalf("revoke should report mask 0, got %d", rec.Mask)
	}
	if got := mustEffective(t, engine, Actor("u1")); got != 2 {
		t.Fatalf("concurrent Perm2 grant lost to prune: effective %d, want 2", got)
	}
}

func TestPruneOnRedisStore(t *testing.T) {
	_, rdb := newTestRedis(t)
	cfg := DefaultConfig()
	cfg.Store.PruneZeroRecords = true
	engine := newTestEngine(t, New().WithConfig(cfg).WithRedis(rdb))
	ctx := context.Background()

	_, _ = engine.Grant(ctx, Actor("u1"), page1, "Perm1", "Perm3")
	_, _ = engine.Grant(ctx, Actor("u2"), page1, "Perm2")
	if _, err := engine.RevokeAll(ctx, Actor("u1"), page1); err != nil {
		t.Fatalf("RevokeAll failed: %v", err)
	}

	holders, err := engine.Holders(ctx, page1)
	if err != nil {
		t.Fatalf("Holders failed: %v", err)
	}
	if len(holders) != 1 || holders[0].Key.SubjectID != "u2" {
		t.Fatalf("expected only u2 to remain, got %+v", holders)
	}
}

func TestHolders(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()

	_, _ = engine.Grant(ctx, Group("editors"), page1, "Perm2")
	_, _ = engine.Grant(ctx, Actor("u2"), page1, "Perm1")
	_, _ = engine.Grant(ctx, Actor("u1"), page1, "Perm3")
	_, _ = engine.Grant(ctx, Actor("u3"), page1, "Perm4")
	_, _ = engine.RevokeAll(ctx, Actor("u3"), page1)
	_, _ = engine.Grant(ctx, Actor("u9"), Ref{Type: "flatpage", ID: "2"}, "Perm1")

	holders, err := engine.Holders(ctx, page1)
	if err != nil {
		t.Fatalf("Holders failed: %v", err)
	}
	var got []string
	for _, h := range holders {
		got = append(got, h.Key.Kind.String()+":"+h.Key.SubjectID)
	}
	want := []string{"actor:u1", "actor:u2", "group:editors"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Holders = %v, want %v", got, want)
	}

	if _, err := engine.Holders(ctx, Ref{Type: "nope", ID: "1"}); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestListenerFailureIsolatedByDefault(t *testing.T) {
	rec := &changeRecorder{}
	engine := newTestEngine(t, New().
		WithListener(func(context.Context, Change) error { return errors.New("boom") }).
		WithListener(func(context.Context, Change) error { panic("kaboom") }).
		WithListener(rec.listen))

	got, err := engine.Grant(context.Background(), Actor("u1"), page1, "Perm1")
	if err != nil {
		t.Fatalf("listener failures must not reach the caller by default: %v", err)
	}
	if got.Mask != 1 {
		t.Fatalf("expected mask 1, got %d", got.Mask)
	}
	if len(rec.all()) != 1 {
		t.Fatal("later listeners must still run")
	}
	if n := engine.MetricsSnapshot().Counters[MetricListenerFailure]; n != 2 {
		t.Fatalf("expected 2 listener failures, got %d", n)
	}
}

func TestListenerFailurePropagatedWhenConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Notify.PropagateListenerErrors = true
	boom := errors.New("boom")
	engine := newTestEngine(t, New().
		WithConfig(cfg).
		WithListener(func(context.Context, Change) error { return boom }))
	ctx := context.Background()

	rec, err := engine.Grant(ctx, Actor("u1"), page1, "Perm1")
	if !errors.Is(err, ErrListenerFailed) || !errors.Is(err, boom) {
		t.Fatalf("expected ErrListenerFailed wrapping boom, got %v", err)
	}
	if rec.Mask != 1 {
		t.Fatalf("record must be returned with the error, got %d", rec.Mask)
	}
	if ok, _ := engine.Has(ctx, Actor("u1"), page1, "Perm1"); !ok {
		t.Fatal("grant must be persisted despite listener failure")
	}
}

func TestBinding(t *testing.T) {
	mem := record.NewMemoryMembership()
	engine := newTestEngine(t, New().WithMembership(mem))
	ctx := context.Background()
	_ = mem.AddMember(ctx, "g1", "u1")

	actor, err := engine.Bind(Actor("u1"), "flatpage")
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	group, err := engine.Bind(Group("g1"), "flatpage")
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	if _, err := actor.Grant(ctx, "1", "Perm1"); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if _, err := group.Grant(ctx, "1", "Perm3"); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	if ok, _ := actor.Has(ctx, "1", "Perm3"); !ok {
		t.Fatal("actor should inherit Perm3 from group")
	}
	if ok, _ := actor.HasAll(ctx, "1", "Perm1", "Perm3"); !ok {
		t.Fatal("actor should hold Perm1 and Perm3")
	}
	if ok, _ := actor.HasAny(ctx, "2", "Perm1", "Perm3"); ok {
		t.Fatal("permissions must not leak to another instance")
	}
	names, _ := actor.PermissionNames(ctx, "1")
	if !reflect.DeepEqual(names, []string{"Perm1", "Perm3"}) {
		t.Fatalf("unexpected names %v", names)
	}
	if m, _ := actor.Permission(ctx, "1"); m != 5 {
		t.Fatalf("expected 5, got %d", m)
	}
	if actor.Subject() != Actor("u1") || group.EntityType() != "flatpage" {
		t.Fatalf("unexpected binding %v on %q", actor.Subject(), group.EntityType())
	}
	if bits, _ := actor.PermissionBits(ctx, "1"); !reflect.DeepEqual(bits, []Mask{1, 4}) {
		t.Fatalf("unexpected bits %v", bits)
	}
	choices, _ := actor.PermissionChoices(ctx, "1")
	if !reflect.DeepEqual(choices, []Choice{{Bit: 1, Name: "Perm1"}, {Bit: 4, Name: "Perm3"}}) {
		t.Fatalf("unexpected choices %v", choices)
	}

	if _, err := actor.Revoke(ctx, "1", "Perm1"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := group.RevokeAll(ctx, "1"); err != nil {
		t.Fatalf("RevokeAll failed: %v", err)
	}
	if m, _ := actor.Permission(ctx, "1"); m != 0 {
		t.Fatalf("expected 0, got %d", m)
	}

	if _, err := engine.Bind(Actor("u1"), "nope"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestClosedEngineRejectsCalls(t *testing.T) {
	engine := newTestEngine(t, nil)
	engine.Close()
	engine.Close()

	if _, err := engine.Grant(context.Background(), Actor("u1"), page1, "Perm1"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}

	var nilEngine *Engine
	if _, err := nilEngine.Has(context.Background(), Actor("u1"), page1, "Perm1"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady on nil engine, got %v", err)
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New()
	if _, err := b.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := b.Build(); !errors.Is(err, ErrBuilderUsed) {
		t.Fatalf("expected ErrBuilderUsed, got %v", err)
	}
}

func TestConcurrentGrantsNoLostUpdates(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()
	perms := []string{"Perm1", "Perm2", "Perm3", "Perm4"}

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			if _, err := engine.Grant(ctx, Actor("u1"), page1, p); err != nil {
				t.Errorf("Grant failed: %v", err)
			}
		}(perms[i%len(perms)])
	}
	wg.Wait()

	if got := mustEffective(t, engine, Actor("u1")); got != 15 {
		t.Fatalf("expected 15, got %d", got)
	}
}

type failingStore struct {
	record.Store
}

func (failingStore) Or(context.Context, record.Key, Mask) (record.Mutation, error) {
	return record.Mutation{}, errors.Join(record.ErrUnavailable, errors.New("connection refused"))
}

func (failingStore) Get(context.Context, record.Key) (record.Record, error) {
	return record.Record{}, errors.Join(record.ErrUnavailable, errors.New("connection refused"))
}

func TestStoreFailureSurfacesAsUnavailable(t *testing.T) {
	rec := &changeRecorder{}
	engine := newTestEngine(t, New().WithStore(failingStore{}).WithListener(rec.listen))
	ctx := context.Background()

	if _, err := engine.Grant(ctx, Actor("u1"), page1, "Perm1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := engine.Has(ctx, Group("g1"), page1, "Perm1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from check, got %v", err)
	}
	if len(rec.all()) != 0 {
		t.Fatal("failed mutation must not notify")
	}
	if n := engine.MetricsSnapshot().Counters[MetricStoreFailure]; n != 2 {
		t.Fatalf("expected 2 store failures, got %d", n)
	}
}

func TestAuditTrail(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	cfg.Audit.RecordDenials = true
	sink := NewChannelSink(16)
	engine := newTestEngine(t, New().WithConfig(cfg).WithAuditSink(sink))
	ctx := WithInitiator(context.Background(), "admin")

	_, _ = engine.Grant(ctx, Actor("u1"), page1, "Perm1", "Perm2")
	_, _ = engine.Revoke(ctx, Actor("u1"), page1, "Perm2")
	_, _ = engine.Has(ctx, Actor("u1"), page1, "Perm4")
	_, _ = engine.Grant(ctx, Actor("u1"), page1, "Perm9")
	engine.Close()

	var events []AuditEvent
	for len(sink.Events()) > 0 {
		events = append(events, <-sink.Events())
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 audit events, got %d", len(events))
	}

	grant := events[0]
	if grant.EventType != auditEventGrant || !grant.Success || grant.Mask != 3 || grant.Initiator != "admin" {
		t.Fatalf("unexpected grant event %+v", grant)
	}
	revoke := events[1]
	if revoke.EventType != auditEventRevoke || revoke.Previous != 3 || revoke.Mask != 1 {
		t.Fatalf("unexpected revoke event %+v", revoke)
	}
	denied := events[2]
	if denied.EventType != auditEventCheckDenied || denied.Error != string(auditErrDenied) {
		t.Fatalf("unexpected denial event %+v", denied)
	}
	failed := events[3]
	if failed.Success || failed.Error != string(auditErrUnknownPermission) {
		t.Fatalf("unexpected failure event %+v", failed)
	}
}

func TestRedisBackedEngine(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine := newTestEngine(t, New().WithRedis(rdb))
	ctx := context.Background()

	members := redisstore.NewMembership(rdb, DefaultConfig().Store.RedisPrefix)
	if err := members.AddMember(ctx, "editors", "alice"); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	if _, err := engine.Grant(ctx, Group("editors"), page1, "Perm2", "Perm3"); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if _, err := engine.Grant(ctx, Actor("alice"), page1, "Perm1"); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	if got := mustEffective(t, engine, Actor("alice")); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
	if ok, _ := engine.Has(ctx, Actor("bob"), page1, "Perm2"); ok {
		t.Fatal("non-member must not inherit group permissions")
	}

	holders, err := engine.Holders(ctx, page1)
	if err != nil {
		t.Fatalf("Holders failed: %v", err)
	}
	if len(holders) != 2 {
		t.Fatalf("expected 2 holders, got %d", len(holders))
	}
}
