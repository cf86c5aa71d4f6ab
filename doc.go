// Package objperm grants, revokes and checks permissions on individual
// object instances for actors and groups.
//
// Each entity type is registered with an ordered list of permission names
// (its vocabulary); name i is bit 1<<i of a uint64 mask. A record holds the
// mask one subject (actor or group) has on one instance. An actor's
// effective permission on an instance is its own mask OR the masks of every
// group it belongs to.
//
//	engine, _ := objperm.New().
//		WithRedis(rdb).
//		WithTypes("flatpage", "view", "edit", "delete").
//		Build()
//	page := objperm.Ref{Type: "flatpage", ID: "42"}
//	_, _ = engine.Grant(ctx, objperm.Group("editors"), page, "view", "edit")
//	ok, _ := engine.Has(ctx, objperm.Actor("alice"), page, "edit")
//
// Every grant and every revoke of an existing record publishes a [Change]
// to the listeners registered on the engine's [Notifier], synchronously and
// in registration order.
//
// # Architecture boundaries
//
// objperm is the public surface: [Engine], [Builder], [Config], [Binding]
// and the notification types. Vocabularies live in package permission,
// records and store contracts in package record, concrete stores in
// record/redisstore and record/pgstore.
//
// # What this package must NOT do
//
//   - Cache masks. Every check reads the store.
//   - Hold locks across store calls or listener callbacks.
//   - Interpret entity objects beyond the [Instance] interface.
package objperm
