// Package middleware adapts objperm to net/http.
//
// [Authenticate] turns a bearer token verified by package jwt into the
// request subject. [RequirePermission] and [RequireAnyPermission] then
// check that subject against one object instance named by the request and
// answer 401, 400, 403 or 503 before the wrapped handler runs.
//
// Group membership for checks comes from the engine's record.Membership. The
// token's grp claim is exposed by [GroupsFromContext] but never consulted
// when deciding access, so a forged or stale claim cannot widen rights.
//
// # What this package must NOT do
//
//   - Decide permissions itself; every decision is an Engine.Check.
//   - Talk to Redis or any other store directly.
//   - Treat token claims other than sub as authorization input.
package middleware
