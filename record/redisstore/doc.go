// Package redisstore implements [record.Store] and [record.Membership] on
// Redis.
//
// # Key layout
//
//	<prefix>:rec:<len(type)>:<type>:<instance>   hash, field a:<actor> / g:<group>, value = 8-byte mask
//	<prefix>:mem:<actor>                         set of group IDs
//	<prefix>:grp:<group>                         set of actor IDs
//
// # Concurrency
//
// Or, AndNot and DeleteIfZero run as Lua scripts over a single hash field.
// Redis executes each script atomically, so concurrent grants to one record
// never lose bits, and writes to different subjects of the same instance
// never wait on each other. Reads are plain HGET/HGETALL calls.
//
// # What this package must NOT do
//
//   - Import objperm.
//   - Cache masks between calls.
package redisstore
