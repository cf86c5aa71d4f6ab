// Package asynqnotify forwards objperm permission changes to an asynq
// queue so other processes can react to them (cache invalidation, search
// reindexing, webhooks).
//
// [Listener] plugs into Builder.WithListener and enqueues one
// TaskPermissionChanged task per change. Workers mount a [HandlerFunc]
// with [Register].
//
// # What this package must NOT do
//
//   - Run an asynq server; the caller owns worker lifecycle.
//   - Retry enqueues itself; failures surface through the notifier.
package asynqnotify
