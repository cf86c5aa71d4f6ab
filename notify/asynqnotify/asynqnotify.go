package asynqnotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/objperm"
	"github.com/hibiken/asynq"
)

const (
	// TaskPermissionChanged is the task type of every published change.
	TaskPermissionChanged = "objperm:change"
	// QueueDefault is used when no queue is configured.
	QueueDefault = "default"
)

// ChangePayload is the JSON body of a TaskPermissionChanged task.
type ChangePayload struct {
	ID          string    `json:"id"`
	Op          string    `json:"op"`
	SubjectKind string    `json:"subject_kind"`
	SubjectID   string    `json:"subject_id"`
	EntityType  string    `json:"entity_type"`
	InstanceID  string    `json:"instance_id"`
	Requested   uint64    `json:"requested"`
	Previous    uint64    `json:"previous"`
	Mask        uint64    `json:"mask"`
	At          time.Time `json:"at"`
	Initiator   string    `json:"initiator,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
}

// Enqueuer is the part of *asynq.Client the listener needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewChangeTask builds the task for change. The change ID doubles as the
// task ID so a change is enqueued at most once.
func NewChangeTask(change objperm.Change) (*asynq.Task, error) {
	payload := ChangePayload{
		ID:          change.ID.String(),
		Op:          string(change.Op),
		SubjectKind: change.Record.Key.Kind.String(),
		SubjectID:   change.Record.Key.SubjectID,
		EntityType:  change.Record.Key.EntityType,
		InstanceID:  change.Record.Key.InstanceID,
		Requested:   change.Requested.Raw(),
		Previous:    change.Previous.Raw(),
		Mask:        change.Record.Mask.Raw(),
		At:          change.At,
		Initiator:   change.Initiator,
		RequestID:   change.RequestID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionChanged, body, asynq.TaskID(payload.ID)), nil
}

// Listener returns an objperm listener that enqueues every change on queue
// (QueueDefault when empty). Enqueue errors are returned to the notifier.
func Listener(enq Enqueuer, queue string, opts ...asynq.Option) objperm.Listener {
	if queue == "" {
		queue = QueueDefault
	}
	opts = append([]asynq.Option{asynq.Queue(queue)}, opts...)

	return func(ctx context.Context, change objperm.Change) error {
		task, err := NewChangeTask(change)
		if err != nil {
			return fmt.Errorf("build change task: %w", err)
		}
		if _, err := enq.EnqueueContext(ctx, task, opts...); err != nil {
			if errors.Is(err, asynq.ErrTaskIDConflict) {
				return nil
			}
			return fmt.Errorf("enqueue change %s: %w", change.ID, err)
		}
		return nil
	}
}

// HandlerFunc processes one decoded change on the worker side.
type HandlerFunc func(ctx context.Context, change ChangePayload) error

// Handle decodes t and calls h. Undecodable payloads are not retried.
func (h HandlerFunc) Handle(ctx context.Context, t *asynq.Task) error {
	if t.Type() != TaskPermissionChanged {
		return fmt.Errorf("unexpected task type %q: %w", t.Type(), asynq.SkipRetry)
	}
	var payload ChangePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode change payload: %w", asynq.SkipRetry)
	}
	return h(ctx, payload)
}

// Register mounts h on mux under TaskPermissionChanged.
func Register(mux *asynq.ServeMux, h HandlerFunc) {
	mux.HandleFunc(TaskPermissionChanged, h.Handle)
}
