package gathering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/Vasu1712/gatherhub/internal/models"
	"github.com/Vasu1712/gatherhub/internal/notify"
	"github.com/Vasu1712/gatherhub/internal/policy"
	"github.com/Vasu1712/gatherhub/internal/storage"
)

// OptionalID distinguishes an absent JSON field from an explicit null.
type OptionalID struct {
	Set bool
	ID  *int64
}

func (o *OptionalID) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.ID = nil
		return nil
	}
	var id int64
	if err := json.Unmarshal(b, &id); err != nil {
		return fmt.Errorf("assigned_to_id: %w", err)
	}
	o.ID = &id
	return nil
}

// TaskUpdates is a partial task update. Nil fields are untouched; an
// explicit null assignee unassigns the task.
type TaskUpdates struct {
	Title      *string            `json:"title" validate:"omitempty,min=1,max=200"`
	Status     *models.TaskStatus `json:"status" validate:"omitempty,oneof=todo doing done"`
	AssignedTo OptionalID         `json:"assigned_to_id"`
}

func (u TaskUpdates) fields() policy.TaskUpdate {
	return policy.TaskUpdate{Title: u.Title != nil, Status: u.Status != nil, AssignedTo: u.AssignedTo.Set}
}

func (s *Service) taskView(ctx context.Context, task models.Task) TaskView {
	v := TaskView{Task: task}
	if task.AssignedTo != nil {
		ref := s.userRef(ctx, *task.AssignedTo)
		v.Assignee = &ref
	}
	return v
}

// TasksData lists the event's tasks, grouped by status.
func (s *Service) TasksData(ctx context.Context, principal models.User, slug string) (*TasksData, error) {
	event, err := s.store.GetEvent(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get event %q: %w", slug, err)
	}
	tasks, err := s.store.ListTasks(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return &TasksData{
		EventSlug:   event.Slug,
		EventStatus: event.Status,
		Tasks: lo.Map(tasks, func(t models.Task, _ int) TaskView {
			return s.taskView(ctx, t)
		}),
	}, nil
}

// CreateTask adds a todo task to the event.
func (s *Service) CreateTask(ctx context.Context, principal models.User, slug, title string) (*TaskView, error) {
	title, err := cleanTitle("title", title)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(slug)
	defer unlock()

	event, err := s.store.GetEvent(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get event %q: %w", slug, err)
	}
	if err := policy.CanCreateTask(principal, *event).Err(); err != nil {
		return nil, err
	}

	task, err := s.store.CreateTask(ctx, slug, title)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	view := s.taskView(ctx, *task)
	actor := principal.Ref()
	s.notifier.Notify(notify.KindTask, slug, notify.ActionCreated, notify.Payload{Task: taskRef(view), Actor: &actor}, nil)
	return &view, nil
}

func assigneeValue(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

// UpdateTask applies a partial update. Nothing is written or announced when
// the update leaves the task unchanged.
func (s *Service) UpdateTask(ctx context.Context, principal models.User, slug string, id int64, upd TaskUpdates) (*TaskView, error) {
	fields := upd.fields()
	if !fields.Title && !fields.Status && !fields.AssignedTo {
		return nil, invalid("", "No fields to update.")
	}
	if upd.Status != nil && !upd.Status.Valid() {
		return nil, invalid("status", fmt.Sprintf("%q is not a valid choice.", *upd.Status))
	}

	unlock := s.locks.lock(slug)
	defer unlock()

	event, err := s.store.GetEvent(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get event %q: %w", slug, err)
	}
	task, err := s.store.GetTask(ctx, slug, id)
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	if err := policy.CanUpdateTask(principal, *event, *task, fields).Err(); err != nil {
		return nil, err
	}

	next := *task
	changes := notify.Changes{}
	if upd.Title != nil {
		title, err := cleanTitle("title", *upd.Title)
		if err != nil {
			return nil, err
		}
		if title != task.Title {
			changes["title"] = notify.FieldChange{From: task.Title, To: title}
			next.Title = title
		}
	}
	if upd.Status != nil && *upd.Status != task.Status {
		changes["status"] = notify.FieldChange{From: task.Status, To: *upd.Status}
		next.Status = *upd.Status
	}
	if upd.AssignedTo.Set && assigneeValue(upd.AssignedTo.ID) != assigneeValue(task.AssignedTo) {
		if upd.AssignedTo.ID != nil {
			if _, err := s.store.GetUser(ctx, *upd.AssignedTo.ID); errors.Is(err, storage.ErrNotFound) {
				return nil, invalid("assigned_to_id", "User does not exist.")
			} else if err != nil {
				return nil, fmt.Errorf("get assignee: %w", err)
			}
		}
		changes["assigned_to_id"] = notify.FieldChange{From: assigneeValue(task.AssignedTo), To: assigneeValue(upd.AssignedTo.ID)}
		next.AssignedTo = upd.AssignedTo.ID
	}
	if len(changes) == 0 {
		view := s.taskView(ctx, *task)
		return &view, nil
	}

	saved, err := s.store.SaveTask(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("save task %d: %w", id, err)
	}
	view := s.taskView(ctx, *saved)
	actor := principal.Ref()
	s.notifier.Notify(notify.KindTask, slug, notify.ActionUpdated, notify.Payload{Task: taskRef(view), Actor: &actor}, changes)
	return &view, nil
}

// DeleteTask removes a task from the event.
func (s *Service) DeleteTask(ctx context.Context, principal models.User, slug string, id int64) (*TaskView, error) {
	unlock := s.locks.lock(slug)
	defer unlock()

	event, err := s.store.GetEvent(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get event %q: %w", slug, err)
	}
	if err := policy.CanDeleteTask(principal, *event).Err(); err != nil {
		return nil, err
	}

	task, err := s.store.DeleteTask(ctx, slug, id)
	if err != nil {
		return nil, fmt.Errorf("delete task %d: %w", id, err)
	}
	view := s.taskView(ctx, *task)
	actor := principal.Ref()
	s.notifier.Notify(notify.KindTask, slug, notify.ActionDeleted, notify.Payload{Task: taskRef(view), Actor: &actor}, nil)
	return &view, nil
}
