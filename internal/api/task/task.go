// Package task implements the task API (apiId 3).
//
// Tasks are kept in memory and written through to a service.TaskStore on
// every change. Upserts and deletes are serialized, so concurrent writes
// to one task resolve last-write-wins in arrival order. A task with a
// reminder in the future gets a timer that pushes a Reminder message once
// the reminder time is reached.
package task

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/pearjo/knut-server/internal/api"
	"github.com/pearjo/knut-server/internal/envelope"
	kerr "github.com/pearjo/knut-server/internal/errors"
	"github.com/pearjo/knut-server/internal/push"
	"github.com/pearjo/knut-server/internal/service"
)

// Message ids.
const (
	Reminder          uint16 = 0x0101
	TaskRequest       uint16 = 0x0002
	TaskResponse      uint16 = 0x0102
	AllTasksRequest   uint16 = 0x0003
	AllTasksResponse  uint16 = 0x0103
	DeleteTaskRequest uint16 = 0x0004
)

// API is the task dispatcher.
type API struct {
	store     service.TaskStore
	publisher push.Publisher
	logger    *zap.SugaredLogger
	table     api.Table
	now       func() time.Time
	newID     func() string

	mu     sync.Mutex
	tasks  map[string]service.Task
	timers map[string]*time.Timer
}

// New returns a task API persisting to store. Call Load to read the
// stored tasks.
func New(store service.TaskStore, publisher push.Publisher, logger *zap.SugaredLogger) *API {
	a := &API{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
		tasks:     make(map[string]service.Task),
		timers:    make(map[string]*time.Timer),
	}
	a.table = api.Table{
		TaskRequest:       a.handleTaskRequest,
		TaskResponse:      a.handleTaskUpsert,
		AllTasksRequest:   a.handleAllTasksRequest,
		DeleteTaskRequest: a.handleDeleteRequest,
	}
	return a
}

// ID implements api.API.
func (a *API) ID() uint16 { return api.TaskID }

// Name implements api.API.
func (a *API) Name() string { return "task" }

// Handle implements api.API.
func (a *API) Handle(ctx context.Context, msgID uint16, payload json.RawMessage) (uint16, any, error) {
	return a.table.Dispatch(ctx, a.Name(), msgID, payload)
}

// Load replaces the in-memory tasks with the stored ones and schedules
// their reminders.
func (a *API) Load() error {
	tasks, err := a.store.Load()
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopTimersLocked()
	a.tasks = make(map[string]service.Task, len(tasks))
	for _, t := range tasks {
		a.tasks[t.ID] = t
		a.scheduleLocked(t)
	}
	a.logger.Infof("Loaded %d tasks", len(tasks))
	return nil
}

// Run waits for ctx and stops all pending reminders.
func (a *API) Run(ctx context.Context) error {
	<-ctx.Done()
	a.mu.Lock()
	a.stopTimersLocked()
	a.mu.Unlock()
	return nil
}

// Get returns the task with id.
func (a *API) Get(id string) (service.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[id]
	if !ok {
		return t, kerr.NotFound("task.Get", id)
	}
	return t, nil
}

// List returns all tasks ordered by id.
func (a *API) List() []service.Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listLocked()
}

func (a *API) listLocked() []service.Task {
	tasks := maps.Values(a.tasks)
	slices.SortFunc(tasks, func(x, y service.Task) bool { return x.ID < y.ID })
	return tasks
}

// Update is a partial task. Nil fields are left untouched. An empty ID
// creates a new task.
type Update struct {
	ID          string  `json:"id"`
	Assignee    *string `json:"assignee"`
	Author      *string `json:"author"`
	Description *string `json:"description"`
	Title       *string `json:"title"`
	Due         *int64  `json:"due"`
	Reminder    *int64  `json:"reminder"`
	Done        *bool   `json:"done"`
}

func (u Update) applyTo(t *service.Task) {
	if u.Assignee != nil {
		t.Assignee = *u.Assignee
	}
	if u.Author != nil {
		t.Author = *u.Author
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Due != nil {
		t.Due = *u.Due
	}
	if u.Reminder != nil {
		t.Reminder = *u.Reminder
	}
	if u.Done != nil {
		t.Done = *u.Done
	}
}

// Upsert creates or modifies a task and persists it.
func (a *API) Upsert(u Update) (service.Task, error) {
	const op = "task.Upsert"
	if u.Reminder != nil && *u.Reminder < 0 {
		return service.Task{}, kerr.Validation(op, "reminder", "reminder must not be negative")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var t service.Task
	if u.ID == "" {
		for {
			t.ID = a.newID()
			if _, taken := a.tasks[t.ID]; !taken {
				break
			}
		}
	} else {
		var ok bool
		if t, ok = a.tasks[u.ID]; !ok {
			return t, kerr.BackendNotFound(op, kerr.NotFound(op, u.ID))
		}
	}
	prev, existed := a.tasks[t.ID]
	u.applyTo(&t)

	if err := a.store.Save(t); err != nil {
		if kerr.KindOf(err) == kerr.KindInternal {
			err = kerr.Wrap(kerr.KindBackend, op, err)
		}
		return prev, err
	}
	a.tasks[t.ID] = t
	if !existed || prev.Reminder != t.Reminder || prev.Done != t.Done {
		a.scheduleLocked(t)
	}
	if existed {
		a.logger.Debugf("Updated task %s", t.ID)
	} else {
		a.logger.Infof("Created task %s", t.ID)
	}
	return t, nil
}

// Delete removes the task with id and cancels its reminder.
func (a *API) Delete(id string) error {
	const op = "task.Delete"
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.tasks[id]; !ok {
		return kerr.BackendNotFound(op, kerr.NotFound(op, id))
	}
	if err := a.store.Delete(id); err != nil && !kerr.Is(err, kerr.KindNotFound) {
		return kerr.Wrap(kerr.KindBackend, op, err)
	}
	a.cancelLocked(id)
	delete(a.tasks, id)
	a.logger.Infof("Deleted task %s", id)
	return nil
}

// scheduleLocked replaces the reminder timer of t. Tasks that are done or
// whose reminder has passed get no timer.
func (a *API) scheduleLocked(t service.Task) {
	a.cancelLocked(t.ID)
	if t.Done || t.Reminder <= 0 {
		return
	}
	delay := time.Unix(t.Reminder, 0).Sub(a.now())
	if delay <= 0 {
		return
	}
	id, reminder := t.ID, t.Reminder
	a.timers[id] = time.AfterFunc(delay, func() { a.remind(id, reminder) })
	a.logger.Debugf("Reminder of task %s in %s", id, delay)
}

func (a *API) cancelLocked(id string) {
	if timer, ok := a.timers[id]; ok {
		timer.Stop()
		delete(a.timers, id)
	}
}

func (a *API) stopTimersLocked() {
	for id := range a.timers {
		a.cancelLocked(id)
	}
}

// remind pushes the reminder of id unless it was rescheduled or deleted
// after the timer fired.
func (a *API) remind(id string, reminder int64) {
	a.mu.Lock()
	t, ok := a.tasks[id]
	if !ok || t.Reminder != reminder || t.Done {
		a.mu.Unlock()
		return
	}
	delete(a.timers, id)
	a.mu.Unlock()

	a.logger.Infof("Remind of task %s", id)
	if err := a.publisher.Push(a.ID(), Reminder, reminderMsg{ID: id, Reminder: reminder}); err != nil {
		a.logger.Errorf("Push reminder of task %s: %v", id, err)
	}
}

type reminderMsg struct {
	ID       string `json:"id"`
	Reminder int64  `json:"reminder"`
}

type idRequest struct {
	ID string `json:"id"`
}

type taskList struct {
	Tasks []service.Task `json:"tasks"`
}

func decodeID(op string, payload json.RawMessage) (string, error) {
	var req idRequest
	if err := api.Decode(op, payload, &req); err != nil {
		return "", err
	}
	if req.ID == "" {
		return "", kerr.Validation(op, "id", "missing task id")
	}
	return req.ID, nil
}

func (a *API) handleTaskRequest(_ context.Context, payload json.RawMessage) (uint16, any, error) {
	const op = "task.get"
	id, err := decodeID(op, payload)
	if err != nil {
		return envelope.MsgNull, nil, err
	}
	t, err := a.Get(id)
	if err != nil {
		return envelope.MsgNull, nil, kerr.BackendNotFound(op, err)
	}
	return TaskResponse, t, nil
}

func (a *API) handleTaskUpsert(_ context.Context, payload json.RawMessage) (uint16, any, error) {
	var u Update
	if err := api.Decode("task.upsert", payload, &u); err != nil {
		return envelope.MsgNull, nil, err
	}
	t, err := a.Upsert(u)
	if err != nil {
		return envelope.MsgNull, nil, err
	}
	if err := a.publisher.Push(a.ID(), TaskResponse, t); err != nil {
		a.logger.Errorf("Push task %s: %v", t.ID, err)
	}
	return TaskResponse, t, nil
}

func (a *API) handleAllTasksRequest(context.Context, json.RawMessage) (uint16, any, error) {
	return AllTasksResponse, taskList{Tasks: a.List()}, nil
}

func (a *API) handleDeleteRequest(_ context.Context, payload json.RawMessage) (uint16, any, error) {
	const op = "task.delete"
	id, err := decodeID(op, payload)
	if err != nil {
		return envelope.MsgNull, nil, err
	}
	if err := a.Delete(id); err != nil {
		return envelope.MsgNull, nil, err
	}
	list := taskList{Tasks: a.List()}
	if err := a.publisher.Push(a.ID(), AllTasksResponse, list); err != nil {
		a.logger.Errorf("Push task list: %v", err)
	}
	return AllTasksResponse, list, nil
}
