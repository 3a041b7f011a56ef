package services

import (
	"context"
	"sync"
	"time"

	"hestia/models"
)

// In-memory fakes for the repository, bus, clock and notifier surfaces.

type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
	saves int
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: make(map[string]*models.Task)}
}

func (f *fakeTaskRepo) put(task *models.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *task
	f.tasks[task.ID] = &copied
}

func (f *fakeTaskRepo) GetTask(_ context.Context, id string) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return nil, notFoundErr("task", id)
	}
	copied := *task
	return &copied, nil
}

func (f *fakeTaskRepo) SaveTask(_ context.Context, task *models.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *task
	f.tasks[task.ID] = &copied
	f.saves++
	return nil
}

func (f *fakeTaskRepo) ListSchedulableTasks(_ context.Context) ([]*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Task, 0)
	for _, task := range f.tasks {
		if task.Status == models.TaskScheduled || task.Status == models.TaskActive {
			copied := *task
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeTaskRepo) ListUserTasks(_ context.Context, userID string) ([]*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Task, 0)
	for _, task := range f.tasks {
		if task.UserID == userID {
			copied := *task
			out = append(out, &copied)
		}
	}
	return out, nil
}

type fakeDeviceRepo struct {
	mu      sync.Mutex
	devices map[string]*models.Device
}

func newFakeDeviceRepo(devices ...*models.Device) *fakeDeviceRepo {
	repo := &fakeDeviceRepo{devices: make(map[string]*models.Device)}
	for _, d := range devices {
		copied := *d
		repo.devices[d.ID] = &copied
	}
	return repo
}

func (f *fakeDeviceRepo) GetDevice(_ context.Context, id string) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	device, ok := f.devices[id]
	if !ok {
		return nil, notFoundErr("device", id)
	}
	copied := *device
	return &copied, nil
}

func (f *fakeDeviceRepo) SaveDevice(_ context.Context, device *models.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *device
	f.devices[device.ID] = &copied
	return nil
}

func (f *fakeDeviceRepo) ListRoomDevices(_ context.Context, roomID string) ([]*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Device, 0)
	for order := 1; order <= 16; order++ {
		for _, device := range f.devices {
			if device.RoomID == roomID && device.Order == order {
				copied := *device
				out = append(out, &copied)
			}
		}
	}
	return out, nil
}

type fakeRoomRepo struct {
	mu    sync.Mutex
	rooms map[string]*models.Room
	flips []bool // recorded SetRoomESPConnected values, in order
}

func newFakeRoomRepo(rooms ...*models.Room) *fakeRoomRepo {
	repo := &fakeRoomRepo{rooms: make(map[string]*models.Room)}
	for _, r := range rooms {
		copied := *r
		repo.rooms[r.ID] = &copied
	}
	return repo
}

func (f *fakeRoomRepo) GetRoom(_ context.Context, id string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		return nil, notFoundErr("room", id)
	}
	copied := *room
	return &copied, nil
}

func (f *fakeRoomRepo) SetRoomESPConnected(_ context.Context, roomID string, connected bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.rooms[roomID]; ok {
		room.ESPConnected = connected
	}
	f.flips = append(f.flips, connected)
	return nil
}

type publishedMessage struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeBus struct {
	mu       sync.Mutex
	messages []publishedMessage
}

func (f *fakeBus) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, publishedMessage{topic, qos, retained, payload})
	return nil
}

func (f *fakeBus) byTopic(topic string) []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishedMessage, 0)
	for _, m := range f.messages {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fakeTimer struct {
	clock   *fakeClock
	fireAt  time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// fakeClock arms timers that fire synchronously when Advance crosses
// their deadline.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) setNow(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &fakeTimer{clock: c, fireAt: c.now.Add(d), fn: f}
	c.timers = append(c.timers, timer)
	return timer
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	due := make([]*fakeTimer, 0)
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.fireAt.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

func (c *fakeClock) liveTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type notifyCall struct {
	kind    string // "upcoming" | "failure"
	taskID  string
	message string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (f *fakeNotifier) NotifyUpcoming(_ context.Context, task *models.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifyCall{kind: "upcoming", taskID: task.ID})
}

func (f *fakeNotifier) NotifyFailure(_ context.Context, task *models.Task, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifyCall{kind: "failure", taskID: task.ID, message: message})
}

type fakeClients struct {
	mu          sync.Mutex
	deviceCalls []string // device IDs
	roomCalls   []bool   // connected flags
	taskCalls   []string // statuses
}

func (f *fakeClients) DeviceStateChanged(device *models.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deviceCalls = append(f.deviceCalls, device.ID)
}

func (f *fakeClients) RoomESPConnectionChanged(roomID string, connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomCalls = append(f.roomCalls, connected)
}

func (f *fakeClients) TaskStatusChanged(task *models.Task, status, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taskCalls = append(f.taskCalls, status)
}

type fakePresence struct {
	present bool
	err     error
}

func (f *fakePresence) IsPresent(context.Context, string) (bool, error) {
	return f.present, f.err
}
