package shc

import "sync"

// Events dispatches device events to the handlers watching the device.
type Events struct {
	mu       sync.RWMutex
	next     int
	handlers map[string]map[int]func(DeviceEvent)
}

func NewEvents() *Events {
	return &Events{handlers: make(map[string]map[int]func(DeviceEvent))}
}

// Watch calls f for every event of deviceID until stop is called.
func (e *Events) Watch(deviceID string, f func(DeviceEvent)) (stop func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	if e.handlers[deviceID] == nil {
		e.handlers[deviceID] = make(map[int]func(DeviceEvent))
	}
	e.handlers[deviceID][id] = f

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.handlers[deviceID], id)
			if len(e.handlers[deviceID]) == 0 {
				delete(e.handlers, deviceID)
			}
		})
	}
}

// Dispatch hands ev to the handlers of its device.
func (e *Events) Dispatch(ev DeviceEvent) {
	e.mu.RLock()
	fs := make([]func(DeviceEvent), 0, len(e.handlers[ev.DeviceID]))
	for _, f := range e.handlers[ev.DeviceID] {
		fs = append(fs, f)
	}
	e.mu.RUnlock()
	for _, f := range fs {
		f(ev)
	}
}
