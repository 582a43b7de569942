package view

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNoHandler = errors.New("no handler for event")
	ErrBadValue  = errors.New("invalid event value")
)

// Event is a property change of a page component, e.g. the slider value.
type Event struct {
	Component string          `json:"component"`
	Property  string          `json:"property"`
	Value     json.RawMessage `json:"value"`
}

// Handler turns an event value into the output sent back to the page.
type Handler func(value json.RawMessage) (interface{}, error)

// Dispatcher routes page events to plain functions.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func key(component, property string) string { return component + "." + property }

// On registers h for changes of component.property, replacing any
// previous handler.
func (d *Dispatcher) On(component, property string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[key(component, property)] = h
}

// OnYear registers fn for an integer-valued property.
func (d *Dispatcher) OnYear(component string, fn func(year int) (interface{}, error)) {
	d.On(component, "value", func(value json.RawMessage) (interface{}, error) {
		var year int
		if err := json.Unmarshal(value, &year); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrBadValue, value)
		}
		return fn(year)
	})
}

// Dispatch calls the handler registered for ev.
func (d *Dispatcher) Dispatch(ev Event) (interface{}, error) {
	d.mu.RLock()
	h, ok := d.handlers[key(ev.Component, ev.Property)]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoHandler, ev.Component, ev.Property)
	}
	return h(ev.Value)
}
