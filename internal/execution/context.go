// Package execution tracks the values a pipeline run accumulates as it
// moves between stages. Slots are write-once so a resumed run never
// clobbers state recorded before a restart.
package execution

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"lighthouse/internal/services"
)

// Slot names written by the pipeline stages. Each stage owns one slot
// holding its typed result record.
const (
	SlotConversion    = "conversion"
	SlotVerification  = "verification"
	SlotTranscription = "transcription"
	SlotAgenda        = "agenda"
	SlotAnalysis      = "analysis"
	SlotRendering     = "rendering"
	SlotDelivery      = "delivery"
)

// Context is a write-once map of named slots. It serializes to JSON so a
// run can be persisted mid-pipeline and resumed after a daemon restart.
type Context struct {
	mu    sync.RWMutex
	slots map[string]json.RawMessage
}

// New returns an empty execution context.
func New() *Context {
	return &Context{slots: make(map[string]json.RawMessage)}
}

// Parse restores a context from its serialized form. Empty input yields
// an empty context.
func Parse(data []byte) (*Context, error) {
	ec := New()
	if len(data) == 0 {
		return ec, nil
	}
	if err := json.Unmarshal(data, &ec.slots); err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "parse execution context", "malformed stored state", err)
	}
	if ec.slots == nil {
		ec.slots = make(map[string]json.RawMessage)
	}
	return ec, nil
}

// Set records a value under name. Writing a slot that already holds a
// value is an error; stages that legitimately re-enter must check Has
// first.
func (c *Context) Set(name string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return services.Wrap(services.ErrValidation, "", "record execution value", fmt.Sprintf("slot %q", name), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.slots[name]; exists {
		return services.Wrap(services.ErrValidation, "", "record execution value", fmt.Sprintf("slot %q already written", name), nil)
	}
	c.slots[name] = data
	return nil
}

// Has reports whether the named slot holds a value.
func (c *Context) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.slots[name]
	return ok
}

// Get decodes the named slot into out. It returns false without touching
// out when the slot is empty.
func (c *Context) Get(name string, out any) (bool, error) {
	c.mu.RLock()
	data, ok := c.slots[name]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, services.Wrap(services.ErrValidation, "", "read execution value", fmt.Sprintf("slot %q", name), err)
	}
	return true, nil
}

// GetString is a convenience for string-valued slots.
func (c *Context) GetString(name string) (string, bool, error) {
	var value string
	ok, err := c.Get(name, &value)
	return value, ok, err
}

// Names returns the written slot names in sorted order.
func (c *Context) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.slots))
	for name := range c.slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Marshal serializes the context for persistence alongside the run.
func (c *Context) Marshal() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c.slots)
}
