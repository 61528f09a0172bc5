package mixer

import (
	"context"
	"fmt"
	"strings"
)

// NameKind selects channel or bus names.
type NameKind string

const (
	NameKindChannel NameKind = "channel"
	NameKindBus     NameKind = "bus"
)

// ParseNameKind converts a string ("channel" or "bus") to a NameKind.
func ParseNameKind(s string) (NameKind, error) {
	switch NameKind(strings.ToLower(s)) {
	case NameKindChannel:
		return NameKindChannel, nil
	case NameKindBus:
		return NameKindBus, nil
	default:
		return "", fmt.Errorf("%w: unknown name kind %q", ErrConstraintViolation, s)
	}
}

// ValidateID checks id against the range for the kind.
func (k NameKind) ValidateID(id int) error {
	if k == NameKindBus {
		return ValidateBus(id)
	}
	return ValidateChannel(id)
}

// CustomName is an administrator-assigned name.
type CustomName struct {
	ID         int    `json:"id"`
	CustomName string `json:"custom_name"`
	UseCustom  bool   `json:"use_custom"`
}

// NameStore supplies administrator-assigned names.
type NameStore interface {
	GetNames(ctx context.Context, kind NameKind) ([]CustomName, error)
}

// DefaultName returns the generated fallback name, e.g. "Channel 5" or "Bus 2".
func DefaultName(kind NameKind, id int) string {
	if kind == NameKindBus {
		return fmt.Sprintf("Bus %d", id)
	}
	return fmt.Sprintf("Channel %d", id)
}

// SetDeviceName records a name reported by the mixer. Blank names are
// ignored. Returns true if the stored name changed.
func (c *StateCache) SetDeviceName(kind NameKind, id int, name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := nameKey{kind, id}
	if c.deviceNames[key] == name {
		return false
	}
	c.deviceNames[key] = name
	return true
}

// DeviceName returns the last name reported by the mixer.
func (c *StateCache) DeviceName(kind NameKind, id int) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceNames[nameKey{kind, id}]
}

// ReplaceCustomNames swaps the custom names of one kind. Device names are
// not touched.
func (c *StateCache) ReplaceCustomNames(kind NameKind, names []CustomName) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.customNames {
		if key.kind == kind {
			delete(c.customNames, key)
		}
	}
	for _, n := range names {
		c.customNames[nameKey{kind, n.ID}] = n
	}
}

// ResolveName returns the display name for a channel or bus:
// the device name if set, else the custom name if enabled, else the default.
// The result is never empty.
func (c *StateCache) ResolveName(kind NameKind, id int) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolveLocked(kind, id)
}

func (c *StateCache) resolveLocked(kind NameKind, id int) string {
	key := nameKey{kind, id}
	if name := c.deviceNames[key]; strings.TrimSpace(name) != "" {
		return name
	}
	if custom, ok := c.customNames[key]; ok && custom.UseCustom && strings.TrimSpace(custom.CustomName) != "" {
		return custom.CustomName
	}
	return DefaultName(kind, id)
}
