package space

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Configuration is an immutable assignment of values to hyperparameter names
type Configuration struct {
	values map[string]any
}

// NewConfiguration copies values into a new configuration
func NewConfiguration(values map[string]any) Configuration {
	c := Configuration{values: make(map[string]any, len(values))}
	for k, v := range values {
		c.values[k] = v
	}
	return c
}

// Value returns the raw value for name
func (c Configuration) Value(name string) (any, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Choice returns a categorical string value, or "" when absent
func (c Configuration) Choice(name string) string {
	if s, ok := c.values[name].(string); ok {
		return s
	}
	return ""
}

// Bool returns a boolean value, or false when absent
func (c Configuration) Bool(name string) bool {
	b, _ := c.values[name].(bool)
	return b
}

// Float returns a numeric value as float64
func (c Configuration) Float(name string) float64 {
	f, _ := toFloat(c.values[name])
	return f
}

// Int returns an integer value
func (c Configuration) Int(name string) int {
	i, _ := toInt(c.values[name])
	return i
}

// Len returns the number of assigned hyperparameters
func (c Configuration) Len() int { return len(c.values) }

// Names returns the assigned names in sorted order
func (c Configuration) Names() []string {
	names := make([]string, 0, len(c.values))
	for k := range c.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Values returns a copy of the underlying map
func (c Configuration) Values() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// With returns a copy of c with name set to v
func (c Configuration) With(name string, v any) Configuration {
	out := NewConfiguration(c.values)
	out.values[name] = v
	return out
}

// Key is a canonical string identifying the configuration; equal configurations
// have equal keys.
func (c Configuration) Key() string {
	var b strings.Builder
	for i, name := range c.Names() {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%v", name, c.values[name])
	}
	return b.String()
}

// Equal reports whether both configurations assign the same values
func (c Configuration) Equal(other Configuration) bool {
	return c.Key() == other.Key()
}

func (c Configuration) GoString() string {
	return "Configuration{" + c.Key() + "}"
}

// MarshalJSON encodes the configuration as a flat JSON object
func (c Configuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.values)
}

// UnmarshalJSON decodes a flat JSON object. Whole numbers decode as int.
func (c *Configuration) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if f, ok := v.(float64); ok {
			if i, ok := toInt(f); ok {
				raw[k] = i
			}
		}
	}
	c.values = raw
	return nil
}
