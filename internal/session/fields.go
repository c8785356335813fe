package session

import (
	"encoding/json"

	"github.com/BTreeMap/ReEngage/internal/models"
	"github.com/elliotchance/orderedmap/v3"
)

// Field is one collected key/value pair.
type Field struct {
	Key   models.DataKey `json:"key"`
	Value string         `json:"value"`
}

// Fields holds a session's collected values in insertion order.
type Fields struct {
	m *orderedmap.OrderedMap[models.DataKey, string]
}

// NewFields returns an empty field set.
func NewFields() *Fields {
	return &Fields{m: orderedmap.NewOrderedMap[models.DataKey, string]()}
}

func (f *Fields) ensure() {
	if f.m == nil {
		f.m = orderedmap.NewOrderedMap[models.DataKey, string]()
	}
}

// Set stores value under key. Re-setting an existing key keeps its original position.
func (f *Fields) Set(key models.DataKey, value string) {
	f.ensure()
	f.m.Set(key, value)
}

// Get returns the value for key.
func (f *Fields) Get(key models.DataKey) (string, bool) {
	if f == nil || f.m == nil {
		return "", false
	}
	return f.m.Get(key)
}

// Value returns the value for key or "" when absent.
func (f *Fields) Value(key models.DataKey) string {
	v, _ := f.Get(key)
	return v
}

// Delete removes key.
func (f *Fields) Delete(key models.DataKey) {
	if f == nil || f.m == nil {
		return
	}
	f.m.Delete(key)
}

// Len returns the number of collected fields.
func (f *Fields) Len() int {
	if f == nil || f.m == nil {
		return 0
	}
	return f.m.Len()
}

// Pairs returns the fields in insertion order.
func (f *Fields) Pairs() []Field {
	out := make([]Field, 0, f.Len())
	if f == nil || f.m == nil {
		return out
	}
	for el := f.m.Front(); el != nil; el = el.Next() {
		out = append(out, Field{Key: el.Key, Value: el.Value})
	}
	return out
}

// Clone returns an independent copy.
func (f *Fields) Clone() *Fields {
	c := NewFields()
	for _, p := range f.Pairs() {
		c.m.Set(p.Key, p.Value)
	}
	return c
}

// MarshalJSON encodes the fields as an ordered array of pairs.
func (f *Fields) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Pairs())
}

// UnmarshalJSON decodes an ordered array of pairs.
func (f *Fields) UnmarshalJSON(data []byte) error {
	var pairs []Field
	if err := json.Unmarshal(data, &pairs); err != nil {
		return err
	}
	f.m = orderedmap.NewOrderedMap[models.DataKey, string]()
	for _, p := range pairs {
		f.m.Set(p.Key, p.Value)
	}
	return nil
}
