package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Field is one column of a row image.
type Field struct {
	Key   string
	Value any
}

// Snapshot is an ordered column → value image of a row. It encodes as a
// JSON object whose keys keep their column order.
type Snapshot []Field

// Get returns the value stored under key.
func (s Snapshot) Get(key string) (any, bool) {
	for _, f := range s {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Keys lists the columns in order.
func (s Snapshot) Keys() []string {
	keys := make([]string, len(s))
	for i, f := range s {
		keys[i] = f.Key
	}
	return keys
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("snapshot column %s: %w", f.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object preserving key order. Numbers decode as
// json.Number so ids and amounts survive the round trip exactly.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("snapshot: expected object, got %v", tok)
	}
	out := Snapshot{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("snapshot: expected key, got %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("snapshot column %s: %w", key, err)
		}
		out = append(out, Field{Key: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

// snapshotTime renders timestamps the same way regardless of store.
func snapshotTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func optString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func optInt(i *int) any {
	if i == nil {
		return nil
	}
	return int64(*i)
}

func mapValue(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
