package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// ValueType represents the type of an attribute value
type ValueType uint8

const (
	TypeString ValueType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeTimestamp
)

// Value represents a typed attribute value. Attribute maps are restricted
// to this closed set of scalar kinds.
type Value struct {
	Type ValueType
	Data []byte
}

// Helper functions to create typed values
func StringValue(s string) Value {
	return Value{Type: TypeString, Data: []byte(s)}
}

func IntValue(i int64) Value {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(i))
	return Value{Type: TypeInt, Data: data}
}

func FloatValue(f float64) Value {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, math.Float64bits(f))
	return Value{Type: TypeFloat, Data: data}
}

func BoolValue(b bool) Value {
	data := []byte{0}
	if b {
		data[0] = 1
	}
	return Value{Type: TypeBool, Data: data}
}

func TimestampValue(t time.Time) Value {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(t.Unix()))
	return Value{Type: TypeTimestamp, Data: data}
}

// Decode methods
func (v Value) AsString() (string, error) {
	if v.Type != TypeString {
		return "", fmt.Errorf("value is not a string")
	}
	return string(v.Data), nil
}

func (v Value) AsInt() (int64, error) {
	if v.Type != TypeInt {
		return 0, fmt.Errorf("value is not an int")
	}
	return int64(binary.LittleEndian.Uint64(v.Data)), nil
}

func (v Value) AsFloat() (float64, error) {
	if v.Type != TypeFloat {
		return 0, fmt.Errorf("value is not a float")
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(v.Data)), nil
}

func (v Value) AsBool() (bool, error) {
	if v.Type != TypeBool {
		return false, fmt.Errorf("value is not a bool")
	}
	return v.Data[0] == 1, nil
}

func (v Value) AsTimestamp() (time.Time, error) {
	if v.Type != TypeTimestamp {
		return time.Time{}, fmt.Errorf("value is not a timestamp")
	}
	return time.Unix(int64(binary.LittleEndian.Uint64(v.Data)), 0).UTC(), nil
}

// String renders the value for display and bucketing keys.
func (v Value) String() string {
	switch v.Type {
	case TypeString:
		return string(v.Data)
	case TypeInt:
		i, _ := v.AsInt()
		return fmt.Sprintf("%d", i)
	case TypeFloat:
		f, _ := v.AsFloat()
		return fmt.Sprintf("%g", f)
	case TypeBool:
		b, _ := v.AsBool()
		return fmt.Sprintf("%t", b)
	case TypeTimestamp:
		t, _ := v.AsTimestamp()
		return t.Format(time.RFC3339)
	default:
		return ""
	}
}

// MarshalJSON emits the decoded scalar, not the internal encoding.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Type {
	case TypeString:
		return json.Marshal(string(v.Data))
	case TypeInt:
		i, err := v.AsInt()
		if err != nil {
			return nil, err
		}
		return json.Marshal(i)
	case TypeFloat:
		f, err := v.AsFloat()
		if err != nil {
			return nil, err
		}
		return json.Marshal(f)
	case TypeBool:
		b, err := v.AsBool()
		if err != nil {
			return nil, err
		}
		return json.Marshal(b)
	case TypeTimestamp:
		t, err := v.AsTimestamp()
		if err != nil {
			return nil, err
		}
		return json.Marshal(t.Format(time.RFC3339))
	default:
		return nil, fmt.Errorf("unknown value type %d", v.Type)
	}
}

// UnmarshalJSON infers the value kind from the JSON scalar.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch val := raw.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, val); err == nil && strings.Contains(val, "T") {
			*v = TimestampValue(t)
		} else {
			*v = StringValue(val)
		}
	case float64:
		// JSON numbers are always float64
		if val == float64(int64(val)) {
			*v = IntValue(int64(val))
		} else {
			*v = FloatValue(val)
		}
	case bool:
		*v = BoolValue(val)
	default:
		return fmt.Errorf("unsupported attribute value: %v", raw)
	}
	return nil
}

// Attributes is a free-form typed attribute map.
type Attributes map[string]Value

// Clone creates a shallow copy of the attribute map.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// GetString returns the string form of an attribute, or "" if absent.
func (a Attributes) GetString(key string) string {
	v, ok := a[key]
	if !ok {
		return ""
	}
	return v.String()
}

// SharingMarker is a TLP/PAP classification level.
type SharingMarker string

const (
	MarkerRed   SharingMarker = "RED"
	MarkerAmber SharingMarker = "AMBER"
	MarkerGreen SharingMarker = "GREEN"
	MarkerWhite SharingMarker = "WHITE"
)

// ValidMarker reports whether m is one of the fixed marker levels.
func ValidMarker(m SharingMarker) bool {
	switch m {
	case MarkerRed, MarkerAmber, MarkerGreen, MarkerWhite:
		return true
	}
	return false
}

// Entity is a node in the knowledge graph. Natural key: (Name, SuperType, Type).
type Entity struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	SourceURL   string        `json:"source_url,omitempty"`
	SuperType   string        `json:"super_type"`
	Type        string        `json:"type"`
	TLP         SharingMarker `json:"tlp"`
	PAP         SharingMarker `json:"pap"`
	Attributes  Attributes    `json:"attributes,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Clone creates a deep-enough copy of an entity for safe hand-off across
// goroutines (the attribute map is copied, Values are immutable in practice).
func (e *Entity) Clone() *Entity {
	clone := *e
	clone.Attributes = e.Attributes.Clone()
	return &clone
}

// EntityRelation is a directed, labeled edge between two entities.
// Natural key: (Name, FromID, ToID).
type EntityRelation struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	FromID      string     `json:"obj_from"`
	ToID        string     `json:"obj_to"`
	Attributes  Attributes `json:"attributes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Clone creates a copy of a relation with its own attribute map.
func (r *EntityRelation) Clone() *EntityRelation {
	clone := *r
	clone.Attributes = r.Attributes.Clone()
	return &clone
}

// Event is a timestamped, countable observation tied to one entity.
// Natural key: (Type, Name, FirstSeen, LastSeen, InvolvedEntityID).
type Event struct {
	ID               string     `json:"id"`
	Type             string     `json:"type"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	FirstSeen        time.Time  `json:"first_seen"`
	LastSeen         time.Time  `json:"last_seen"`
	Count            int64      `json:"count"`
	InvolvedEntityID string     `json:"involved_entity"`
	Attributes       Attributes `json:"attributes,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Clone creates a copy of an event with its own attribute map.
func (ev *Event) Clone() *Event {
	clone := *ev
	clone.Attributes = ev.Attributes.Clone()
	return &clone
}

// RequestStatus is a request lifecycle state.
type RequestStatus string

const (
	StatusCreated        RequestStatus = "CREATED"
	StatusEnqueued       RequestStatus = "ENQUEUED"
	StatusProcessing     RequestStatus = "PROCESSING"
	StatusPostProcessing RequestStatus = "POST_PROCESSING"
	StatusSucceeded      RequestStatus = "SUCCEEDED"
	StatusFailed         RequestStatus = "FAILED"
	StatusCancelled      RequestStatus = "CANCELLED"
)

// Terminal reports whether the status is a terminal lifecycle state.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Request is one unit of aggregation work. Requests are never deleted;
// they remain as an audit trail of what was asked and when.
type Request struct {
	ID        string        `json:"id"`
	Value     string        `json:"value"`
	SuperType string        `json:"super_type"`
	Type      string        `json:"type"`
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// VendorCredentials is one credential set for a vendor, with rotation
// bookkeeping via LastUsage.
type VendorCredentials struct {
	ID        string            `json:"id"`
	Vendor    string            `json:"vendor"`
	LastUsage time.Time         `json:"last_usage"`
	Secrets   map[string]string `json:"-"`
}
