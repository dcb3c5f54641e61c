package message

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Status represents the delivery state of a message.
type Status uint8

const (
	// StatusDraft means the message has been created but not handed to a sender.
	StatusDraft Status = iota
	// StatusSending means a send attempt is in flight.
	StatusSending
	// StatusSent means the gateway accepted the message successfully.
	StatusSent
	// StatusFailed means the send attempt failed with an error.
	StatusFailed
	// StatusStopped means the send attempt was cancelled by the caller.
	StatusStopped
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "draft"
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final for this send attempt.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusStopped
}

// Attachment describes a file carried by a message. The engine treats
// attachments as opaque payload and only copies them around.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Size int64  `json:"size,omitempty"`
	Mime string `json:"mime,omitempty"`
}

// State is the common field block shared by every message kind.
//
// StartTime and EndTime are unix-millisecond timestamps; EndTime == 0 means
// the send attempt has not finished yet. Err is non-nil exactly when Status
// is StatusFailed or StatusStopped.
type State struct {
	ID        string         `json:"id"`
	Status    Status         `json:"status"`
	Loading   bool           `json:"loading"`
	Content   string         `json:"content,omitempty"`
	Files     []Attachment   `json:"files,omitempty"`
	Result    any            `json:"result"`
	Err       error          `json:"error"`
	StartTime int64          `json:"startTime"`
	EndTime   int64          `json:"endTime"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// clone returns a deep copy of the state. Files and Extra are copied so the
// clone cannot be mutated through references held on the original.
func (s *State) clone() State {
	c := *s
	if s.Files != nil {
		c.Files = make([]Attachment, len(s.Files))
		copy(c.Files, s.Files)
	}
	if s.Extra != nil {
		c.Extra = make(map[string]any, len(s.Extra))
		for k, v := range s.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// Message is the unit tracked by a Store. Specialized message kinds embed
// Record and override Clone to return their own type, which keeps merge and
// copy operations from degrading them into a plain Record.
type Message interface {
	// State returns the message's mutable common fields.
	State() *State
	// Clone returns a deep copy preserving the concrete type.
	Clone() Message
}

// Record is the basic Message implementation.
type Record struct {
	state State
}

// State returns the record's mutable common fields.
func (r *Record) State() *State { return &r.state }

// Clone returns a deep copy of the record.
func (r *Record) Clone() Message {
	return &Record{state: r.state.clone()}
}

// Patch is a partial update applied to a message's State. Patches applied
// later override earlier ones on overlapping fields.
type Patch func(*State)

// WithID sets the message id.
func WithID(id string) Patch {
	return func(s *State) { s.ID = id }
}

// WithStatus sets the delivery status.
func WithStatus(status Status) Patch {
	return func(s *State) { s.Status = status }
}

// WithLoading sets the loading flag.
func WithLoading(loading bool) Patch {
	return func(s *State) { s.Loading = loading }
}

// WithContent sets the user-authored content.
func WithContent(content string) Patch {
	return func(s *State) { s.Content = content }
}

// WithFiles sets the attached files.
func WithFiles(files ...Attachment) Patch {
	return func(s *State) { s.Files = files }
}

// WithResult sets the transport result payload.
func WithResult(result any) Patch {
	return func(s *State) { s.Result = result }
}

// WithError sets the error field. Pass nil to clear it.
func WithError(err error) Patch {
	return func(s *State) { s.Err = err }
}

// WithStartTime sets the start timestamp in unix milliseconds.
func WithStartTime(t int64) Patch {
	return func(s *State) { s.StartTime = t }
}

// WithEndTime sets the end timestamp in unix milliseconds.
func WithEndTime(t int64) Patch {
	return func(s *State) { s.EndTime = t }
}

// WithExtra sets one carried-through extra field.
func WithExtra(key string, value any) Patch {
	return func(s *State) {
		if s.Extra == nil {
			s.Extra = make(map[string]any)
		}
		s.Extra[key] = value
	}
}

// Now returns the current time as unix milliseconds, the timestamp unit used
// throughout the package.
func Now() int64 { return time.Now().UnixMilli() }

// NewID returns a fresh unique message id.
func NewID() string { return uuid.NewString() }

// New creates a message with normalized defaults, then applies the given
// patches. Two calls without an explicit id never collide.
func New(patches ...Patch) Message {
	r := &Record{state: State{
		Status:    StatusDraft,
		StartTime: Now(),
	}}
	for _, patch := range patches {
		patch(&r.state)
	}
	if r.state.ID == "" {
		r.state.ID = NewID()
	}
	return r
}

// Normalize returns a copy of m with missing defaults filled in: a fresh id
// when absent and a start timestamp when zero. The concrete type of m is
// preserved and m itself is left untouched. A nil m yields a fresh message.
func Normalize(m Message) Message {
	if m == nil {
		return New()
	}
	c := m.Clone()
	st := c.State()
	if st.ID == "" {
		st.ID = NewID()
	}
	if st.StartTime == 0 {
		st.StartTime = Now()
	}
	return c
}

// Merge returns a new message combining original with the patches applied
// left to right. The result has the same concrete type as original; the
// original and the store are never touched.
func Merge(original Message, patches ...Patch) Message {
	c := original.Clone()
	st := c.State()
	for _, patch := range patches {
		patch(st)
	}
	return c
}

// IsMessage reports whether v is a structured value: a struct, map, slice or
// array, directly or behind any number of pointers. Primitives and nil are
// not messages.
func IsMessage(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array:
		return true
	default:
		return false
	}
}
