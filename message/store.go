package message

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is an insertion-ordered collection of messages plus a session-scoped
// streaming flag. All operations are safe for concurrent use; each operation
// is atomic with respect to the others.
//
// Messages are held and returned by reference: callers observing a message
// returned from the store see later updates to it. ToJSON is the way to get
// an independent snapshot.
type Store struct {
	entries   []Message
	index     map[string]int
	streaming bool

	mu sync.RWMutex
}

// NewStore creates an empty message store.
func NewStore() *Store {
	return &Store{
		entries: make([]Message, 0),
		index:   make(map[string]int),
	}
}

// AddMessage inserts or merges a message.
//
// When the id is not yet present, m is normalized (missing id and start time
// filled in) and appended; when it is present, m is merged onto the existing
// entry in place, at the same index, and the existing entry is returned. The
// incoming message is treated as a lifecycle snapshot: status, loading,
// timestamps, result and error are always taken from it, while content,
// files and extras are retained from the stored entry when the incoming ones
// are empty. That is what a re-send needs — the attempt restarts, so the
// stored result and end time clear along with it. To change individual
// fields without restarting the lifecycle, use UpdateMessage:
//
//	store.AddMessage(message.New(message.WithID(id), message.WithContent("edited"))) // clears Result
//	store.UpdateMessage(id, message.WithContent("edited"))                           // keeps Result
//
// The returned message is the stored object itself, not a copy.
func (s *Store) AddMessage(m Message) Message {
	n := Normalize(m)
	ns := n.State()

	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.index[ns.ID]; ok {
		existing := s.entries[i]
		overlay(existing.State(), ns)
		logrus.WithFields(logrus.Fields{
			"function":  "AddMessage",
			"messageID": ns.ID,
			"index":     i,
		}).Debug("Merged message onto existing entry")
		return existing
	}

	s.index[ns.ID] = len(s.entries)
	s.entries = append(s.entries, n)
	logrus.WithFields(logrus.Fields{
		"function":  "AddMessage",
		"messageID": ns.ID,
		"status":    ns.Status.String(),
	}).Debug("Appended message to store")
	return n
}

// overlay merges src onto dst in place. Lifecycle fields are always taken
// from src; payload fields keep their previous value when src leaves them
// empty.
func overlay(dst, src *State) {
	dst.Status = src.Status
	dst.Loading = src.Loading
	dst.Result = src.Result
	dst.Err = src.Err
	dst.StartTime = src.StartTime
	dst.EndTime = src.EndTime
	if src.Content != "" {
		dst.Content = src.Content
	}
	if src.Files != nil {
		dst.Files = src.Files
	}
	for k, v := range src.Extra {
		if dst.Extra == nil {
			dst.Extra = make(map[string]any)
		}
		dst.Extra[k] = v
	}
}

// GetMessages returns the messages in insertion order. The slice is a copy;
// the messages themselves are the stored objects.
func (s *Store) GetMessages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.entries))
	copy(out, s.entries)
	return out
}

// GetMessageByID returns the message with the given id, or false when the id
// is not present.
func (s *Store) GetMessageByID(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.entries[i], true
}

// GetMessageIndex returns the position of the message with the given id, or
// -1 when the id is not present.
func (s *Store) GetMessageIndex(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return -1
	}
	return i
}

// GetMessageByIndex returns the message at position i. Negative indices
// count from the end, so -1 is the last message. Indices outside
// [-len, len-1] return false.
func (s *Store) GetMessageByIndex(i int) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i < 0 {
		i += len(s.entries)
	}
	if i < 0 || i >= len(s.entries) {
		return nil, false
	}
	return s.entries[i], true
}

// UpdateMessage applies the patches in order to the message with the given
// id and returns the updated message. It returns false, without creating an
// entry, when the id is not present.
func (s *Store) UpdateMessage(id string, patches ...Patch) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	st := s.entries[i].State()
	for _, patch := range patches {
		patch(st)
	}
	return s.entries[i], true
}

// DeleteMessage removes the message with the given id. Deleting an unknown
// id is a no-op.
func (s *Store) DeleteMessage(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.entries); j++ {
		s.index[s.entries[j].State().ID] = j
	}
	logrus.WithFields(logrus.Fields{
		"function":  "DeleteMessage",
		"messageID": id,
	}).Debug("Removed message from store")
}

// MergeMessage returns a new message combining original with the patches,
// preserving original's concrete type. The store is not touched.
func (s *Store) MergeMessage(original Message, patches ...Patch) Message {
	return Merge(original, patches...)
}

// ResetMessages replaces the entire collection. Every element runs through
// the same normalization as a freshly created message.
func (s *Store) ResetMessages(list []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make([]Message, 0, len(list))
	s.index = make(map[string]int, len(list))
	for _, m := range list {
		n := Normalize(m)
		id := n.State().ID
		if i, ok := s.index[id]; ok {
			s.entries[i] = n
			continue
		}
		s.index[id] = len(s.entries)
		s.entries = append(s.entries, n)
	}
	logrus.WithFields(logrus.Fields{
		"function": "ResetMessages",
		"count":    len(s.entries),
	}).Debug("Replaced store contents")
}

// Len returns the number of messages in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ToJSON returns a deep structural snapshot of the messages in order. The
// snapshot is fully independent: mutating it never affects the store. Values
// without serializable fields, such as errors, come out as empty objects.
func (s *Store) ToJSON() ([]map[string]any, error) {
	s.mu.RLock()
	raw, err := json.Marshal(s.entries)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StartStreaming marks the store as receiving streamed chunks. Idempotent.
func (s *Store) StartStreaming() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = true
}

// StopStreaming clears the streaming flag. Idempotent, and safe to call
// before StartStreaming was ever called.
func (s *Store) StopStreaming() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = false
}

// Streaming reports whether any in-flight send is currently streaming.
func (s *Store) Streaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streaming
}

// MarshalJSON serializes the record's state, so records embedded in store
// snapshots expose their fields rather than an opaque struct.
//
// The method is promoted into kinds that embed Record, which means their own
// fields do not appear in snapshots by default. A specialized kind carrying
// serializable extras should provide its own MarshalJSON, combining its
// State with the extra fields.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(&r.state)
}
