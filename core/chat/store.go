package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mudler/genstudio/core/persistence"
	"github.com/mudler/xlog"
)

const (
	MaxPersistedSessions = 20
	MaxPersistedMessages = 100
)

type Options struct {
	MaxPersistedSessions int
	MaxPersistedMessages int
	// Now and NewID are overridable for tests
	Now   func() time.Time
	NewID func() string
}

func (o Options) withDefaults() Options {
	if o.MaxPersistedSessions <= 0 {
		o.MaxPersistedSessions = MaxPersistedSessions
	}
	if o.MaxPersistedMessages <= 0 {
		o.MaxPersistedMessages = MaxPersistedMessages
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

// Store is the timeline of one owner. It is safe for concurrent use: each
// mutation is one reducer application under the lock.
type Store struct {
	mu        sync.Mutex
	state     State
	persister persistence.Store
	key       string
	opts      Options
}

var namePolicy = bluemonday.StrictPolicy()

// Open hydrates the store saved under key. A missing or unreadable saved
// state starts a fresh timeline with one empty session.
func Open(ctx context.Context, persister persistence.Store, key string, opts Options) (*Store, error) {
	s := &Store{persister: persister, key: key, opts: opts.withDefaults()}

	data, ok, err := persister.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := json.Unmarshal(data, &s.state); err != nil {
			xlog.Warn("Discarding unreadable chat state", "key", key, "error", err)
			s.state = State{}
		}
	}

	st, _ := normalize(s.opts.NewID(), s.opts.Now())(s.state)
	s.state = st
	xlog.Debug("Opened chat store", "key", key, "sessions", len(st.Sessions))
	return s, nil
}

// apply runs a reducer and persists the result.
func (s *Store) apply(r Reducer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := r(s.state)
	if err != nil {
		return err
	}
	s.state = st
	s.persist()
	return nil
}

// persist saves the bounded state. On quota errors it retries with halved
// caps down to one session of one message, then gives up with a warning.
// Failures never reach the caller: the in-memory state stays authoritative.
func (s *Store) persist() {
	maxS, maxM := s.opts.MaxPersistedSessions, s.opts.MaxPersistedMessages
	for {
		data, err := json.Marshal(bounded(s.state, maxS, maxM))
		if err != nil {
			xlog.Warn("Cannot encode chat state", "key", s.key, "error", err)
			return
		}
		err = s.persister.Save(context.Background(), s.key, data)
		if err == nil {
			return
		}
		if !errors.Is(err, persistence.ErrQuotaExceeded) {
			xlog.Warn("Cannot persist chat state", "key", s.key, "error", err)
			return
		}
		if maxS == 1 && maxM == 1 {
			xlog.Warn("Chat state does not fit the storage quota even at minimum size", "key", s.key, "error", err)
			return
		}
		maxS, maxM = half(maxS), half(maxM)
		xlog.Debug("Shrinking persisted chat state", "key", s.key, "sessions", maxS, "messages", maxM)
	}
}

func half(n int) int {
	if n <= 1 {
		return 1
	}
	return n / 2
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(namePolicy.Sanitize(name))
	if name == "" {
		return DefaultSessionName
	}
	return name
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.state
	out.Sessions = make([]Session, len(s.state.Sessions))
	for i, sess := range s.state.Sessions {
		out.Sessions[i] = sess.clone()
	}
	return out
}

// Sessions lists session summaries, most recently updated first.
func (s *Store) Sessions() []SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionSummary, 0, len(s.state.Sessions))
	for _, sess := range s.state.Sessions {
		out = append(out, sess.summary(s.state.CurrentSessionID))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Current returns a copy of the current session.
func (s *Store) Current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Sessions[s.state.indexOf(s.state.CurrentSessionID)].clone()
}

// Session returns a copy of a session by id.
func (s *Store) Session(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.state.indexOf(s.state.resolve(id))
	if i < 0 {
		return Session{}, ErrSessionNotFound
	}
	return s.state.Sessions[i].clone(), nil
}

// Messages returns the messages of a session, the current one when id is empty.
func (s *Store) Messages(id string) ([]Message, error) {
	sess, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	return sess.Messages, nil
}

// Message finds a message by id in any session.
func (s *Store) Message(id string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, j := findMessage(s.state, id)
	if i < 0 {
		return Message{}, ErrMessageNotFound
	}
	return s.state.Sessions[i].Messages[j].clone(), nil
}

// CreateSession adds a session and makes it current.
func (s *Store) CreateSession(name string) (SessionSummary, error) {
	id := s.opts.NewID()
	if err := s.apply(createSession(id, sanitizeName(name), s.opts.Now())); err != nil {
		return SessionSummary{}, err
	}
	sess, err := s.Session(id)
	return sess.summary(id), err
}

func (s *Store) SwitchSession(id string) error {
	return s.apply(switchSession(id))
}

func (s *Store) RenameSession(id, name string) error {
	return s.apply(renameSession(id, sanitizeName(name), s.opts.Now()))
}

// DeleteSession never leaves the store without a session.
func (s *Store) DeleteSession(id string) error {
	return s.apply(deleteSession(id, s.opts.NewID(), s.opts.Now()))
}

func (s *Store) ClearSession(id string) error {
	return s.apply(clearSession(id, s.opts.Now()))
}

// AppendMessage appends to a session, the current one when sessionID is empty.
func (s *Store) AppendMessage(sessionID string, msgs ...Message) error {
	return s.apply(appendMessages(sessionID, s.opts.Now(), msgs...))
}

// UpdateMessage edits a non terminal message in place, keeping its id.
func (s *Store) UpdateMessage(messageID string, fn func(Message) Message) error {
	return s.apply(updateMessage(messageID, s.opts.Now(), fn))
}

func (s *Store) DeleteMessage(sessionID, messageID string) error {
	return s.apply(deleteMessage(sessionID, messageID, s.opts.Now()))
}

// MarkGenerationSucceeded settles a placeholder as succeeded and re-enables
// auto-attach.
func (s *Store) MarkGenerationSucceeded(messageID string, outputs []string, isVideo bool, seed *int64) error {
	settle := settleMessage(messageID, s.opts.Now(), Settlement{
		Status:  StatusSucceeded,
		Outputs: outputs,
		IsVideo: isVideo,
		Seed:    seed,
	})
	return s.apply(func(st State) (State, error) {
		st, err := settle(st)
		if err != nil {
			return st, err
		}
		return setAutoAttachDisabled(false)(st)
	})
}

func (s *Store) MarkGenerationFailed(messageID, errMsg string) error {
	return s.apply(settleMessage(messageID, s.opts.Now(), Settlement{
		Status: StatusFailed,
		Error:  errMsg,
	}))
}

// DismissAutoAttach suppresses the candidate until the next successful
// generation. Switching sessions does not reset it.
func (s *Store) DismissAutoAttach() error {
	return s.apply(setAutoAttachDisabled(true))
}

func (s *Store) AutoAttachDisabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.AutoAttachDisabled
}

// AutoAttachCandidate returns the first output of the newest succeeded,
// non-video assistant message of a session that has outputs. An empty
// sessionID means the current session.
func (s *Store) AutoAttachCandidate(sessionID string, acceptsImage bool) (string, bool) {
	if !acceptsImage {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.AutoAttachDisabled {
		return "", false
	}
	i := s.state.indexOf(s.state.resolve(sessionID))
	if i < 0 {
		return "", false
	}
	msgs := s.state.Sessions[i].Messages
	for j := len(msgs) - 1; j >= 0; j-- {
		m := msgs[j]
		a := m.Content.Assistant
		if m.Role != RoleAssistant || a == nil {
			continue
		}
		if a.Status == StatusSucceeded && !a.IsVideo && len(a.Outputs) > 0 {
			return a.Outputs[0], true
		}
	}
	return "", false
}

// PruneIdle drops sessions not updated since cutoff and reports how many
// were removed.
func (s *Store) PruneIdle(cutoff time.Time) int {
	fresh := s.opts.NewID()
	var removed int
	_ = s.apply(func(st State) (State, error) {
		next, err := pruneIdle(cutoff, fresh, s.opts.Now())(st)
		removed = 0
		for _, sess := range st.Sessions {
			if next.indexOf(sess.ID) < 0 {
				removed++
			}
		}
		return next, err
	})
	return removed
}
