package chat

import (
	"fmt"
	"sort"
	"time"
)

// Reducer derives a new State from the current one. It must not modify its
// argument: slices touched by the change are copied first.
type Reducer func(State) (State, error)

func (st State) copySessions() []Session {
	return append([]Session(nil), st.Sessions...)
}

func (st State) indexOf(sessionID string) int {
	for i, s := range st.Sessions {
		if s.ID == sessionID {
			return i
		}
	}
	return -1
}

// resolve maps an empty session id to the current session.
func (st State) resolve(sessionID string) string {
	if sessionID == "" {
		return st.CurrentSessionID
	}
	return sessionID
}

// mostRecentlyUpdated returns the index of the session updated last, -1 when
// there are none.
func (st State) mostRecentlyUpdated() int {
	best := -1
	for i, s := range st.Sessions {
		if best == -1 || s.UpdatedAt.After(st.Sessions[best].UpdatedAt) {
			best = i
		}
	}
	return best
}

func createSession(id, name string, now time.Time) Reducer {
	return func(st State) (State, error) {
		st.Sessions = append(st.copySessions(), Session{
			ID:        id,
			Name:      name,
			CreatedAt: now,
			UpdatedAt: now,
			Messages:  []Message{},
		})
		st.CurrentSessionID = id
		return st, nil
	}
}

func switchSession(id string) Reducer {
	return func(st State) (State, error) {
		if st.indexOf(id) < 0 {
			return st, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		st.CurrentSessionID = id
		return st, nil
	}
}

func renameSession(id, name string, now time.Time) Reducer {
	return func(st State) (State, error) {
		i := st.indexOf(id)
		if i < 0 {
			return st, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		st.Sessions = st.copySessions()
		st.Sessions[i].Name = name
		st.Sessions[i].UpdatedAt = now
		return st, nil
	}
}

// deleteSession removes a session. When it was the current one, the most
// recently updated survivor becomes current; when none survives a fresh
// session is created so the list is never empty.
func deleteSession(id, freshID string, now time.Time) Reducer {
	return func(st State) (State, error) {
		i := st.indexOf(id)
		if i < 0 {
			return st, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		sessions := st.copySessions()
		st.Sessions = append(sessions[:i], sessions[i+1:]...)
		if len(st.Sessions) == 0 {
			return createSession(freshID, DefaultSessionName, now)(st)
		}
		if st.CurrentSessionID == id {
			st.CurrentSessionID = st.Sessions[st.mostRecentlyUpdated()].ID
		}
		return st, nil
	}
}

func clearSession(id string, now time.Time) Reducer {
	return func(st State) (State, error) {
		i := st.indexOf(st.resolve(id))
		if i < 0 {
			return st, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		st.Sessions = st.copySessions()
		st.Sessions[i].Messages = []Message{}
		st.Sessions[i].UpdatedAt = now
		return st, nil
	}
}

func appendMessages(sessionID string, now time.Time, msgs ...Message) Reducer {
	return func(st State) (State, error) {
		i := st.indexOf(st.resolve(sessionID))
		if i < 0 {
			return st, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		st.Sessions = st.copySessions()
		s := st.Sessions[i]
		s.Messages = append(append([]Message(nil), s.Messages...), msgs...)
		s.UpdatedAt = now
		st.Sessions[i] = s
		return st, nil
	}
}

func findMessage(st State, messageID string) (int, int) {
	for i, s := range st.Sessions {
		for j, m := range s.Messages {
			if m.ID == messageID {
				return i, j
			}
		}
	}
	return -1, -1
}

// updateMessage finds a message by id in any session and replaces it with
// what fn returns. Messages that reached a terminal status are sticky.
func updateMessage(messageID string, now time.Time, fn func(Message) Message) Reducer {
	return func(st State) (State, error) {
		i, j := findMessage(st, messageID)
		if i < 0 {
			return st, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
		}
		current := st.Sessions[i].Messages[j]
		if current.Status().Terminal() {
			return st, fmt.Errorf("%w: %s is %s", ErrMessageSettled, messageID, current.Status())
		}
		updated := fn(current.clone())
		updated.ID = current.ID

		st.Sessions = st.copySessions()
		s := st.Sessions[i]
		s.Messages = append([]Message(nil), s.Messages...)
		s.Messages[j] = updated
		s.UpdatedAt = now
		st.Sessions[i] = s
		return st, nil
	}
}

// settleMessage moves a placeholder to its terminal status.
func settleMessage(messageID string, now time.Time, res Settlement) Reducer {
	return func(st State) (State, error) {
		if !res.Status.Terminal() {
			return st, fmt.Errorf("cannot settle %s with status %q", messageID, res.Status)
		}
		return updateMessage(messageID, now, func(m Message) Message {
			a := m.Content.Assistant
			if a == nil {
				a = &AssistantContent{}
			}
			a.Status = res.Status
			if res.Status == StatusSucceeded {
				a.Outputs = append([]string(nil), res.Outputs...)
				a.IsVideo = res.IsVideo
				a.Seed = res.Seed
				a.Error = ""
			} else {
				a.Outputs = nil
				a.Seed = nil
				a.Error = res.Error
			}
			m.Content.Assistant = a
			return m
		})(st)
	}
}

func deleteMessage(sessionID, messageID string, now time.Time) Reducer {
	return func(st State) (State, error) {
		i := st.indexOf(st.resolve(sessionID))
		if i < 0 {
			return st, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		s := st.Sessions[i]
		for j, m := range s.Messages {
			if m.ID != messageID {
				continue
			}
			st.Sessions = st.copySessions()
			msgs := append([]Message(nil), s.Messages[:j]...)
			s.Messages = append(msgs, s.Messages[j+1:]...)
			s.UpdatedAt = now
			st.Sessions[i] = s
			return st, nil
		}
		return st, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
}

func setAutoAttachDisabled(disabled bool) Reducer {
	return func(st State) (State, error) {
		st.AutoAttachDisabled = disabled
		return st, nil
	}
}

// pruneIdle drops sessions not updated since cutoff, keeping the invariants
// of deleteSession.
func pruneIdle(cutoff time.Time, freshID string, now time.Time) Reducer {
	return func(st State) (State, error) {
		kept := make([]Session, 0, len(st.Sessions))
		for _, s := range st.Sessions {
			if !s.UpdatedAt.Before(cutoff) {
				kept = append(kept, s)
			}
		}
		if len(kept) == len(st.Sessions) {
			return st, nil
		}
		st.Sessions = kept
		if len(kept) == 0 {
			return createSession(freshID, DefaultSessionName, now)(st)
		}
		if st.indexOf(st.CurrentSessionID) < 0 {
			st.CurrentSessionID = st.Sessions[st.mostRecentlyUpdated()].ID
		}
		return failOrphans(st), nil
	}
}

// failOrphans settles every processing placeholder as failed. UpdatedAt is
// left alone so retention still sees the last real activity.
func failOrphans(st State) State {
	copied := false
	for i := range st.Sessions {
		var msgs []Message
		for j, m := range st.Sessions[i].Messages {
			if m.Role != RoleAssistant || m.Status() != StatusProcessing {
				continue
			}
			if !copied {
				st.Sessions = st.copySessions()
				copied = true
			}
			if msgs == nil {
				msgs = append([]Message(nil), st.Sessions[i].Messages...)
			}
			m = m.clone()
			m.Content.Assistant.Status = StatusFailed
			m.Content.Assistant.Outputs = nil
			m.Content.Assistant.Seed = nil
			m.Content.Assistant.Error = InterruptedGeneration
			msgs[j] = m
		}
		if msgs != nil {
			st.Sessions[i].Messages = msgs
		}
	}
	return st
}

// normalize repairs a hydrated state: at least one session and a valid
// current pointer.
func normalize(freshID string, now time.Time) Reducer {
	return func(st State) (State, error) {
		if len(st.Sessions) == 0 {
			return createSession(freshID, DefaultSessionName, now)(st)
		}
		if st.indexOf(st.CurrentSessionID) < 0 {
			st.CurrentSessionID = st.Sessions[st.mostRecentlyUpdated()].ID
		}
		return st, nil
	}
}

// bounded returns the State to persist: at most maxSessions sessions, the
// current one plus the most recently updated others, each holding its newest
// maxMessages messages. Session order is preserved.
func bounded(st State, maxSessions, maxMessages int) State {
	keep := map[string]bool{}
	if maxSessions > 0 && len(st.Sessions) > maxSessions {
		order := append([]Session(nil), st.Sessions...)
		sort.SliceStable(order, func(a, b int) bool {
			if order[a].ID == st.CurrentSessionID {
				return true
			}
			if order[b].ID == st.CurrentSessionID {
				return false
			}
			return order[a].UpdatedAt.After(order[b].UpdatedAt)
		})
		for _, s := range order[:maxSessions] {
			keep[s.ID] = true
		}
	}

	out := State{CurrentSessionID: st.CurrentSessionID, AutoAttachDisabled: st.AutoAttachDisabled}
	for _, s := range st.Sessions {
		if len(keep) > 0 && !keep[s.ID] {
			continue
		}
		if maxMessages > 0 && len(s.Messages) > maxMessages {
			s.Messages = s.Messages[len(s.Messages)-maxMessages:]
		}
		out.Sessions = append(out.Sessions, s)
	}
	return out
}
