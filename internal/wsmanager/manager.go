package wsmanager

// Snapshotter mirrors a session's group membership to an external store, per
// SPEC_FULL.md §3.1's SessionSnapshot. internal/connector/sessionstore.Store
// satisfies this structurally; the manager never imports that package
// directly, keeping the snapshot mechanism swappable and optional.
type Snapshotter interface {
	SaveGroups(sessionID string, groups []string)
	Forget(sessionID string)
}

// SessionManager owns the process-wide sessions and groups tables. It is a
// singleton for the lifetime of the Dispatcher (see SPEC_FULL.md §9, Global
// state).
type SessionManager struct {
	sessions map[string]*Session
	groups   map[string]map[string]struct{}
	store    Snapshotter

	registerCh   chan *Session
	unregisterCh chan string
	groupCh      chan groupOp
	sendGroupCh  chan sendToGroupOp
	broadcastCh  chan broadcastOp
	snapshotCh   chan func(sessions map[string]*Session, groups map[string]map[string]struct{})

	done chan struct{}
}

type groupOp struct {
	sessionID string
	group     string
	add       bool
}

type sendToGroupOp struct {
	group   string
	message []byte
}

type broadcastOp struct {
	message []byte
	exclude map[string]struct{}
}

// NewSessionManager starts the manager's single-writer goroutine and returns
// the handle. Call Shutdown to stop it.
func NewSessionManager() *SessionManager {
	return NewSessionManagerWithStore(nil)
}

// NewSessionManagerWithStore is NewSessionManager with a Snapshotter wired
// in; every group mutation mirrors that session's resulting group list to
// store, and unregister forgets it. A nil store means in-memory-only,
// exactly as the teacher's cache package degrades when Redis is disabled.
func NewSessionManagerWithStore(store Snapshotter) *SessionManager {
	m := &SessionManager{
		sessions:     make(map[string]*Session),
		groups:       make(map[string]map[string]struct{}),
		store:        store,
		registerCh:   make(chan *Session),
		unregisterCh: make(chan string),
		groupCh:      make(chan groupOp),
		sendGroupCh:  make(chan sendToGroupOp),
		broadcastCh:  make(chan broadcastOp),
		snapshotCh:   make(chan func(map[string]*Session, map[string]map[string]struct{})),
		done:         make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *SessionManager) run() {
	for {
		select {
		case s := <-m.registerCh:
			m.sessions[s.ID] = s

		case id := <-m.unregisterCh:
			if s, ok := m.sessions[id]; ok {
				delete(m.sessions, id)
				for group, members := range m.groups {
					delete(members, id)
					if len(members) == 0 {
						delete(m.groups, group)
					}
				}
				s.close()
				if m.store != nil {
					go m.store.Forget(id)
				}
			}

		case op := <-m.groupCh:
			m.applyGroupOp(op)

		case req := <-m.sendGroupCh:
			for id := range m.groups[req.group] {
				if s, ok := m.sessions[id]; ok {
					_ = s.Send(req.message)
				}
			}

		case req := <-m.broadcastCh:
			for id, s := range m.sessions {
				if _, skip := req.exclude[id]; skip {
					continue
				}
				_ = s.Send(req.message)
			}

		case fn := <-m.snapshotCh:
			fn(m.sessions, m.groups)

		case <-m.done:
			return
		}
	}
}

func (m *SessionManager) applyGroupOp(op groupOp) {
	if op.add {
		if _, ok := m.sessions[op.sessionID]; !ok {
			return
		}
		members, ok := m.groups[op.group]
		if !ok {
			members = make(map[string]struct{})
			m.groups[op.group] = members
		}
		members[op.sessionID] = struct{}{}
	} else if members, ok := m.groups[op.group]; ok {
		delete(members, op.sessionID)
		if len(members) == 0 {
			delete(m.groups, op.group)
		}
	}
	m.snapshotSession(op.sessionID)
}

// snapshotSession mirrors sessionID's current group list to the store, if
// configured. Run off the single-writer goroutine so a slow or unreachable
// store never stalls group mutations.
func (m *SessionManager) snapshotSession(sessionID string) {
	if m.store == nil {
		return
	}
	groups := make([]string, 0, len(m.groups))
	for group, members := range m.groups {
		if _, ok := members[sessionID]; ok {
			groups = append(groups, group)
		}
	}
	go m.store.SaveGroups(sessionID, groups)
}

// NewSession creates and registers a new session under id, returning the
// handle the listener should drain via Session.Outbound().
func (m *SessionManager) NewSession(id string) *Session {
	s := newSession(id)
	m.registerCh <- s
	return s
}

// Unregister removes id from the manager and from every group it belonged
// to, purging any group left empty.
func (m *SessionManager) Unregister(id string) {
	m.unregisterCh <- id
}

// AddToGroup is a no-op if sessionID is not currently registered.
func (m *SessionManager) AddToGroup(sessionID, group string) {
	m.groupCh <- groupOp{sessionID: sessionID, group: group, add: true}
}

func (m *SessionManager) RemoveFromGroup(sessionID, group string) {
	m.groupCh <- groupOp{sessionID: sessionID, group: group, add: false}
}

// SendToGroup enqueues message on every session currently in group.
func (m *SessionManager) SendToGroup(group string, message []byte) {
	m.sendGroupCh <- sendToGroupOp{group: group, message: message}
}

// Broadcast enqueues message on every registered session except those named
// in exclude.
func (m *SessionManager) Broadcast(message []byte, exclude ...string) {
	excl := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excl[id] = struct{}{}
	}
	m.broadcastCh <- broadcastOp{message: message, exclude: excl}
}

// Get returns the session registered under id, if any.
func (m *SessionManager) Get(id string) (*Session, bool) {
	var result *Session
	var ok bool
	reply := make(chan struct{})
	m.snapshotCh <- func(sessions map[string]*Session, _ map[string]map[string]struct{}) {
		result, ok = sessions[id]
		close(reply)
	}
	<-reply
	return result, ok
}

// GroupMembers returns a point-in-time copy of group's member session ids.
func (m *SessionManager) GroupMembers(group string) []string {
	var out []string
	reply := make(chan struct{})
	m.snapshotCh <- func(_ map[string]*Session, groups map[string]map[string]struct{}) {
		members := groups[group]
		out = make([]string, 0, len(members))
		for id := range members {
			out = append(out, id)
		}
		close(reply)
	}
	<-reply
	return out
}

// Groups returns a point-in-time copy of all non-empty group names.
func (m *SessionManager) Groups() []string {
	var out []string
	reply := make(chan struct{})
	m.snapshotCh <- func(_ map[string]*Session, groups map[string]map[string]struct{}) {
		out = make([]string, 0, len(groups))
		for g := range groups {
			out = append(out, g)
		}
		close(reply)
	}
	<-reply
	return out
}

// SessionCount returns the number of currently registered sessions.
func (m *SessionManager) SessionCount() int {
	var n int
	reply := make(chan struct{})
	m.snapshotCh <- func(sessions map[string]*Session, _ map[string]map[string]struct{}) {
		n = len(sessions)
		close(reply)
	}
	<-reply
	return n
}

// Shutdown stops the manager's goroutine. Registered sessions are not
// individually closed; callers should unregister them first if a clean
// drain is required.
func (m *SessionManager) Shutdown() {
	close(m.done)
}
