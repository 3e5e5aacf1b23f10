package collab

import (
	"sort"
	"sync"
)

// PresenceRecord describes one connected collaborator
type PresenceRecord struct {
	UserID      string     `json:"user_id" validate:"required"`
	Username    string     `json:"username,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
	AvatarColor string     `json:"avatar_color,omitempty"`
	ActiveFile  string     `json:"active_file,omitempty"`
	Cursor      *Cursor    `json:"cursor,omitempty"`
	Selection   *Selection `json:"selection,omitempty"`
}

func (p PresenceRecord) clone() PresenceRecord {
	if p.Cursor != nil {
		c := *p.Cursor
		p.Cursor = &c
	}
	if p.Selection != nil {
		s := *p.Selection
		p.Selection = &s
	}
	return p
}

// Roster is the set of active collaborators keyed by user id. Cursor and
// selection updates overwrite in place. Safe for concurrent use.
type Roster struct {
	mu    sync.RWMutex
	users map[string]PresenceRecord
}

// NewRoster creates an empty roster
func NewRoster() *Roster {
	return &Roster{users: make(map[string]PresenceRecord)}
}

// Join adds or replaces a collaborator. It reports whether the user was new.
func (r *Roster) Join(p PresenceRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, existed := r.users[p.UserID]
	r.users[p.UserID] = p.clone()
	return !existed
}

// Leave removes a collaborator. It reports whether the user was present.
func (r *Roster) Leave(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.users[userID]
	delete(r.users, userID)
	return ok
}

// Reset replaces the whole roster, as on presence_sync
func (r *Roster) Reset(users []PresenceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.users = make(map[string]PresenceRecord, len(users))
	for _, u := range users {
		r.users[u.UserID] = u.clone()
	}
}

// UpdateCursor overwrites a user's cursor. Unknown users are ignored.
func (r *Roster) UpdateCursor(userID string, c Cursor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.users[userID]
	if !ok {
		return false
	}
	p.Cursor = &c
	if c.File != "" {
		p.ActiveFile = c.File
	}
	r.users[userID] = p
	return true
}

// UpdateSelection overwrites a user's selection. Unknown users are ignored.
func (r *Roster) UpdateSelection(userID string, s Selection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.users[userID]
	if !ok {
		return false
	}
	p.Selection = &s
	if s.File != "" {
		p.ActiveFile = s.File
	}
	r.users[userID] = p
	return true
}

// Get returns a copy of one record
func (r *Roster) Get(userID string) (PresenceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.users[userID]
	return p.clone(), ok
}

// List returns copies of all records ordered by user id
func (r *Roster) List() []PresenceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PresenceRecord, 0, len(r.users))
	for _, p := range r.users {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Len returns the number of collaborators
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
