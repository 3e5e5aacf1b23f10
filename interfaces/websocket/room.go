package websocket

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"proofcanvas/application/workspace"
	"proofcanvas/domain/canvas"
	"proofcanvas/domain/collab"
)

// relayMessage is what travels over the broker. Origin is the sending
// connection, which never receives its own message back.
type relayMessage struct {
	Origin   string          `json:"origin"`
	Instance string          `json:"instance"`
	Envelope json.RawMessage `json:"envelope"`
}

// Room is the relay state of one problem: the local connections, who is
// present, and the latest canvas and documents for late joiners.
type Room struct {
	id  string
	hub *Hub

	mu        sync.Mutex
	clients   map[*Client]struct{}
	userConns map[string]int
	roster    *collab.Roster
	graph     *canvas.Graph
	docs      map[string]string
	idleSince time.Time
	cancel    func()
}

func newRoom(id string, hub *Hub, limits canvas.Limits) *Room {
	return &Room{
		id:        id,
		hub:       hub,
		clients:   make(map[*Client]struct{}),
		userConns: make(map[string]int),
		roster:    collab.NewRoster(),
		graph:     canvas.NewGraph(id, limits),
		docs:      make(map[string]string),
	}
}

// join sends the welcome to c and adds it to the room in one step, so
// anything relayed afterwards reaches c after its welcome. first reports
// whether this is the user's first connection here.
func (r *Room) join(c *Client) (first bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	welcome, err := r.welcomeLocked(c)
	if err != nil {
		return false, err
	}
	for _, env := range welcome {
		c.enqueueEnvelope(env)
	}

	r.clients[c] = struct{}{}
	r.userConns[c.UserID()]++
	r.idleSince = time.Time{}
	r.roster.Join(c.presence())
	return r.userConns[c.UserID()] == 1, nil
}

// remove drops c. last reports whether the user has no connection left here.
func (r *Room) remove(c *Client) (present, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; !ok {
		return false, false
	}
	delete(r.clients, c)
	r.userConns[c.UserID()]--
	if r.userConns[c.UserID()] <= 0 {
		delete(r.userConns, c.UserID())
		r.roster.Leave(c.UserID())
		last = true
	}
	if len(r.clients) == 0 {
		r.idleSince = time.Now()
	}
	return true, last
}

func (r *Room) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *Room) idleFor(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.clients) > 0 || r.idleSince.IsZero() {
		return 0
	}
	return now.Sub(r.idleSince)
}

func (r *Room) members() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	return out
}

// welcomeLocked returns what a newcomer needs: the peers already present,
// then the latest canvas and every known document
func (r *Room) welcomeLocked(c *Client) ([]collab.Envelope, error) {
	peers := []collab.PresenceRecord{}
	for _, p := range r.roster.List() {
		if p.UserID != c.UserID() {
			peers = append(peers, p)
		}
	}

	out := make([]collab.Envelope, 0, 2+len(r.docs))
	env, err := collab.NewEnvelope(collab.TypePresenceSync, r.id, collab.PresenceSync{Users: peers})
	if err != nil {
		return nil, err
	}
	out = append(out, env)

	if r.graph.Version() > 0 {
		s := r.graph.Snapshot()
		env, err := collab.NewEnvelope(collab.TypeCanvasSync, r.id, collab.CanvasSync{Nodes: s.Nodes, Edges: s.Edges})
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}

	paths := make([]string, 0, len(r.docs))
	for p := range r.docs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		env, err := collab.NewEnvelope(collab.TypeDocumentSync, r.id, collab.DocumentSync{Path: p, Content: r.docs[p]})
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

// apply folds a validated envelope into the room state. Canvas changes are
// last write wins; the domain events they raised are returned.
func (r *Room) apply(env collab.Envelope) ([]canvas.DomainEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch env.Type {
	case collab.TypeCursorMove:
		var p collab.Cursor
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		r.roster.UpdateCursor(env.UserID, p)

	case collab.TypeSelectionChange:
		var p collab.Selection
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		r.roster.UpdateSelection(env.UserID, p)

	case collab.TypeUserJoined:
		var p collab.PresenceRecord
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		r.roster.Join(p)

	case collab.TypeUserLeft:
		var p collab.UserLeft
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		if r.userConns[p.UserID] == 0 {
			r.roster.Leave(p.UserID)
		}

	case collab.TypeDocumentSync:
		var p collab.DocumentSync
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		r.docs[p.Path] = p.Content

	case collab.TypeDocumentEdit:
		var p collab.DocumentEdit
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		next, err := p.Apply(r.docs[p.Path])
		if err != nil {
			return nil, err
		}
		r.docs[p.Path] = next

	default:
		if !collab.IsMutation(env.Type) {
			return nil, nil
		}
		_, err := workspace.ApplyEnvelope(r.graph, env)
		events := r.graph.PendingEvents()
		r.graph.MarkEventsCommitted()
		if err != nil {
			return nil, err
		}
		return events, nil
	}
	return nil, nil
}

// deliver is the broker handler: it hands a relayed envelope to every local
// connection except the origin. State from other instances is folded in first.
func (r *Room) deliver(data []byte) {
	var msg relayMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		r.hub.logger.Warn("Dropping malformed relay message", zap.String("problemID", r.id), zap.Error(err))
		return
	}

	var typ collab.MessageType
	if msg.Instance != r.hub.instance {
		env, err := collab.ParseEnvelope(msg.Envelope)
		if err != nil {
			r.hub.logger.Warn("Dropping malformed relayed envelope", zap.String("problemID", r.id), zap.Error(err))
			return
		}
		typ = env.Type
		if _, err := r.apply(env); err != nil {
			r.hub.logger.Debug("Relayed envelope not applied to room state",
				zap.String("problemID", r.id),
				zap.String("type", string(env.Type)),
				zap.Error(err),
			)
		}
	} else {
		var head struct {
			Type collab.MessageType `json:"type"`
		}
		json.Unmarshal(msg.Envelope, &head)
		typ = head.Type
	}

	delivered := 0
	for _, c := range r.members() {
		if c.id == msg.Origin {
			continue
		}
		if !c.enqueue(msg.Envelope) {
			r.hub.logger.Warn("Closing slow client",
				zap.String("userID", c.UserID()),
				zap.String("connectionID", c.id),
			)
			r.hub.dropClient(c)
			continue
		}
		delivered++
	}
	if r.hub.metrics != nil && delivered > 0 {
		r.hub.metrics.MessagesRelayed.WithLabelValues(string(typ)).Add(float64(delivered))
	}
}

// RoomState is a point-in-time view of a room held by this instance
type RoomState struct {
	ProblemID   string                  `json:"problem_id"`
	Connections int                     `json:"connections"`
	Users       []collab.PresenceRecord `json:"users"`
	Canvas      canvas.Snapshot         `json:"canvas"`
	Version     int                     `json:"version"`
	Documents   []string                `json:"documents"`
}

func (r *Room) state() RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs := make([]string, 0, len(r.docs))
	for p := range r.docs {
		docs = append(docs, p)
	}
	sort.Strings(docs)
	return RoomState{
		ProblemID:   r.id,
		Connections: len(r.clients),
		Users:       r.roster.List(),
		Canvas:      r.graph.Snapshot(),
		Version:     r.graph.Version(),
		Documents:   docs,
	}
}
