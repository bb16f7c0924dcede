package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/cluster"
	"github.com/trailmark/backend/internal/mapview"
	"github.com/trailmark/backend/internal/middleware"
	"github.com/trailmark/backend/internal/models"
	"github.com/trailmark/backend/internal/services"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMessage = 4096
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Token auth happens before the upgrade; native app clients do not send
	// a browser Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// mapClientMessage is what the client sends over the socket: camera events,
// focus changes and cluster expansions.
type mapClientMessage struct {
	Type string `json:"type"`

	// Viewport fields, for type "viewport".
	MinLng float64 `json:"minLng"`
	MinLat float64 `json:"minLat"`
	MaxLng float64 `json:"maxLng"`
	MaxLat float64 `json:"maxLat"`
	Zoom   float64 `json:"zoom"`

	// Focus field, for type "focus". Empty clears focus mode.
	CreatorID string `json:"creator_id"`

	// Expand fields, for type "expand".
	ClusterID int64 `json:"cluster_id"`
	Limit     int   `json:"limit"`
}

// mapFrame is one server push: a "view" frame carrying the full render list
// for the session's current viewport, or a "leaves" frame answering an
// expand request.
type mapFrame struct {
	Type      string       `json:"type"`
	Nodes     []MapNode    `json:"nodes,omitempty"`
	ClusterID int64        `json:"cluster_id,omitempty"`
	Pins      []models.Pin `json:"pins,omitempty"`
}

// mapSession is one connected client: a socket plus its own pipeline and
// debounce tracker. The pipeline holds the viewer's relations, so render
// lists never mix across viewers.
type mapSession struct {
	userID string
	conn   *websocket.Conn
	pipe   *mapview.Pipeline
	track  *mapview.Tracker
	// frames carries reply frames (cluster expansions) from the read side to
	// the single writer goroutine.
	frames chan mapFrame

	mu      sync.Mutex
	vp      mapview.Viewport
	haveVP  bool
	focusID string
}

func (s *mapSession) readViewport() (mapview.Viewport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vp, s.haveVP
}

// MapSocketHandler runs the live map feed. It keeps one pipeline per
// connection and fans data changes out to all of them, so every connected
// client re-renders when pins, stories or relations move underneath it.
type MapSocketHandler struct {
	pins     *services.PinService
	stories  *services.StoryService
	profiles RelationSource
	opts     cluster.Options
	log      *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[*mapSession]struct{}
}

func NewMapSocketHandler(pins *services.PinService, stories *services.StoryService, profiles RelationSource, opts cluster.Options) *MapSocketHandler {
	h := &MapSocketHandler{
		pins:     pins,
		stories:  stories,
		profiles: profiles,
		opts:     opts,
		log:      zap.S(),
		sessions: make(map[*mapSession]struct{}),
	}

	pins.OnChange(func(snapshot []models.Pin) {
		h.eachSession(func(s *mapSession) { s.pipe.SetPins(snapshot) })
	})
	stories.OnChange(func(snapshot []models.Story) {
		h.eachSession(func(s *mapSession) { s.pipe.SetStories(snapshot) })
	})

	return h
}

func (h *MapSocketHandler) eachSession(fn func(*mapSession)) {
	h.mu.Lock()
	sessions := make([]*mapSession, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		fn(s)
	}
}

// RefreshRelations re-resolves relations for every session belonging to
// userID. Wired to profile change notifications so friend and hide edits
// reach open maps without a reconnect.
func (h *MapSocketHandler) RefreshRelations(userID string) {
	h.eachSession(func(s *mapSession) {
		if s.userID != userID {
			return
		}
		rel := h.profiles.VisibilityFor(s.userID)
		s.mu.Lock()
		rel.FocusCreatorID = s.focusID
		s.mu.Unlock()
		s.pipe.SetRelations(rel)
	})
}

// Serve upgrades the request and runs the session until the client goes
// away. Must sit behind auth middleware.
func (h *MapSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("[map-ws] upgrade failed", "error", err)
		return
	}

	s := &mapSession{
		userID: userID,
		conn:   conn,
		pipe:   mapview.NewPipeline(h.opts, h.log),
		frames: make(chan mapFrame, 4),
	}
	s.track = mapview.NewTracker(mapview.DebounceWindow, nil, s.readViewport, s.pipe.SetViewport)

	rel := h.profiles.VisibilityFor(userID)
	s.pipe.SetRelations(rel)
	s.pipe.SetStories(h.stories.Snapshot())
	s.pipe.SetPins(h.pins.Snapshot())

	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	h.log.Infow("[map-ws] session opened", "user_id", userID)

	go h.writePump(s)
	h.readPump(s)
}

func (h *MapSocketHandler) closeSession(s *mapSession) {
	h.mu.Lock()
	_, open := h.sessions[s]
	delete(h.sessions, s)
	h.mu.Unlock()
	if !open {
		return
	}
	s.track.Stop()
	s.conn.Close()
	h.log.Infow("[map-ws] session closed", "user_id", s.userID)
}

func (h *MapSocketHandler) readPump(s *mapSession) {
	defer h.closeSession(s)

	s.conn.SetReadLimit(wsMaxMessage)
	s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		var msg mapClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warnw("[map-ws] read error", "user_id", s.userID, "error", err)
			}
			return
		}

		switch msg.Type {
		case "viewport":
			vp := mapview.Viewport{
				Bounds: cluster.Bounds{
					MinLng: msg.MinLng,
					MinLat: msg.MinLat,
					MaxLng: msg.MaxLng,
					MaxLat: msg.MaxLat,
				},
				Zoom: msg.Zoom,
			}
			s.mu.Lock()
			s.vp = vp
			s.haveVP = true
			s.mu.Unlock()
			// Raw camera event; the tracker decides when it becomes a
			// viewport.
			s.track.Observe()

		case "focus":
			s.mu.Lock()
			s.focusID = msg.CreatorID
			s.mu.Unlock()
			rel := h.profiles.VisibilityFor(s.userID)
			rel.FocusCreatorID = msg.CreatorID
			s.pipe.SetRelations(rel)

		case "expand":
			limit := msg.Limit
			if limit <= 0 {
				limit = 100
			}
			leaves := s.pipe.Leaves(msg.ClusterID, limit)
			pins := make([]models.Pin, 0, len(leaves))
			for _, p := range leaves {
				pins = append(pins, p.Pin)
			}
			select {
			case s.frames <- mapFrame{Type: "leaves", ClusterID: msg.ClusterID, Pins: pins}:
			default:
				// Writer is saturated; the client can re-tap.
			}

		default:
			h.log.Debugw("[map-ws] unknown message type", "user_id", s.userID, "type", msg.Type)
		}
	}
}

func (h *MapSocketHandler) writePump(s *mapSession) {
	sub := s.pipe.Subscribe()
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		sub.Stop()
		h.closeSession(s)
	}()

	for {
		select {
		case nodes, ok := <-sub.C:
			if !ok {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			frame := mapFrame{Type: "view", Nodes: toMapNodes(nodes, s.pipe)}
			if err := s.conn.WriteJSON(frame); err != nil {
				return
			}

		case frame := <-s.frames:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
