package websocket

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"proofcanvas/application/ports"
	"proofcanvas/domain/collab"
	"proofcanvas/pkg/auth"
	appErrors "proofcanvas/pkg/errors"
)

// Server upgrades authenticated requests into relay connections
type Server struct {
	hub       *Hub
	upgrader  websocket.Upgrader
	jwt       *auth.JWTService
	limits    LimitsSource
	presence  ports.PresenceStore
	ipLimiter *auth.SlidingWindowLimiter
	connRate  int
	errors    *appErrors.ErrorHandler
	logger    *zap.Logger
}

// ServerConfig holds WebSocket server configuration
type ServerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	// AllowedOrigins lists accepted Origin headers; "*" accepts any
	AllowedOrigins []string
	// ConnectRateLimit caps upgrade attempts per client IP per minute
	ConnectRateLimit int
}

// DefaultServerConfig returns default WebSocket server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		AllowedOrigins:   []string{"*"},
		ConnectRateLimit: 60,
	}
}

// NewServer creates a WebSocket server. presence may be nil, in which case
// the per-user connection limit only counts this instance.
func NewServer(hub *Hub, jwt *auth.JWTService, limits LimitsSource, presence ports.PresenceStore, cfg ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConnectRateLimit <= 0 {
		cfg.ConnectRateLimit = DefaultServerConfig().ConnectRateLimit
	}
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
		jwt:       jwt,
		limits:    limits,
		presence:  presence,
		ipLimiter: auth.NewSlidingWindowLimiter(cfg.ConnectRateLimit, time.Minute),
		connRate:  cfg.ConnectRateLimit,
		errors:    appErrors.NewErrorHandler(logger),
		logger:    logger,
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// HandleWebSocket handles upgrade requests on /ws?problemId=...
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	problemID := r.URL.Query().Get("problemId")
	if problemID == "" {
		s.errors.Handle(w, r, appErrors.NewValidationError("problemId is required"))
		return
	}

	ip := clientIP(r)
	if ok, _ := s.ipLimiter.Allow(r.Context(), ip); !ok {
		s.errors.Handle(w, r, appErrors.NewLimitError("connection attempts per minute", s.connRate))
		return
	}

	identity, err := s.jwt.ValidateToken(auth.TokenFromRequest(r))
	if err != nil {
		s.errors.Handle(w, r, appErrors.NewUnauthorizedError("invalid or missing token").WithCause(err))
		return
	}

	limits := s.limits.Current()
	if n := s.connectionCount(r.Context(), identity.UserID); n >= limits.MaxConnectionsPerUser {
		s.errors.Handle(w, r, appErrors.NewLimitError("connections per user", limits.MaxConnectionsPerUser).
			WithDetails(map[string]interface{}{"user_id": identity.UserID, "current": n}))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection",
			zap.Error(err),
			zap.String("remoteAddr", ip),
		)
		return
	}

	client := NewClient(*identity, problemID, conn, limits.MaxMessageBytes, s.hub, s.logger)
	if err := s.hub.Register(client); err != nil {
		s.refuse(conn, problemID, err)
		return
	}
	client.Start()

	s.logger.Info("New WebSocket connection established",
		zap.String("userID", identity.UserID),
		zap.String("connectionID", client.ID()),
		zap.String("problemID", problemID),
		zap.String("remoteAddr", ip),
	)
}

// connectionCount prefers the shared presence table so the limit holds
// across relay instances
func (s *Server) connectionCount(ctx context.Context, userID string) int {
	local := s.hub.ConnectionCount(userID)
	if s.presence == nil {
		return local
	}
	n, err := s.presence.CountByUser(ctx, userID)
	if err != nil {
		s.logger.Warn("Presence count failed, using local count", zap.String("userID", userID), zap.Error(err))
		return local
	}
	if n < local {
		return local
	}
	return n
}

// refuse tells an upgraded client why it was not admitted, then closes
func (s *Server) refuse(conn *websocket.Conn, problemID string, err error) {
	s.logger.Warn("Connection refused", zap.String("problemID", problemID), zap.Error(err))
	if env, e := collab.NewEnvelope(collab.TypeError, problemID, collab.ErrorPayloadFrom(err)); e == nil {
		if data, e := env.Marshal(); e == nil {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.TextMessage, data)
		}
	}
	code := websocket.CloseTryAgainLater
	if appErrors.IsClosed(err) {
		code = websocket.CloseGoingAway
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
	conn.Close()
}

// PruneLimiter drops stale connect-rate windows
func (s *Server) PruneLimiter() int {
	return s.ipLimiter.Prune()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
