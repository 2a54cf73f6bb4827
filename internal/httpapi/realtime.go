package httpapi

import (
	"errors"
	"net/http"

	"qms/walkin-queue/internal/auth"
	"qms/walkin-queue/internal/hub"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/rs/zerolog"
)

const RealtimePrefix = "/realtime"

// realtimeConn is the part of a sockjs session the realtime loop needs.
type realtimeConn interface {
	Request() *http.Request
	Recv() (string, error)
	Send(string) error
	Close(status uint32, reason string) error
}

type Realtime struct {
	hub      *hub.Hub
	resolver SessionResolver
	buffer   int
	logger   zerolog.Logger
}

func NewRealtime(h *hub.Hub, resolver SessionResolver, buffer int, logger zerolog.Logger) *Realtime {
	return &Realtime{hub: h, resolver: resolver, buffer: buffer, logger: logger}
}

// Handler serves the sockjs endpoint. Mount it on RealtimePrefix + "/".
func (rt *Realtime) Handler() http.Handler {
	return sockjs.NewHandler(RealtimePrefix, sockjs.DefaultOptions, func(session sockjs.Session) {
		rt.serve(session)
	})
}

// serve runs one connection. Display screens connect without a session and
// may only join the public topic; staff present their session id.
func (rt *Realtime) serve(conn realtimeConn) {
	req := conn.Request()
	var subscriber hub.Subscriber
	if sessionID := sessionIDFromRequest(req); sessionID != "" {
		member, err := rt.resolver.Resolve(req.Context(), sessionID)
		if err != nil {
			if !errors.Is(err, auth.ErrSessionNotFound) {
				rt.logger.Error().Err(err).Msg("resolve realtime session")
			}
			_ = conn.Close(4002, "invalid session")
			return
		}
		subscriber = hub.Subscriber{StaffID: member.StaffID, Role: member.Role, ServiceName: member.ServiceName}
	}

	client := hub.NewClient(uuid.NewString(), subscriber, rt.buffer)
	rt.hub.Register(client)
	defer rt.hub.Unregister(client)

	go func() {
		for msg := range client.Send {
			if err := conn.Send(string(msg)); err != nil {
				return
			}
		}
	}()

	for {
		msg, err := conn.Recv()
		if err != nil {
			return
		}
		parsed, ok := hub.ParseSubscribe([]byte(msg))
		if !ok {
			continue
		}
		if parsed.Action == "unsubscribe" {
			rt.hub.Leave(client, parsed.Topic)
			continue
		}
		if !rt.hub.Join(client, parsed.Topic) {
			rt.logger.Warn().Str("client_id", client.ID).Str("topic", parsed.Topic).Msg("subscription denied")
			_ = conn.Close(4003, "access denied")
			return
		}
	}
}
