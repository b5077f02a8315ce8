package connect

import (
	"context"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/osa030/voicebox/internal/app/notification"
	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/app/session"
	"github.com/osa030/voicebox/internal/domain/track"
)

const (
	// AdminServiceName is the fully-qualified name of the AdminService service.
	AdminServiceName = "voicebox.admin.v1.AdminService"

	ListSessionsProcedure = "/" + AdminServiceName + "/ListSessions"
	SkipProcedure         = "/" + AdminServiceName + "/Skip"
	StopProcedure         = "/" + AdminServiceName + "/Stop"
	ClearProcedure        = "/" + AdminServiceName + "/Clear"
	WatchNoticesProcedure = "/" + AdminServiceName + "/WatchNotices"
)

// SessionController is the part of the session manager exposed to admins.
type SessionController interface {
	Sessions() []playback.Snapshot
	Skip(guildID string) error
	Stop(guildID string) bool
	Clear(guildID string) (int, error)
}

// NoticeSource delivers session notifications.
type NoticeSource interface {
	Subscribe(sub notification.Subscriber) string
	Unsubscribe(subscriptionID string)
}

// AdminService implements the AdminService RPC.
type AdminService struct {
	sessions SessionController
	notices  NoticeSource
}

// NewAdminService creates a new AdminService.
func NewAdminService(sessions SessionController, notices NoticeSource) *AdminService {
	return &AdminService{
		sessions: sessions,
		notices:  notices,
	}
}

// NewAdminServiceHandler builds an HTTP handler for the service and returns
// the path to mount it on.
func NewAdminServiceHandler(svc *AdminService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(ListSessionsProcedure, connect.NewUnaryHandler(ListSessionsProcedure, svc.ListSessions, opts...))
	mux.Handle(SkipProcedure, connect.NewUnaryHandler(SkipProcedure, svc.Skip, opts...))
	mux.Handle(StopProcedure, connect.NewUnaryHandler(StopProcedure, svc.Stop, opts...))
	mux.Handle(ClearProcedure, connect.NewUnaryHandler(ClearProcedure, svc.Clear, opts...))
	mux.Handle(WatchNoticesProcedure, connect.NewServerStreamHandler(WatchNoticesProcedure, svc.WatchNotices, opts...))
	return "/" + AdminServiceName + "/", mux
}

// ListSessions returns every live session.
func (s *AdminService) ListSessions(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	msg, err := sessionsStruct(s.sessions.Sessions())
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// Skip skips the current track of a guild.
func (s *AdminService) Skip(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	guildID, err := guildArg(req)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Skip(guildID); err != nil {
		return nil, toConnectError(err)
	}
	zlog.Info().Msgf("admin skipped track: guild=%s", guildID)
	return result(map[string]any{"guild_id": guildID, "skipped": true})
}

// Stop tears down the session of a guild.
func (s *AdminService) Stop(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	guildID, err := guildArg(req)
	if err != nil {
		return nil, err
	}
	if !s.sessions.Stop(guildID) {
		return nil, toConnectError(session.ErrNoSession)
	}
	zlog.Info().Msgf("admin stopped session: guild=%s", guildID)
	return result(map[string]any{"guild_id": guildID, "stopped": true})
}

// Clear empties the pending queue of a guild.
func (s *AdminService) Clear(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	guildID, err := guildArg(req)
	if err != nil {
		return nil, err
	}
	n, err := s.sessions.Clear(guildID)
	if err != nil {
		return nil, toConnectError(err)
	}
	zlog.Info().Msgf("admin cleared queue: guild=%s removed=%d", guildID, n)
	return result(map[string]any{"guild_id": guildID, "removed": n})
}

// WatchNotices streams the current sessions, then every notification until
// the client goes away.
func (s *AdminService) WatchNotices(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
	stream *connect.ServerStream[structpb.Struct],
) error {
	adapter := &noticeStreamAdapter{stream: stream}
	subscriptionID := s.notices.Subscribe(adapter)
	defer func() {
		s.notices.Unsubscribe(subscriptionID)
		adapter.close()
	}()

	initial, err := sessionsStruct(s.sessions.Sessions())
	if err != nil {
		return connect.NewError(connect.CodeInternal, err)
	}
	if err := adapter.send(initial); err != nil {
		return err
	}

	zlog.Debug().Msgf("admin watch started: subscription=%s", subscriptionID)
	<-ctx.Done()
	zlog.Debug().Msgf("admin watch ended: subscription=%s", subscriptionID)
	return nil
}

// noticeStreamAdapter adapts a server stream to notification.Subscriber.
// Sends are serialized and dropped once the handler has returned.
type noticeStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[structpb.Struct]
	closed bool
}

func (a *noticeStreamAdapter) Send(_ context.Context, n *notification.Notification) error {
	msg, err := noticeStruct(n)
	if err != nil {
		return err
	}
	return a.send(msg)
}

func (a *noticeStreamAdapter) send(msg *structpb.Struct) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	return a.stream.Send(msg)
}

func (a *noticeStreamAdapter) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}

func guildArg(req *connect.Request[wrapperspb.StringValue]) (string, error) {
	guildID := req.Msg.GetValue()
	if guildID == "" {
		return "", connect.NewError(connect.CodeInvalidArgument, errors.New("guild id is required"))
	}
	return guildID, nil
}

// toConnectError maps session errors to RPC codes.
func toConnectError(err error) error {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, playback.ErrNoTrack):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, playback.ErrSessionStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

func result(fields map[string]any) (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

func sessionsStruct(snaps []playback.Snapshot) (*structpb.Struct, error) {
	list := make([]any, 0, len(snaps))
	for _, snap := range snaps {
		entry := map[string]any{
			"id":              snap.ID,
			"guild_id":        snap.GuildID,
			"state":           snap.State.String(),
			"channel_id":      snap.ChannelID,
			"text_channel_id": snap.TextChannelID,
			"queue_length":    len(snap.Queue),
		}
		if snap.Current != nil {
			entry["current"] = trackFields(snap.Current)
		}
		queue := make([]any, 0, len(snap.Queue))
		for i := range snap.Queue {
			queue = append(queue, trackFields(&snap.Queue[i]))
		}
		entry["queue"] = queue
		list = append(list, entry)
	}
	msg, err := structpb.NewStruct(map[string]any{"type": "sessions", "sessions": list})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode sessions")
	}
	return msg, nil
}

func noticeStruct(n *notification.Notification) (*structpb.Struct, error) {
	e := n.Event
	fields := map[string]any{
		"seq":             n.SequenceNo,
		"time":            n.Time.UTC().Format(time.RFC3339Nano),
		"type":            e.Type.String(),
		"session_id":      e.SessionID,
		"guild_id":        e.GuildID,
		"text_channel_id": e.TextChannelID,
		"state":           e.State.String(),
		"queue_length":    e.QueueLength,
	}
	if e.Track != nil {
		fields["track"] = trackFields(e.Track)
	}
	if e.Err != nil {
		fields["error"] = e.Err.Error()
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode notice: seq=%d", n.SequenceNo)
	}
	return msg, nil
}

func trackFields(qt *track.QueuedTrack) map[string]any {
	return map[string]any{
		"title":            qt.Track.Title,
		"author":           qt.Track.Author,
		"url":              qt.Track.URL,
		"source":           string(qt.Track.Source),
		"duration_seconds": int64(qt.Track.Duration.Seconds()),
		"requester":        qt.Requester.Name,
		"requester_id":     qt.Requester.ID,
	}
}
