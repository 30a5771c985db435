package gateway

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Session admin RPCs. Requests carry the session id as a StringValue.
const (
	SessionAdminServiceName = "refgame.admin.v1.SessionAdminService"

	PauseSessionProcedure  = "/" + SessionAdminServiceName + "/PauseSession"
	ResumeSessionProcedure = "/" + SessionAdminServiceName + "/ResumeSession"
)

// ErrSessionNotFound is returned for ids not in the session registry
var ErrSessionNotFound = errors.New("session not found")

func (s *Service) registerAdminHandlers(r *mux.Router) {
	r.Handle(PauseSessionProcedure, connect.NewUnaryHandler(PauseSessionProcedure, s.pauseSession(true)))
	r.Handle(ResumeSessionProcedure, connect.NewUnaryHandler(ResumeSessionProcedure, s.pauseSession(false)))
}

func (s *Service) pauseSession(paused bool) func(context.Context, *connect.Request[wrapperspb.StringValue]) (*connect.Response[emptypb.Empty], error) {
	return func(ctx context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[emptypb.Empty], error) {
		id := req.Msg.GetValue()
		if id == "" {
			return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("session id is required"))
		}
		if err := s.SetPaused(id, paused); err != nil {
			return nil, connect.NewError(connect.CodeNotFound, err)
		}
		return connect.NewResponse(&emptypb.Empty{}), nil
	}
}

// SetPaused opens or closes the chat gate of a running session
func (s *Service) SetPaused(id string, paused bool) error {
	sess, ok := s.lobby.Session(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	sess.Mu.Lock()
	sess.Paused = paused
	sess.Mu.Unlock()

	log.Info().Str("session_id", id).Bool("paused", paused).Msg("session pause changed")
	return nil
}
