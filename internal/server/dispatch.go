package server

import (
	"github.com/rs/zerolog/log"

	"github.com/danmuck/overlayctl/internal/observability"
	"github.com/danmuck/overlayctl/internal/protocol"
)

// dispatch interprets one reserved control command. The validator has
// already rejected anything outside the configured allow-list, so name is a
// recognized command; a name outside the reserved set (an admin-extended
// allow-list entry) is logged and otherwise ignored.
func (s *Server) dispatch(name string, sess *session) {
	switch name {
	case protocol.CommandExit:
		sess.log.Info().Msg("exit command received")
		s.requestExit()
	case protocol.CommandClear:
		removed := s.store.RemoveAll()
		observability.SetLiveGraphics(0)
		sess.log.Info().Int("removed", removed).Msg("clear command received")
	case protocol.CommandStatus:
		status := s.Status()
		sess.log.Info().
			Int64("total", status.Counters.Total).
			Int64("processed", status.Counters.Processed).
			Int64("malformed", status.Counters.Malformed).
			Int64("rate_limited", status.Counters.RateLimited).
			Int("active_clients", status.ActiveClients).
			Int("live_graphics", status.LiveGraphics).
			Msg("status")
	default:
		log.Warn().Str("command", name).Msg("allow-listed command has no handler")
	}
}
