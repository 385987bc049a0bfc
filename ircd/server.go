package ircd

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/didirc/icd/identity"
	"github.com/didirc/icd/internal/logger"
	"github.com/didirc/icd/registry"
)

// RuntimeConfig is the subset of config.ServerConfig the ircd package
// needs, kept decoupled from the config package to avoid an import
// cycle (config does not depend on ircd).
type RuntimeConfig struct {
	Name        string
	PingTimeout time.Duration
}

// Server is the CoreContext of spec.md §9: the single assembled-at-
// startup struct every connection actor, the channel engine, and the
// router share by reference. No hidden globals — tests construct a
// fresh Server per case.
type Server struct {
	Config   RuntimeConfig
	Registry *registry.Registry
	Channels *ChannelTable
	SASL     *SASLEngine
	History  ChatHistoryStore
	Policy   JoinPolicy
	Federator Federator
	Log      logger.Logger

	nextSessionID atomic.Uint64
}

// NewServer assembles a Server with the given config and collaborators.
// federator and history may be nil; history defaults to a no-op store
// and federator to one that silently drops every event (single-server
// deployment, no federation configured).
func NewServer(cfg RuntimeConfig, resolver identity.Resolver, saslTTL time.Duration, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Server{
		Config:    cfg,
		Registry:  registry.New(),
		Channels:  NewChannelTable(),
		SASL:      NewSASLEngine(saslTTL, resolver),
		History:   noopHistory{},
		Federator: noopFederator{},
		Log:       log,
	}
}

// NextSessionID hands out a monotonically increasing session id, unique
// per TCP accept for the lifetime of this Server (spec.md §3 Session).
func (s *Server) NextSessionID() uint64 {
	return s.nextSessionID.Add(1)
}

// noopHistory is the default ChatHistoryStore when no archive is
// configured: CHATHISTORY simply returns nothing.
type noopHistory struct{}

func (noopHistory) Append(ctx context.Context, entry HistoryEntry) error { return nil }

func (noopHistory) Before(ctx context.Context, target string, before time.Time, limit int) ([]HistoryEntry, error) {
	return nil, nil
}

func (noopHistory) Latest(ctx context.Context, target string, limit int) ([]HistoryEntry, error) {
	return nil, nil
}
