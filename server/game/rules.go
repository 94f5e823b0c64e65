package game

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/gear6io/replicant/network/replication"
	"github.com/gear6io/replicant/pkg/errors"
	"github.com/gear6io/replicant/server/config"
	"github.com/gear6io/replicant/server/store"
	"github.com/gear6io/replicant/utils"
	"github.com/rs/zerolog"
)

// ledgerTimeout bounds each store call made while admitting or dropping a peer
const ledgerTimeout = 2 * time.Second

// Ledger is the persistence the rules consult: bans on the way in and the
// session audit for the whole stay. *store.Store satisfies it.
type Ledger interface {
	IsBanned(ctx context.Context, host string) (bool, *store.Ban, error)
	OpenSession(ctx context.Context, session *store.Session) error
	CloseSession(ctx context.Context, id, reason string) error
}

type player struct {
	controller *PlayerController
	pawn       *Pawn
	session    string
}

// Rules admits client peers, spawns a controller and pawn for each and
// replicates pawns within the relevance radius of the viewer's own.
type Rules struct {
	world   *replication.World
	cfg     config.GameConfig
	ledger  Ledger
	players map[*replication.ServerConnection]*player
	logger  zerolog.Logger
}

var (
	_ replication.Rules              = (*Rules)(nil)
	_ replication.DisconnectObserver = (*Rules)(nil)
)

// NewRules builds the rules for world. ledger may be nil, which admits
// everyone not otherwise refused and keeps no audit.
func NewRules(world *replication.World, cfg config.GameConfig, ledger Ledger, logger zerolog.Logger) *Rules {
	return &Rules{
		world:   world,
		cfg:     cfg,
		ledger:  ledger,
		players: make(map[*replication.ServerConnection]*player),
		logger:  logger.With().Str("component", "game-rules").Logger(),
	}
}

// PreInitialise refuses non-client peers, banned hosts and peers beyond
// the player limit
func (r *Rules) PreInitialise(addr string, netmode replication.Netmode) error {
	if netmode != replication.NetmodeClient {
		return errors.Newf(ErrWrongNetmode, "%s peers cannot join a game", netmode).AddContext("addr", addr)
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return errors.New(ErrInvalidAddress, "peer address has no host", err).AddContext("addr", addr)
	}

	if r.ledger != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
		defer cancel()

		banned, ban, err := r.ledger.IsBanned(ctx, host)
		if err != nil {
			return errors.New(ErrAdmissionFailed, "unable to check ban list", err).AddContext("host", host)
		}
		if banned {
			msg := "you are banned"
			if ban != nil && ban.Reason != "" {
				msg = fmt.Sprintf("you are banned: %s", ban.Reason)
			}
			return errors.New(ErrBanned, msg, nil)
		}
	}

	if len(r.players) >= r.cfg.MaxPlayers {
		return errors.Newf(ErrServerFull, "server is full (%d players)", r.cfg.MaxPlayers)
	}
	return nil
}

// PostInitialise spawns the peer's controller and pawn and opens its session
func (r *Rules) PostInitialise(conn *replication.ServerConnection) (replication.Replicable, error) {
	controller := NewPlayerController()
	if err := r.world.Add(controller); err != nil {
		return nil, errors.New(ErrSpawnFailed, "unable to add controller", err)
	}

	pawn := NewPawn()
	if err := r.world.Add(pawn); err != nil {
		r.world.Remove(controller)
		return nil, errors.New(ErrSpawnFailed, "unable to add pawn", err)
	}

	name := fmt.Sprintf("player-%d", controller.ID())
	controller.PlayerName.Set(name)
	controller.Pawn.Set(pawn)
	pawn.Owner.Set(controller)
	pawn.Name.Set(name)
	pawn.Health.Set(uint8(r.cfg.SpawnHealth))
	pawn.Tag(TagSpawned, true)

	p := &player{controller: controller, pawn: pawn, session: utils.GenerateULIDString()}
	r.openSession(conn, p, name)
	r.broadcast(fmt.Sprintf("%s joined", name), p)
	r.players[conn] = p

	r.logger.Info().
		Str("addr", conn.Addr()).
		Str("session", p.session).
		Uint8("controller", controller.ID()).
		Uint8("pawn", pawn.ID()).
		Msg("Player joined")
	return controller, nil
}

// IsRelevant sends a peer what it owns and every pawn within the relevance
// radius of its own pawn
func (r *Rules) IsRelevant(conn *replication.ServerConnection, rep replication.Replicable) bool {
	if conn.IsOwner(rep) {
		return true
	}

	viewer, ok := r.players[conn]
	if !ok {
		return false
	}
	if other, ok := rep.(*Pawn); ok {
		return viewer.pawn.Position.Get().Distance(other.Position.Get()) <= r.cfg.RelevanceRadius
	}
	return false
}

// OnDisconnect removes the departed player and closes its session
func (r *Rules) OnDisconnect(conn *replication.ServerConnection) {
	p, ok := r.players[conn]
	if !ok {
		return
	}
	delete(r.players, conn)

	r.world.Remove(p.pawn)
	r.world.Remove(p.controller)
	r.closeSession(p, "disconnected")
	r.broadcast(fmt.Sprintf("%s left", p.controller.PlayerName.Get()), nil)

	r.logger.Info().
		Str("addr", conn.Addr()).
		Str("session", p.session).
		Msg("Player left")
}

// Broadcast announces msg to every player
func (r *Rules) Broadcast(msg string) {
	r.broadcast(msg, nil)
}

// Players returns the live controllers ordered by ID
func (r *Rules) Players() []*PlayerController {
	out := make([]*PlayerController, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p.controller)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Count is the number of admitted players
func (r *Rules) Count() int {
	return len(r.players)
}

// Session returns the audit session id of conn's player
func (r *Rules) Session(conn *replication.ServerConnection) (string, bool) {
	p, ok := r.players[conn]
	if !ok {
		return "", false
	}
	return p.session, true
}

func (r *Rules) broadcast(msg string, skip *player) {
	for _, p := range r.players {
		if p == skip {
			continue
		}
		if err := p.controller.Announce.Call(AnnounceArgs{Message: msg}); err != nil {
			r.logger.Warn().Err(err).Uint8("controller", p.controller.ID()).Msg("Failed to announce")
		}
	}
}

func (r *Rules) openSession(conn *replication.ServerConnection, p *player, name string) {
	if r.ledger == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()

	session := &store.Session{
		ID:         p.session,
		Address:    conn.Addr(),
		Netmode:    replication.NetmodeClient.String(),
		PlayerName: name,
	}
	if err := r.ledger.OpenSession(ctx, session); err != nil {
		r.logger.Warn().Err(err).Str("session", p.session).Msg("Failed to record session")
	}
}

func (r *Rules) closeSession(p *player, reason string) {
	if r.ledger == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()

	if err := r.ledger.CloseSession(ctx, p.session, reason); err != nil {
		r.logger.Warn().Err(err).Str("session", p.session).Msg("Failed to close session")
	}
}
