package game

import (
	"strings"
	"unicode/utf8"

	"github.com/gear6io/replicant/network/replication"
	"github.com/gear6io/replicant/pkg/errors"
)

// PlayerControllerClass is the wire name of PlayerController
const PlayerControllerClass = "PlayerController"

// MaxStep bounds how far a single Move may carry a pawn
const MaxStep = 5.0

// MaxNameLength is the longest accepted player name in bytes
const MaxNameLength = 32

// MoveArgs is the requested displacement of the controlled pawn
type MoveArgs struct {
	X float32 `net:"x"`
	Y float32 `net:"y"`
}

type RenameArgs struct {
	Name string `net:"name,max_length=32"`
}

// AnnounceArgs is a server message shown to one player
type AnnounceArgs struct {
	Message string `net:"message,max_length=255"`
}

// PlayerController is the replicable a connection controls. The client
// drives its pawn through Move and Rename; the server talks back through
// Announce.
type PlayerController struct {
	replication.Object

	PlayerName replication.Attribute[string]                 `net:"player_name,notify,max_length=32"`
	Pawn       replication.Attribute[replication.Replicable] `net:"pawn,notify"`

	Move     replication.RPC[MoveArgs]     `net:"move,target=server"`
	Rename   replication.RPC[RenameArgs]   `net:"rename,target=server,reliable"`
	Announce replication.RPC[AnnounceArgs] `net:"announce,target=client,reliable"`

	announcements []string
	onAnnounce    func(string)
}

// NewPlayerController is the factory registered for PlayerControllerClass
func NewPlayerController() *PlayerController {
	c := &PlayerController{}
	c.Roles.Set(replication.Roles{Local: replication.RoleAuthority, Remote: replication.RoleAutonomousProxy})
	c.Move.Handle(c.move)
	c.Rename.Handle(c.rename)
	c.Announce.Handle(c.announce)
	return c
}

func (c *PlayerController) Conditions(isOwner, isComplaining, isInitial bool) []string {
	return append(c.Object.Conditions(isOwner, isComplaining, isInitial), "player_name", "pawn")
}

// Controlled returns the pawn this controller drives, if it has one
func (c *PlayerController) Controlled() (*Pawn, bool) {
	pawn, ok := c.Pawn.Get().(*Pawn)
	return pawn, ok && pawn != nil
}

// Announcements lists the messages received through Announce
func (c *PlayerController) Announcements() []string {
	return append([]string(nil), c.announcements...)
}

// OnAnnounce installs a callback run for each received announcement
func (c *PlayerController) OnAnnounce(fn func(string)) {
	c.onAnnounce = fn
}

func (c *PlayerController) move(args MoveArgs) error {
	pawn, ok := c.Controlled()
	if !ok {
		return errors.New(ErrNoPawn, "controller has no pawn to move", nil)
	}

	delta := Vector{X: args.X, Y: args.Y}
	if length := delta.Length(); length > MaxStep {
		delta = delta.Scale(MaxStep / length)
	}
	pawn.Walk(delta)
	return nil
}

func (c *PlayerController) rename(args RenameArgs) error {
	name, err := CleanName(args.Name)
	if err != nil {
		return err
	}

	c.PlayerName.Set(name)
	if pawn, ok := c.Controlled(); ok {
		pawn.Name.Set(name)
	}
	return nil
}

func (c *PlayerController) announce(args AnnounceArgs) error {
	c.announcements = append(c.announcements, args.Message)
	if c.onAnnounce != nil {
		c.onAnnounce(args.Message)
	}
	return nil
}

// CleanName trims a requested player name and checks it is usable
func CleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", errors.New(ErrInvalidName, "player name is empty", nil)
	case len(name) > MaxNameLength:
		return "", errors.Newf(ErrInvalidName, "player name longer than %d bytes", MaxNameLength).
			AddContext("name", name)
	case !utf8.ValidString(name):
		return "", errors.New(ErrInvalidName, "player name is not valid utf-8", nil)
	}
	return name, nil
}

// NewTypes registers the game's replicable classes
func NewTypes() (*replication.TypeRegistry, error) {
	types := replication.NewTypeRegistry()
	if _, err := types.Register(PlayerControllerClass, func() replication.Replicable { return NewPlayerController() }); err != nil {
		return nil, err
	}
	if _, err := types.Register(PawnClass, func() replication.Replicable { return NewPawn() }); err != nil {
		return nil, err
	}
	return types, nil
}
