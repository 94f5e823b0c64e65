package game

import (
	"math"

	"github.com/gear6io/replicant/network/replication"
)

// PawnClass is the wire name of Pawn
const PawnClass = "Pawn"

// TrailLength is how many past positions a pawn remembers
const TrailLength = 8

// Pawn tags
const (
	TagSpawned = "spawned"
	TagMoving  = "moving"
	TagWounded = "wounded"
)

// Vector is a position on the play field
type Vector struct {
	X float32 `net:"x"`
	Y float32 `net:"y"`
}

func (v Vector) Add(o Vector) Vector {
	return Vector{X: v.X + o.X, Y: v.Y + o.Y}
}

func (v Vector) Length() float64 {
	return math.Hypot(float64(v.X), float64(v.Y))
}

// Scale multiplies both components by f
func (v Vector) Scale(f float64) Vector {
	return Vector{X: float32(float64(v.X) * f), Y: float32(float64(v.Y) * f)}
}

// Distance is the euclidean distance between v and o
func (v Vector) Distance(o Vector) float64 {
	return Vector{X: v.X - o.X, Y: v.Y - o.Y}.Length()
}

// Pawn is a player's body in the world. Everyone near it sees where it is
// and how healthy it is; only its owner receives the trail.
type Pawn struct {
	replication.Object

	Position replication.Attribute[Vector]              `net:"position,notify"`
	Health   replication.Attribute[uint8]               `net:"health,notify"`
	Name     replication.Attribute[string]              `net:"name,max_length=32"`
	Tags     replication.Attribute[map[string]struct{}] `net:"tags,max_length=16,elem_max_length=24"`
	Trail    replication.Attribute[[]Vector]            `net:"trail,max_length=16,compression=auto"`

	notified []string
}

// NewPawn is the factory registered for PawnClass
func NewPawn() *Pawn {
	p := &Pawn{}
	p.Roles.Set(replication.Roles{Local: replication.RoleAuthority, Remote: replication.RoleSimulatedProxy})
	p.Tags.Set(map[string]struct{}{})
	return p
}

func (p *Pawn) Conditions(isOwner, isComplaining, isInitial bool) []string {
	names := append(p.Object.Conditions(isOwner, isComplaining, isInitial), "position", "health", "name", "tags")
	if isOwner {
		names = append(names, "trail")
	}
	return names
}

func (p *Pawn) OnNotify(name string) {
	p.notified = append(p.notified, name)
}

// Notified returns the attribute notifications received so far, oldest first
func (p *Pawn) Notified() []string {
	return append([]string(nil), p.notified...)
}

// HasTag reports whether tag is set on the pawn
func (p *Pawn) HasTag(tag string) bool {
	_, ok := p.Tags.Get()[tag]
	return ok
}

// Tag adds or removes tag
func (p *Pawn) Tag(tag string, on bool) {
	if p.HasTag(tag) == on {
		return
	}

	tags := make(map[string]struct{}, len(p.Tags.Get())+1)
	for t := range p.Tags.Get() {
		tags[t] = struct{}{}
	}
	if on {
		tags[tag] = struct{}{}
	} else {
		delete(tags, tag)
	}
	p.Tags.Set(tags)
}

// Walk moves the pawn by delta and records where it came from
func (p *Pawn) Walk(delta Vector) {
	from := p.Position.Get()
	p.Position.Set(from.Add(delta))

	trail := append(append([]Vector(nil), p.Trail.Get()...), from)
	if len(trail) > TrailLength {
		trail = trail[len(trail)-TrailLength:]
	}
	p.Trail.Set(trail)
	p.Tag(TagMoving, delta != Vector{})
}

// Damage lowers health, stopping at zero
func (p *Pawn) Damage(amount uint8) {
	health := p.Health.Get()
	if amount > health {
		amount = health
	}
	p.Health.Set(health - amount)
	p.Tag(TagWounded, amount > 0 || p.HasTag(TagWounded))
}
