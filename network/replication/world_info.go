package replication

// WorldInfoClass is the wire name of WorldInfo
const WorldInfoClass = "WorldInfo"

// WorldInfo replicates the server's clock and tick rate to every client.
// Each world holds exactly one, under WorldInfoID.
type WorldInfo struct {
	Object

	Elapsed  Attribute[float64] `net:"elapsed,notify,complain,precise"`
	TickRate Attribute[uint16]  `net:"tick_rate,notify,max_value=1000"`
}

// DefaultTickRate is the simulation rate in Hz announced to clients
const DefaultTickRate = 60

func NewWorldInfo() *WorldInfo {
	info := &WorldInfo{}
	info.Roles.Set(Roles{Local: RoleAuthority, Remote: RoleSimulatedProxy})
	info.TickRate.Set(DefaultTickRate)
	info.AlwaysRelevant = true
	return info
}

// Conditions sends the clock only when it moved or the peer is new
func (w *WorldInfo) Conditions(isOwner, isComplaining, isInitial bool) []string {
	names := append(w.Object.Conditions(isOwner, isComplaining, isInitial), "tick_rate")
	if isComplaining || isInitial {
		names = append(names, "elapsed")
	}
	return names
}

// OnNotify follows the server clock
func (w *WorldInfo) OnNotify(name string) {
	if name == "elapsed" && w.world != nil {
		w.world.SetElapsed(w.Elapsed.Get())
	}
}
