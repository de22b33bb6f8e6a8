// Package mapping implements the PacketNumberMap of spec.md §4 Data
// Model: a bidirectional index between the QUIC-visible (path_id,
// packet_number) a frame was sent on and the FEC-visible (group_id,
// block_index, role) it carries.
package mapping

import (
	"sync"

	"github.com/mpquicfec/core/internal/protocol"
)

// Role distinguishes a mapping entry's block kind.
type Role int

const (
	RoleSource Role = iota
	RoleRepair
)

func (r Role) String() string {
	if r == RoleRepair {
		return "repair"
	}
	return "source"
}

// Mapping is one bidirectional entry: the packet it was carried on, and
// the FEC block it corresponds to.
type Mapping struct {
	PathID       protocol.PathID
	PacketNumber protocol.PacketNumber
	GroupID      protocol.GroupID
	BlockIndex   protocol.BlockIndex
	Role         Role
}

type packetKey struct {
	pathID protocol.PathID
	pn     protocol.PacketNumber
}

// Map is the PacketNumberMap: it records, for every frame sent or
// received, which (path_id, packet_number) carried which (group_id,
// block_index), and indexes both directions.
type Map struct {
	mu sync.Mutex

	byPacket map[packetKey]Mapping
	byGroup  map[protocol.GroupID][]Mapping
}

// New constructs an empty Map.
func New() *Map {
	return &Map{
		byPacket: make(map[packetKey]Mapping),
		byGroup:  make(map[protocol.GroupID][]Mapping),
	}
}

// AddMapping records that (pathID, pn) carried (groupID, blockIndex) with
// the given role. Re-adding the same (pathID, pn) overwrites the prior
// entry for it, including its place in the group index.
func (m *Map) AddMapping(pathID protocol.PathID, pn protocol.PacketNumber, groupID protocol.GroupID, blockIndex protocol.BlockIndex, role Role) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := Mapping{PathID: pathID, PacketNumber: pn, GroupID: groupID, BlockIndex: blockIndex, Role: role}
	key := packetKey{pathID, pn}

	if old, ok := m.byPacket[key]; ok {
		m.removeFromGroupIndexLocked(old)
	}
	m.byPacket[key] = entry
	m.byGroup[groupID] = append(m.byGroup[groupID], entry)
}

func (m *Map) removeFromGroupIndexLocked(old Mapping) {
	entries := m.byGroup[old.GroupID]
	for i, e := range entries {
		if e.PathID == old.PathID && e.PacketNumber == old.PacketNumber {
			m.byGroup[old.GroupID] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
}

// FindByPacket returns the mapping recorded for (pathID, pn), if any.
func (m *Map) FindByPacket(pathID protocol.PathID, pn protocol.PacketNumber) (Mapping, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byPacket[packetKey{pathID, pn}]
	return entry, ok
}

// FindByGroup returns every mapping recorded for groupID, in insertion
// order.
func (m *Map) FindByGroup(groupID protocol.GroupID) []Mapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.byGroup[groupID]
	out := make([]Mapping, len(entries))
	copy(out, entries)
	return out
}

// CleanupOldMappings discards every mapping whose group_id is strictly
// less than beforeID, per spec.md §8 scenario S6.
func (m *Map) CleanupOldMappings(beforeID protocol.GroupID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for groupID, entries := range m.byGroup {
		if groupID >= beforeID {
			continue
		}
		for _, e := range entries {
			delete(m.byPacket, packetKey{e.PathID, e.PacketNumber})
		}
		delete(m.byGroup, groupID)
	}
}

// Len reports the number of live packet-to-block mappings.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byPacket)
}
