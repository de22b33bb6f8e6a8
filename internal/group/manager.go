package group

import (
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/go-logr/logr"

	"github.com/mpquicfec/core/internal/fec"
	"github.com/mpquicfec/core/internal/protocol"
	"github.com/mpquicfec/core/internal/utils"
)

// ParamsChangedFunc is invoked whenever UpdateCodingParams actually
// changes (k, m), naming the first group id the new parameters apply to.
// This is the out-of-band negotiation hook spec.md §9's open question
// resolves to (see SPEC_FULL.md §3): a transport-level collaborator can
// use this to tell a peer's ReceiveAssembler which (k, m) to expect from
// that group id onward, without widening the 21-octet wire header.
type ParamsChangedFunc func(fromGroupID protocol.GroupID, k, m uint32)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Scheme    fec.Scheme
	K, M      uint32
	BlockSize uint32

	// EncodeWorkers, when > 1, dispatches each group's codec.Encode call
	// onto a bounded worker pool instead of running it inline on the
	// caller's goroutine — spec.md §5 explicitly allows moving the encode
	// off the calling goroutine provided frame order is preserved. The
	// call still blocks for the result, so AddSourcePacket's synchronous
	// "sealed, encoded, id returned" contract (spec.md §4.3) is unchanged;
	// this only isolates the CPU-bound codec work onto a dedicated pool.
	EncodeWorkers int

	OnParamsChanged ParamsChangedFunc
	Logger          logr.Logger
}

// Manager is the GroupManager of spec.md §4.3: it accumulates source
// payloads into the current Open group, seals and encodes it the moment
// it reaches k payloads, and retains Encoded groups until GC'd.
type Manager struct {
	mu sync.Mutex

	scheme    fec.Scheme
	k, m      uint32
	blockSize uint32
	codec     fec.Codec

	nextGroupID protocol.GroupID
	current     *Group
	encoded     map[protocol.GroupID]*Group

	pool            *workerpool.WorkerPool
	onParamsChanged ParamsChangedFunc
	log             logr.Logger
}

// NewManager constructs a Manager per cfg, seeding its first Open group.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.K == 0 || cfg.M == 0 {
		return nil, fmt.Errorf("%w: k=%d and m=%d must both be >= 1", protocol.ErrInvalidParameter, cfg.K, cfg.M)
	}
	codec, err := fec.New(cfg.Scheme, int(cfg.K), int(cfg.M), int(cfg.BlockSize))
	if err != nil {
		return nil, err
	}
	log := utils.OrDiscard(cfg.Logger)

	m := &Manager{
		scheme:          cfg.Scheme,
		k:               cfg.K,
		m:               cfg.M,
		blockSize:       cfg.BlockSize,
		codec:           codec,
		nextGroupID:     1,
		encoded:         make(map[protocol.GroupID]*Group),
		onParamsChanged: cfg.OnParamsChanged,
		log:             log,
	}
	if cfg.EncodeWorkers > 1 {
		m.pool = workerpool.New(cfg.EncodeWorkers)
	}
	m.current = m.newGroup()
	return m, nil
}

func (m *Manager) newGroup() *Group {
	g := &Group{
		ID:        m.nextGroupID,
		K:         m.k,
		M:         m.m,
		BlockSize: m.blockSize,
		CreatedAt: time.Now(),
		State:     Open,
	}
	m.nextGroupID++
	return g
}

// AddSourcePacket appends payload (padded or truncated to block_size) to
// the current Open group. When the group reaches k payloads it is
// atomically sealed and encoded, and its id is returned; otherwise ok is
// false.
func (m *Manager) AddSourcePacket(payload []byte) (id protocol.GroupID, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current.Source = append(m.current.Source, fitBlock(payload, int(m.current.BlockSize)))
	m.log.V(1).Info("queued source packet", "group", m.current.ID, "queued", len(m.current.Source), "k", m.current.K)

	if uint32(len(m.current.Source)) < m.current.K {
		return 0, false, nil
	}

	g := m.current
	if err := m.sealAndEncode(g); err != nil {
		// The group stays Sealed (not Encoded, not Open) and is not
		// exposed; a fresh Open group still starts so the pipeline keeps
		// moving. The caller sees the encode failure for this call.
		m.current = m.newGroup()
		return 0, false, err
	}
	m.encoded[g.ID] = g
	m.current = m.newGroup()
	m.log.Info("encoded group", "group", g.ID, "k", g.K, "m", g.M)
	return g.ID, true, nil
}

func (m *Manager) sealAndEncode(g *Group) error {
	g.State = Sealed
	encode := func() ([][]byte, error) { return m.codec.Encode(g.Source) }
	var parity [][]byte
	var encErr error
	if m.pool != nil {
		m.pool.SubmitWait(func() { parity, encErr = encode() })
	} else {
		parity, encErr = encode()
	}
	if encErr != nil {
		return fmt.Errorf("group %d: %w", g.ID, encErr)
	}
	g.Repair = parity
	g.State = Encoded
	return nil
}

// GetEncodedGroup returns the Encoded group with the given id, if still
// retained.
func (m *Manager) GetEncodedGroup(id protocol.GroupID) (*Group, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.encoded[id]
	return g, ok
}

// FlushPending pads the current Open group's remainder with zero-filled
// blocks until it has exactly k, then seals and encodes it. An empty
// Open group is not flushed.
func (m *Manager) FlushPending() ([]protocol.GroupID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushPendingLocked()
}

func (m *Manager) flushPendingLocked() ([]protocol.GroupID, error) {
	if len(m.current.Source) == 0 {
		return nil, nil
	}
	g := m.current
	for uint32(len(g.Source)) < g.K {
		g.Source = append(g.Source, make([]byte, g.BlockSize))
	}
	if err := m.sealAndEncode(g); err != nil {
		m.current = m.newGroup()
		return nil, err
	}
	m.encoded[g.ID] = g
	m.current = m.newGroup()
	m.log.Info("flushed partial group", "group", g.ID)
	return []protocol.GroupID{g.ID}, nil
}

// UpdateCodingParams flushes any pending group, then replaces the codec
// with one configured for (newK, newM, block_size); subsequent groups use
// the new parameters.
func (m *Manager) UpdateCodingParams(newK, newM uint32) error {
	if newK == 0 || newM == 0 {
		return fmt.Errorf("%w: k=%d and m=%d must both be >= 1", protocol.ErrInvalidParameter, newK, newM)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if newK == m.k && newM == m.m {
		return nil
	}

	if _, err := m.flushPendingLocked(); err != nil {
		return err
	}

	codec, err := fec.New(m.scheme, int(newK), int(newM), int(m.blockSize))
	if err != nil {
		return err
	}
	m.k, m.m, m.codec = newK, newM, codec
	m.current.K, m.current.M = newK, newM

	if m.onParamsChanged != nil {
		m.onParamsChanged(m.current.ID, newK, newM)
	}
	m.log.Info("updated coding params", "k", newK, "m", newM, "from_group", m.current.ID)
	return nil
}

// CleanupOldGroups retires every Encoded group with id < beforeID.
func (m *Manager) CleanupOldGroups(beforeID protocol.GroupID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, g := range m.encoded {
		if id < beforeID {
			g.State = Retired
			delete(m.encoded, id)
		}
	}
}

// CodingParams returns the (k, m) currently used for newly sealed groups.
func (m *Manager) CodingParams() (uint32, uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.k, m.m
}

// Scheme returns the codec scheme this manager was configured with.
func (m *Manager) Scheme() fec.Scheme {
	return m.scheme
}

// GroupsCreated returns the number of groups ever created, including the
// current Open one.
func (m *Manager) GroupsCreated() protocol.GroupID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextGroupID - 1
}
