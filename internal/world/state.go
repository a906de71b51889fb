package world

import (
	"errors"
	"fmt"
	"slices"
)

const (
	// MaxCells bounds the grid so every cell is reachable by a 16-bit index.
	MaxCells = 1 << 16
	// MaxStats is the number of scalar stat slots.
	MaxStats = 32
	// InventorySlots is the number of player inventory slots.
	InventorySlots = 32
	// ContainerSlots is the number of slots in an open container.
	ContainerSlots = 16
	// MaxEffectSlots is the size of the effect table.
	MaxEffectSlots = 64

	// NoCursor marks a state with no addressed map cell.
	NoCursor = -1
)

// ErrGridTooLarge reports grid dimensions beyond MaxCells.
var ErrGridTooLarge = errors.New("world: grid exceeds addressable cells")

// Cell holds the renderable facts of one grid position.
type Cell struct {
	Sprite  uint16
	Overlay uint16
	Anim    uint8
	Light   uint8
	Flags   uint8
}

// ItemStack is an inventory or container slot.
type ItemStack struct {
	Item  uint16
	Count uint16
}

// Player holds the local player's scalars.
type Player struct {
	ID     uint32
	X      uint16
	Y      uint16
	Facing uint8
	Anim   uint8
	Frame  uint8
}

// Container is the currently open container, if any.
type Container struct {
	Open  bool
	Kind  uint16
	Slots [ContainerSlots]ItemStack
}

// StaleMask flags derived display facts that must be recomputed.
type StaleMask uint8

const (
	StaleStats StaleMask = 1 << iota
	StaleInventory
	StaleLighting
	StaleEffects
)

// State is one instance of the world model. The session keeps two: the
// canonical state and the shadow state the predictive path runs ahead on.
type State struct {
	Width  int
	Height int
	Area   uint16
	Cells  []Cell
	// Cursor is the last addressed cell index, or NoCursor.
	Cursor int

	Player     Player
	Stats      [MaxStats]int32
	Inventory  [InventorySlots]ItemStack
	Container  Container
	Effects    [MaxEffectSlots]Slot
	Ambient    uint8
	ServerTick uint32

	// Stale and Generation are bookkeeping, not world content.
	Stale      StaleMask
	Generation uint64
}

// New returns an empty state with no grid.
func New() *State {
	return &State{Cursor: NoCursor}
}

// Reset clears the whole state and allocates a width x height grid.
func (s *State) Reset(width, height int, area uint16) error {
	if width < 0 || height < 0 || width*height > MaxCells {
		return fmt.Errorf("%w: %dx%d", ErrGridTooLarge, width, height)
	}
	generation := s.Generation
	cells := s.Cells
	*s = State{}
	s.Width, s.Height, s.Area = width, height, area
	if cap(cells) >= width*height {
		cells = cells[:width*height]
		clear(cells)
	} else {
		cells = make([]Cell, width*height)
	}
	s.Cells = cells
	s.Cursor = NoCursor
	s.Generation = generation
	return nil
}

// ChangeArea resets the state for a new area while keeping the player identity.
func (s *State) ChangeArea(width, height int, area uint16) error {
	id := s.Player.ID
	if err := s.Reset(width, height, area); err != nil {
		return err
	}
	s.Player.ID = id
	return nil
}

// CellCount returns the number of addressable cells.
func (s *State) CellCount() int { return len(s.Cells) }

// InBounds reports whether index addresses a cell.
func (s *State) InBounds(index int) bool { return index >= 0 && index < len(s.Cells) }

// Clone returns a deep copy.
func (s *State) Clone() *State {
	out := *s
	out.Cells = slices.Clone(s.Cells)
	return &out
}

// CopyFrom overwrites s with the contents of src, reusing the grid allocation.
func (s *State) CopyFrom(src *State) {
	cells := s.Cells
	*s = *src
	if cap(cells) >= len(src.Cells) {
		cells = cells[:len(src.Cells)]
	} else {
		cells = make([]Cell, len(src.Cells))
	}
	copy(cells, src.Cells)
	s.Cells = cells
}

// Equal compares world content, ignoring Stale and Generation.
func (s *State) Equal(o *State) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Width == o.Width &&
		s.Height == o.Height &&
		s.Area == o.Area &&
		s.Cursor == o.Cursor &&
		s.Player == o.Player &&
		s.Stats == o.Stats &&
		s.Inventory == o.Inventory &&
		s.Container == o.Container &&
		s.Effects == o.Effects &&
		s.Ambient == o.Ambient &&
		s.ServerTick == o.ServerTick &&
		slices.Equal(s.Cells, o.Cells)
}

// MarkStale flags derived facts for recomputation.
func (s *State) MarkStale(mask StaleMask) { s.Stale |= mask }

// TakeStale returns and clears the stale flags.
func (s *State) TakeStale() StaleMask {
	mask := s.Stale
	s.Stale = 0
	return mask
}
