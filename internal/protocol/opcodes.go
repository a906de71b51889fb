package protocol

// Server to client opcodes. Values at or above OpMapCell are differential
// map-cell updates whose low bits carry addressing and field selection.
const (
	OpNop              byte = 0x00
	OpLoginComplete    byte = 0x01
	OpAreaChange       byte = 0x02
	OpKicked           byte = 0x03
	OpSetStat          byte = 0x10
	OpSetInventorySlot byte = 0x11
	OpOpenContainer    byte = 0x12
	OpSetContainerSlot byte = 0x13
	OpCloseContainer   byte = 0x14
	OpChatLine         byte = 0x20
	OpSystemText       byte = 0x21
	OpPlaySound        byte = 0x22
	OpPlayerPosition   byte = 0x30
	OpPlayerAnimation  byte = 0x31
	OpEffectContent    byte = 0x40
	OpEffectActivation byte = 0x41
	OpServerTick       byte = 0x50
	OpAmbientLight     byte = 0x51
	OpMapCell          byte = 0x80
)

// Addressing selects how a map-cell opcode locates its cell.
type Addressing byte

const (
	// AddrThis reuses the cursor.
	AddrThis Addressing = 0
	// AddrNext moves the cursor forward by one cell.
	AddrNext Addressing = 1
	// AddrOffset moves the cursor by a signed byte.
	AddrOffset Addressing = 2
	// AddrAbsolute jumps to a 16-bit cell index.
	AddrAbsolute Addressing = 3

	addrMask = 0x03
)

// CellField is the field-selection bitmask of a map-cell opcode.
type CellField byte

const (
	FieldSprite  CellField = 1 << 2
	FieldAnim    CellField = 1 << 3
	FieldLight   CellField = 1 << 4
	FieldFlags   CellField = 1 << 5
	FieldOverlay CellField = 1 << 6

	// FieldAll selects every cell field.
	FieldAll = FieldSprite | FieldAnim | FieldLight | FieldFlags | FieldOverlay
)

// ChannelSystem is the chat channel system text is reported on.
const ChannelSystem uint8 = 0xFF

// Class groups opcodes for prediction gating.
type Class uint8

const (
	ClassNone Class = iota
	// ClassStructural covers resets and the server clock; always predicted.
	ClassStructural
	// ClassControl covers connection control; never mutates state.
	ClassControl
	// ClassAuthoritative covers messages with side effects only.
	ClassAuthoritative
	ClassStats
	ClassInventory
	ClassPosition
	ClassAnimation
	ClassEffects
	ClassVisual
	// ClassMap covers map-cell updates; always predicted.
	ClassMap
)

func (c Class) String() string {
	switch c {
	case ClassStructural:
		return "structural"
	case ClassControl:
		return "control"
	case ClassAuthoritative:
		return "authoritative"
	case ClassStats:
		return "stats"
	case ClassInventory:
		return "inventory"
	case ClassPosition:
		return "position"
	case ClassAnimation:
		return "animation"
	case ClassEffects:
		return "effects"
	case ClassVisual:
		return "visual"
	case ClassMap:
		return "map"
	default:
		return "none"
	}
}
