package protocol

import (
	"encoding/binary"

	"driftpursuit/worldclient/internal/world"
)

// Builder encodes server to client ticks. The loopback server, the capture
// tool and tests use it to produce streams the interpreters accept.
type Builder struct {
	buf []byte
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder { return &Builder{} }

// Bytes returns the encoded tick. The slice aliases the builder's buffer.
func (b *Builder) Bytes() []byte { return b.buf }

// Len returns the encoded length.
func (b *Builder) Len() int { return len(b.buf) }

// Reset drops the encoded bytes and keeps the allocation.
func (b *Builder) Reset() { b.buf = b.buf[:0] }

// Raw appends arbitrary bytes, used to craft malformed ticks.
func (b *Builder) Raw(p ...byte) *Builder {
	b.buf = append(b.buf, p...)
	return b
}

func (b *Builder) u16(v uint16) { b.buf = binary.BigEndian.AppendUint16(b.buf, v) }
func (b *Builder) u32(v uint32) { b.buf = binary.BigEndian.AppendUint32(b.buf, v) }

func (b *Builder) Nop() *Builder { return b.Raw(OpNop) }

func (b *Builder) LoginComplete(player uint32, width, height, area uint16) *Builder {
	b.buf = append(b.buf, OpLoginComplete)
	b.u32(player)
	b.u16(width)
	b.u16(height)
	b.u16(area)
	return b
}

func (b *Builder) AreaChange(width, height, area uint16) *Builder {
	b.buf = append(b.buf, OpAreaChange)
	b.u16(width)
	b.u16(height)
	b.u16(area)
	return b
}

// Kicked truncates reason to 255 bytes.
func (b *Builder) Kicked(reason string) *Builder {
	if len(reason) > 0xFF {
		reason = reason[:0xFF]
	}
	b.buf = append(b.buf, OpKicked, byte(len(reason)))
	b.buf = append(b.buf, reason...)
	return b
}

func (b *Builder) SetStat(stat uint8, value int32) *Builder {
	b.buf = append(b.buf, OpSetStat, stat)
	b.u32(uint32(value))
	return b
}

func (b *Builder) SetInventorySlot(slot uint8, item, count uint16) *Builder {
	b.buf = append(b.buf, OpSetInventorySlot, slot)
	b.u16(item)
	b.u16(count)
	return b
}

func (b *Builder) OpenContainer(kind uint16) *Builder {
	b.buf = append(b.buf, OpOpenContainer)
	b.u16(kind)
	return b
}

func (b *Builder) SetContainerSlot(slot uint8, item, count uint16) *Builder {
	b.buf = append(b.buf, OpSetContainerSlot, slot)
	b.u16(item)
	b.u16(count)
	return b
}

func (b *Builder) CloseContainer() *Builder { return b.Raw(OpCloseContainer) }

// ChatLine truncates text to 255 bytes.
func (b *Builder) ChatLine(channel uint8, text string) *Builder {
	if len(text) > 0xFF {
		text = text[:0xFF]
	}
	b.buf = append(b.buf, OpChatLine, channel, byte(len(text)))
	b.buf = append(b.buf, text...)
	return b
}

// SystemText truncates text to 65535 bytes.
func (b *Builder) SystemText(text string) *Builder {
	if len(text) > 0xFFFF {
		text = text[:0xFFFF]
	}
	b.buf = append(b.buf, OpSystemText)
	b.u16(uint16(len(text)))
	b.buf = append(b.buf, text...)
	return b
}

func (b *Builder) PlaySound(sound uint16, volume uint8) *Builder {
	b.buf = append(b.buf, OpPlaySound)
	b.u16(sound)
	b.buf = append(b.buf, volume)
	return b
}

func (b *Builder) PlayerPosition(x, y uint16, facing uint8) *Builder {
	b.buf = append(b.buf, OpPlayerPosition)
	b.u16(x)
	b.u16(y)
	b.buf = append(b.buf, facing)
	return b
}

func (b *Builder) PlayerAnimation(anim, frame uint8) *Builder {
	return b.Raw(OpPlayerAnimation, anim, frame)
}

// EffectContent writes a known effect variant into slot.
func (b *Builder) EffectContent(slot uint8, effect world.Effect) *Builder {
	b.buf = append(b.buf, OpEffectContent, slot)
	b.buf = appendEffect(b.buf, effect)
	return b
}

// EffectContentRaw writes an arbitrary type tag followed by body.
func (b *Builder) EffectContentRaw(slot uint8, kind world.EffectType, body ...byte) *Builder {
	b.buf = append(b.buf, OpEffectContent, slot, byte(kind))
	b.buf = append(b.buf, body...)
	return b
}

func (b *Builder) EffectActivation(mask uint64) *Builder {
	b.buf = append(b.buf, OpEffectActivation)
	b.buf = binary.BigEndian.AppendUint64(b.buf, mask)
	return b
}

func (b *Builder) ServerTick(tick uint32) *Builder {
	b.buf = append(b.buf, OpServerTick)
	b.u32(tick)
	return b
}

func (b *Builder) AmbientLight(level uint8) *Builder { return b.Raw(OpAmbientLight, level) }

// Cell writes a map-cell opcode. arg is the signed offset for AddrOffset, the
// cell index for AddrAbsolute and ignored otherwise. Only fields selected in
// mask are taken from cell.
func (b *Builder) Cell(mode Addressing, arg int, mask CellField, cell world.Cell) *Builder {
	mask &= FieldAll
	b.buf = append(b.buf, OpMapCell|byte(mask)|byte(mode&addrMask))
	switch mode {
	case AddrOffset:
		b.buf = append(b.buf, byte(int8(arg)))
	case AddrAbsolute:
		b.u16(uint16(arg))
	}
	if mask&FieldSprite != 0 {
		b.u16(cell.Sprite)
	}
	if mask&FieldAnim != 0 {
		b.buf = append(b.buf, cell.Anim)
	}
	if mask&FieldLight != 0 {
		b.buf = append(b.buf, cell.Light)
	}
	if mask&FieldFlags != 0 {
		b.buf = append(b.buf, cell.Flags)
	}
	if mask&FieldOverlay != 0 {
		b.u16(cell.Overlay)
	}
	return b
}
