package outbound

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Command opcodes. Every command is one opcode byte followed by fixed
// little-endian fields; text carries an explicit length prefix.
const (
	OpHello     byte = 0x01
	OpMove      byte = 0x10
	OpUseSlot   byte = 0x11
	OpMoveItem  byte = 0x12
	OpSay       byte = 0x20
	OpKeepAlive byte = 0x30
)

var (
	// ErrIncomplete reports a command cut short by the end of the input.
	ErrIncomplete = errors.New("outbound: incomplete command")
	// ErrUnknownCommand reports an opcode with no command layout.
	ErrUnknownCommand = errors.New("outbound: unknown command")
)

// Command is a user-originated message for the server.
type Command interface {
	Opcode() byte
	AppendTo(dst []byte) []byte
}

// Hello opens the session. Identity and Metadata are truncated to 255 bytes,
// Token to 65535.
type Hello struct {
	Version  uint16
	Identity string
	Token    string
	Metadata string
}

func (Hello) Opcode() byte { return OpHello }

func (h Hello) AppendTo(dst []byte) []byte {
	dst = append(dst, OpHello)
	dst = binary.LittleEndian.AppendUint16(dst, h.Version)
	dst = appendText8(dst, h.Identity)
	dst = appendText16(dst, h.Token)
	return appendText8(dst, h.Metadata)
}

// Move steps the player by a delta.
type Move struct {
	DX int16
	DY int16
}

func (Move) Opcode() byte { return OpMove }

func (m Move) AppendTo(dst []byte) []byte {
	dst = append(dst, OpMove)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(m.DX))
	return binary.LittleEndian.AppendUint16(dst, uint16(m.DY))
}

// UseSlot activates an inventory slot.
type UseSlot struct {
	Slot uint8
}

func (UseSlot) Opcode() byte { return OpUseSlot }

func (u UseSlot) AppendTo(dst []byte) []byte { return append(dst, OpUseSlot, u.Slot) }

// MoveItem moves count items between inventory slots.
type MoveItem struct {
	From  uint8
	To    uint8
	Count uint16
}

func (MoveItem) Opcode() byte { return OpMoveItem }

func (m MoveItem) AppendTo(dst []byte) []byte {
	dst = append(dst, OpMoveItem, m.From, m.To)
	return binary.LittleEndian.AppendUint16(dst, m.Count)
}

// Say posts text to a chat channel.
type Say struct {
	Channel uint8
	Text    string
}

func (Say) Opcode() byte { return OpSay }

func (s Say) AppendTo(dst []byte) []byte {
	dst = append(dst, OpSay, s.Channel)
	return appendText16(dst, s.Text)
}

// KeepAlive echoes the last server tick seen.
type KeepAlive struct {
	Tick uint32
}

func (KeepAlive) Opcode() byte { return OpKeepAlive }

func (k KeepAlive) AppendTo(dst []byte) []byte {
	dst = append(dst, OpKeepAlive)
	return binary.LittleEndian.AppendUint32(dst, k.Tick)
}

// Encode returns the command's wire bytes.
func Encode(cmd Command) []byte {
	return cmd.AppendTo(nil)
}

func appendText8(dst []byte, s string) []byte {
	if len(s) > 0xFF {
		s = s[:0xFF]
	}
	dst = append(dst, byte(len(s)))
	return append(dst, s...)
}

func appendText16(dst []byte, s string) []byte {
	if len(s) > 0xFFFF {
		s = s[:0xFFFF]
	}
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}

// Decode parses the first command in p and returns it with its length.
// Servers and tests use it; the client only encodes.
func Decode(p []byte) (Command, int, error) {
	if len(p) == 0 {
		return nil, 0, ErrIncomplete
	}
	d := decoder{p: p, off: 1}
	var cmd Command
	switch p[0] {
	case OpHello:
		h := Hello{Version: d.u16()}
		h.Identity = d.text(int(d.u8()))
		h.Token = d.text(int(d.u16()))
		h.Metadata = d.text(int(d.u8()))
		cmd = h
	case OpMove:
		cmd = Move{DX: int16(d.u16()), DY: int16(d.u16())}
	case OpUseSlot:
		cmd = UseSlot{Slot: d.u8()}
	case OpMoveItem:
		cmd = MoveItem{From: d.u8(), To: d.u8(), Count: d.u16()}
	case OpSay:
		s := Say{Channel: d.u8()}
		s.Text = d.text(int(d.u16()))
		cmd = s
	case OpKeepAlive:
		cmd = KeepAlive{Tick: d.u32()}
	default:
		return nil, 0, fmt.Errorf("%w 0x%02x", ErrUnknownCommand, p[0])
	}
	if d.short {
		return nil, 0, ErrIncomplete
	}
	return cmd, d.off, nil
}

type decoder struct {
	p     []byte
	off   int
	short bool
}

func (d *decoder) take(n int) []byte {
	if d.short || len(d.p)-d.off < n {
		d.short = true
		return make([]byte, n)
	}
	out := d.p[d.off : d.off+n]
	d.off += n
	return out
}

func (d *decoder) u8() uint8   { return d.take(1)[0] }
func (d *decoder) u16() uint16 { return binary.LittleEndian.Uint16(d.take(2)) }
func (d *decoder) u32() uint32 { return binary.LittleEndian.Uint32(d.take(4)) }

func (d *decoder) text(n int) string { return string(d.take(n)) }
