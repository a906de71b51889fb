package protocol

import (
	"fmt"

	"driftpursuit/worldclient/internal/world"
)

// op is the execution context handed to table handlers. body holds exactly
// the bytes following the opcode that the size function accounted for.
type op struct {
	ix    *Interpreter
	state *world.State
	code  byte
	body  []byte
	res   *Result
}

// entry describes one opcode. size receives the tick from the opcode byte
// onwards and returns the total consumed length. mutate changes world state
// and runs in both modes (gated by class when predicting). effects runs only
// in authoritative mode.
type entry struct {
	name    string
	class   Class
	size    func(rest []byte) (int, error)
	mutate  func(x *op) error
	effects func(x *op) error
}

var table [256]*entry

func fixed(n int) func([]byte) (int, error) {
	return func([]byte) (int, error) { return n, nil }
}

func init() {
	register(OpNop, &entry{name: "nop", size: fixed(1)})
	register(OpLoginComplete, &entry{name: "login_complete", class: ClassStructural, size: fixed(11), mutate: mutateLogin, effects: effectLogin})
	register(OpAreaChange, &entry{name: "area_change", class: ClassStructural, size: fixed(7), mutate: mutateAreaChange, effects: effectAreaChange})
	register(OpKicked, &entry{name: "kicked", class: ClassControl, size: sizeShortText(1), effects: effectKicked})
	register(OpSetStat, &entry{name: "set_stat", class: ClassStats, size: fixed(6), mutate: mutateStat, effects: markStale(world.StaleStats)})
	register(OpSetInventorySlot, &entry{name: "set_inventory_slot", class: ClassInventory, size: fixed(6), mutate: mutateInventorySlot, effects: markStale(world.StaleInventory)})
	register(OpOpenContainer, &entry{name: "open_container", class: ClassInventory, size: fixed(3), mutate: mutateOpenContainer, effects: markStale(world.StaleInventory)})
	register(OpSetContainerSlot, &entry{name: "set_container_slot", class: ClassInventory, size: fixed(6), mutate: mutateContainerSlot, effects: markStale(world.StaleInventory)})
	register(OpCloseContainer, &entry{name: "close_container", class: ClassInventory, size: fixed(1), mutate: mutateCloseContainer, effects: markStale(world.StaleInventory)})
	register(OpChatLine, &entry{name: "chat_line", class: ClassAuthoritative, size: sizeShortText(2), effects: effectChatLine})
	register(OpSystemText, &entry{name: "system_text", class: ClassAuthoritative, size: sizeLongText, effects: effectSystemText})
	register(OpPlaySound, &entry{name: "play_sound", class: ClassAuthoritative, size: fixed(4), effects: effectPlaySound})
	register(OpPlayerPosition, &entry{name: "player_position", class: ClassPosition, size: fixed(6), mutate: mutatePosition})
	register(OpPlayerAnimation, &entry{name: "player_animation", class: ClassAnimation, size: fixed(3), mutate: mutateAnimation})
	register(OpEffectContent, &entry{name: "effect_content", class: ClassEffects, size: sizeEffectContent, mutate: mutateEffectContent, effects: effectEffectContent})
	register(OpEffectActivation, &entry{name: "effect_activation", class: ClassEffects, size: fixed(9), mutate: mutateEffectActivation, effects: markStale(world.StaleEffects)})
	register(OpServerTick, &entry{name: "server_tick", class: ClassStructural, size: fixed(5), mutate: mutateServerTick})
	register(OpAmbientLight, &entry{name: "ambient_light", class: ClassVisual, size: fixed(2), mutate: mutateAmbient, effects: markStale(world.StaleLighting)})

	for code := int(OpMapCell); code <= 0xFF; code++ {
		register(byte(code), &entry{name: "map_cell", class: ClassMap, size: fixed(cellOpcodeSize(byte(code))), mutate: mutateCell, effects: effectCell})
	}
}

func register(code byte, e *entry) {
	if table[code] != nil {
		panic(fmt.Sprintf("protocol: opcode 0x%02x registered twice", code))
	}
	table[code] = e
}

// Name returns the opcode's table name, or the empty string when unknown.
func Name(code byte) string {
	if e := table[code]; e != nil {
		return e.name
	}
	return ""
}

// ClassOf returns the prediction class of a known opcode.
func ClassOf(code byte) (Class, bool) {
	e := table[code]
	if e == nil {
		return ClassNone, false
	}
	return e.class, true
}

func sizeShortText(prefix int) func([]byte) (int, error) {
	//1.- The length byte sits after the opcode and any fixed prefix fields.
	return func(rest []byte) (int, error) {
		at := prefix
		if len(rest) <= at {
			return 0, fmt.Errorf("%w: text length missing", ErrDesync)
		}
		return at + 1 + int(rest[at]), nil
	}
}

func sizeLongText(rest []byte) (int, error) {
	if len(rest) < 3 {
		return 0, fmt.Errorf("%w: text length missing", ErrDesync)
	}
	return 3 + (int(rest[1])<<8 | int(rest[2])), nil
}

func sizeEffectContent(rest []byte) (int, error) {
	if len(rest) < 3 {
		return 0, fmt.Errorf("%w: effect header missing", ErrDesync)
	}
	body, _ := effectBodySize(world.EffectType(rest[2]))
	return 3 + body, nil
}

func cellOpcodeSize(code byte) int {
	n := 1
	switch Addressing(code & addrMask) {
	case AddrOffset:
		n++
	case AddrAbsolute:
		n += 2
	}
	fields := CellField(code)
	if fields&FieldSprite != 0 {
		n += 2
	}
	if fields&FieldAnim != 0 {
		n++
	}
	if fields&FieldLight != 0 {
		n++
	}
	if fields&FieldFlags != 0 {
		n++
	}
	if fields&FieldOverlay != 0 {
		n += 2
	}
	return n
}

func markStale(mask world.StaleMask) func(*op) error {
	return func(x *op) error {
		x.state.MarkStale(mask)
		return nil
	}
}

func mutateLogin(x *op) error {
	r := newFieldReader(x.body)
	id, width, height, area := r.u32(), r.u16(), r.u16(), r.u16()
	if r.err != nil {
		return r.err
	}
	if err := x.state.Reset(int(width), int(height), area); err != nil {
		return fmt.Errorf("%w: login: %v", ErrDesync, err)
	}
	x.state.Player.ID = id
	x.state.Generation++
	x.res.Signals |= SignalWorldReset
	return nil
}

func effectLogin(x *op) error {
	x.res.Signals |= SignalLoginComplete
	x.state.MarkStale(world.StaleStats | world.StaleInventory | world.StaleLighting | world.StaleEffects)
	return nil
}

func mutateAreaChange(x *op) error {
	r := newFieldReader(x.body)
	width, height, area := r.u16(), r.u16(), r.u16()
	if r.err != nil {
		return r.err
	}
	if err := x.state.ChangeArea(int(width), int(height), area); err != nil {
		return fmt.Errorf("%w: area change: %v", ErrDesync, err)
	}
	x.state.Generation++
	x.res.Signals |= SignalWorldReset
	return nil
}

func effectAreaChange(x *op) error {
	r := newFieldReader(x.body)
	_, _, area := r.u16(), r.u16(), r.u16()
	if r.err != nil {
		return r.err
	}
	x.res.Signals |= SignalAreaChange
	x.res.Area = area
	x.state.MarkStale(world.StaleStats | world.StaleInventory | world.StaleLighting | world.StaleEffects)
	return nil
}

func effectKicked(x *op) error {
	r := newFieldReader(x.body)
	n := r.u8()
	reason := r.bytes(int(n))
	if r.err != nil {
		return r.err
	}
	x.res.Signals |= SignalKicked
	x.res.KickReason = string(reason)
	return nil
}

func mutateStat(x *op) error {
	r := newFieldReader(x.body)
	stat, value := r.u8(), r.i32()
	if r.err != nil {
		return r.err
	}
	if int(stat) >= world.MaxStats {
		return fmt.Errorf("%w: stat %d out of range", ErrDesync, stat)
	}
	x.state.Stats[stat] = value
	return nil
}

func mutateInventorySlot(x *op) error {
	r := newFieldReader(x.body)
	slot, item, count := r.u8(), r.u16(), r.u16()
	if r.err != nil {
		return r.err
	}
	if int(slot) >= world.InventorySlots {
		return fmt.Errorf("%w: inventory slot %d out of range", ErrDesync, slot)
	}
	x.state.Inventory[slot] = world.ItemStack{Item: item, Count: count}
	return nil
}

func mutateOpenContainer(x *op) error {
	r := newFieldReader(x.body)
	kind := r.u16()
	if r.err != nil {
		return r.err
	}
	x.state.Container = world.Container{Open: true, Kind: kind}
	return nil
}

func mutateContainerSlot(x *op) error {
	r := newFieldReader(x.body)
	slot, item, count := r.u8(), r.u16(), r.u16()
	if r.err != nil {
		return r.err
	}
	if int(slot) >= world.ContainerSlots {
		return fmt.Errorf("%w: container slot %d out of range", ErrDesync, slot)
	}
	x.state.Container.Slots[slot] = world.ItemStack{Item: item, Count: count}
	return nil
}

func mutateCloseContainer(x *op) error {
	x.state.Container = world.Container{}
	return nil
}

func effectChatLine(x *op) error {
	r := newFieldReader(x.body)
	channel, n := r.u8(), r.u8()
	text := r.bytes(int(n))
	if r.err != nil {
		return r.err
	}
	if x.ix.chat != nil {
		x.ix.chat.AppendLine(channel, string(text))
	}
	return nil
}

func effectSystemText(x *op) error {
	r := newFieldReader(x.body)
	n := r.u16()
	text := r.bytes(int(n))
	if r.err != nil {
		return r.err
	}
	if x.ix.chat != nil {
		x.ix.chat.AppendLine(ChannelSystem, string(text))
	}
	return nil
}

func effectPlaySound(x *op) error {
	r := newFieldReader(x.body)
	sound, volume := r.u16(), r.u8()
	if r.err != nil {
		return r.err
	}
	if x.ix.audio != nil {
		x.ix.audio.PlaySound(sound, volume)
	}
	return nil
}

func mutatePosition(x *op) error {
	r := newFieldReader(x.body)
	px, py, facing := r.u16(), r.u16(), r.u8()
	if r.err != nil {
		return r.err
	}
	x.state.Player.X, x.state.Player.Y, x.state.Player.Facing = px, py, facing
	return nil
}

func mutateAnimation(x *op) error {
	r := newFieldReader(x.body)
	anim, frame := r.u8(), r.u8()
	if r.err != nil {
		return r.err
	}
	x.state.Player.Anim, x.state.Player.Frame = anim, frame
	return nil
}

func mutateEffectContent(x *op) error {
	r := newFieldReader(x.body)
	slot, kind := r.u8(), world.EffectType(r.u8())
	if r.err != nil {
		return r.err
	}
	if int(slot) >= world.MaxEffectSlots {
		return fmt.Errorf("%w: effect slot %d out of range", ErrDesync, slot)
	}
	effect, ok := decodeEffect(kind, x.body[2:])
	if !ok {
		//1.- Unknown variants carry no body; the slot keeps no content.
		effect = nil
	}
	x.state.Effects[slot].Effect = effect
	return nil
}

func effectEffectContent(x *op) error {
	slot, kind := x.body[0], world.EffectType(x.body[1])
	if _, known := effectBodySize(kind); !known {
		x.ix.warnUnknownEffect(slot, kind)
	}
	x.state.MarkStale(world.StaleEffects)
	return nil
}

func mutateEffectActivation(x *op) error {
	r := newFieldReader(x.body)
	mask := r.u64()
	if r.err != nil {
		return r.err
	}
	x.state.SetActiveMask(mask)
	return nil
}

func mutateServerTick(x *op) error {
	r := newFieldReader(x.body)
	tick := r.u32()
	if r.err != nil {
		return r.err
	}
	x.state.ServerTick = tick
	return nil
}

func mutateAmbient(x *op) error {
	r := newFieldReader(x.body)
	level := r.u8()
	if r.err != nil {
		return r.err
	}
	x.state.Ambient = level
	return nil
}

func mutateCell(x *op) error {
	r := newFieldReader(x.body)
	cursor := x.state.Cursor
	mode := Addressing(x.code & addrMask)

	//1.- Resolve the target index; relative modes need an established cursor.
	var index int
	switch mode {
	case AddrAbsolute:
		index = int(r.u16())
	default:
		if cursor == world.NoCursor {
			return fmt.Errorf("%w: relative cell address without cursor", ErrDesync)
		}
		switch mode {
		case AddrThis:
			index = cursor
		case AddrNext:
			index = cursor + 1
		case AddrOffset:
			index = cursor + int(r.i8())
		}
	}
	if r.err != nil {
		return r.err
	}
	if !x.state.InBounds(index) {
		return fmt.Errorf("%w: cell %d outside %d cells", ErrDesync, index, x.state.CellCount())
	}

	//2.- Apply the selected fields in wire order.
	fields := CellField(x.code)
	cell := x.state.Cells[index]
	if fields&FieldSprite != 0 {
		cell.Sprite = r.u16()
	}
	if fields&FieldAnim != 0 {
		cell.Anim = r.u8()
	}
	if fields&FieldLight != 0 {
		cell.Light = r.u8()
	}
	if fields&FieldFlags != 0 {
		cell.Flags = r.u8()
	}
	if fields&FieldOverlay != 0 {
		cell.Overlay = r.u16()
	}
	if r.err != nil {
		return r.err
	}
	x.state.Cells[index] = cell
	x.state.Cursor = index
	return nil
}

func effectCell(x *op) error {
	if CellField(x.code)&FieldLight != 0 {
		x.state.MarkStale(world.StaleLighting)
	}
	return nil
}
