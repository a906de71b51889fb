package world

// EffectType is the wire tag selecting an effect variant.
type EffectType uint8

const (
	EffectNone EffectType = iota
	EffectLight
	EffectProjectile
	EffectParticles
	EffectTint
	EffectStatusIcon
	EffectFloatingText
)

// Effect is one variant of the effect table. Every variant is a comparable value type.
type Effect interface {
	Type() EffectType
}

// Light brightens the area around the effect's owner.
type Light struct {
	Radius uint8
	Color  uint8
}

// Projectile travels between two cells.
type Projectile struct {
	From   uint16
	To     uint16
	Sprite uint16
	Speed  uint8
}

// Particles emits sprites from a cell.
type Particles struct {
	Cell   uint16
	Sprite uint16
	Count  uint8
	TTL    uint8
}

// Tint colours the whole view.
type Tint struct {
	R, G, B, A uint8
}

// StatusIcon shows a timed status indicator.
type StatusIcon struct {
	Icon     uint16
	Duration uint16
}

// FloatingText shows a short label above a cell.
type FloatingText struct {
	Cell  uint16
	Color uint8
	Text  [8]byte
}

func (Light) Type() EffectType        { return EffectLight }
func (Projectile) Type() EffectType   { return EffectProjectile }
func (Particles) Type() EffectType    { return EffectParticles }
func (Tint) Type() EffectType         { return EffectTint }
func (StatusIcon) Type() EffectType   { return EffectStatusIcon }
func (FloatingText) Type() EffectType { return EffectFloatingText }

// Label trims the zero padding from the text.
func (f FloatingText) Label() string {
	n := 0
	for n < len(f.Text) && f.Text[n] != 0 {
		n++
	}
	return string(f.Text[:n])
}

// Slot is one entry of the effect table. Content may be written while the slot
// is inactive; activation arrives separately as a bitmask.
type Slot struct {
	Active bool
	Effect Effect
}

// Visible returns the slot's effect only when it is active.
func (s Slot) Visible() (Effect, bool) {
	if !s.Active || s.Effect == nil {
		return nil, false
	}
	return s.Effect, true
}

// SetActiveMask sets every slot's active flag from mask, bit i for slot i.
func (s *State) SetActiveMask(mask uint64) {
	for i := range s.Effects {
		s.Effects[i].Active = mask&(1<<uint(i)) != 0
	}
}

// ActiveMask returns the active flags as a bitmask.
func (s *State) ActiveMask() uint64 {
	var mask uint64
	for i, slot := range s.Effects {
		if slot.Active {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// VisibleEffects lists active effects keyed by slot.
func (s *State) VisibleEffects() map[int]Effect {
	out := make(map[int]Effect)
	for i, slot := range s.Effects {
		if effect, ok := slot.Visible(); ok {
			out[i] = effect
		}
	}
	return out
}
