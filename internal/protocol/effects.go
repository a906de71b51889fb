package protocol

import (
	"encoding/binary"

	"driftpursuit/worldclient/internal/world"
)

// effectBodySize maps an effect type tag to its fixed body length. Unknown
// tags report zero and false.
func effectBodySize(t world.EffectType) (int, bool) {
	switch t {
	case world.EffectLight:
		return 2, true
	case world.EffectProjectile:
		return 7, true
	case world.EffectParticles:
		return 6, true
	case world.EffectTint:
		return 4, true
	case world.EffectStatusIcon:
		return 4, true
	case world.EffectFloatingText:
		return 11, true
	default:
		return 0, false
	}
}

// decodeEffect reads one variant. body must be exactly effectBodySize(t) long.
func decodeEffect(t world.EffectType, body []byte) (world.Effect, bool) {
	r := newFieldReader(body)
	var effect world.Effect
	switch t {
	case world.EffectLight:
		effect = world.Light{Radius: r.u8(), Color: r.u8()}
	case world.EffectProjectile:
		effect = world.Projectile{From: r.u16(), To: r.u16(), Sprite: r.u16(), Speed: r.u8()}
	case world.EffectParticles:
		effect = world.Particles{Cell: r.u16(), Sprite: r.u16(), Count: r.u8(), TTL: r.u8()}
	case world.EffectTint:
		effect = world.Tint{R: r.u8(), G: r.u8(), B: r.u8(), A: r.u8()}
	case world.EffectStatusIcon:
		effect = world.StatusIcon{Icon: r.u16(), Duration: r.u16()}
	case world.EffectFloatingText:
		text := world.FloatingText{Cell: r.u16(), Color: r.u8()}
		copy(text.Text[:], r.bytes(len(text.Text)))
		effect = text
	default:
		return nil, false
	}
	if r.err != nil {
		return nil, false
	}
	return effect, true
}

// appendEffect writes the type tag followed by the variant body.
func appendEffect(dst []byte, effect world.Effect) []byte {
	switch e := effect.(type) {
	case world.Light:
		return append(dst, byte(world.EffectLight), e.Radius, e.Color)
	case world.Projectile:
		dst = append(dst, byte(world.EffectProjectile))
		dst = binary.BigEndian.AppendUint16(dst, e.From)
		dst = binary.BigEndian.AppendUint16(dst, e.To)
		dst = binary.BigEndian.AppendUint16(dst, e.Sprite)
		return append(dst, e.Speed)
	case world.Particles:
		dst = append(dst, byte(world.EffectParticles))
		dst = binary.BigEndian.AppendUint16(dst, e.Cell)
		dst = binary.BigEndian.AppendUint16(dst, e.Sprite)
		return append(dst, e.Count, e.TTL)
	case world.Tint:
		return append(dst, byte(world.EffectTint), e.R, e.G, e.B, e.A)
	case world.StatusIcon:
		dst = append(dst, byte(world.EffectStatusIcon))
		dst = binary.BigEndian.AppendUint16(dst, e.Icon)
		return binary.BigEndian.AppendUint16(dst, e.Duration)
	case world.FloatingText:
		dst = append(dst, byte(world.EffectFloatingText))
		dst = binary.BigEndian.AppendUint16(dst, e.Cell)
		dst = append(dst, e.Color)
		return append(dst, e.Text[:]...)
	default:
		return append(dst, byte(world.EffectNone))
	}
}
