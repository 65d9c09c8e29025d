package types

// PinWriter drives digital outputs (step, direction, enable, relays).
type PinWriter interface {
	SetPin(pin int, high bool)
}

// NopPins discards every write. Used for outputs that are not wired.
type NopPins struct{}

func (NopPins) SetPin(int, bool) {}
