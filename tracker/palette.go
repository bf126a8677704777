package tracker

import "image/color"

// DefaultPalette is the set of box colours. Its length caps the number of
// objects tracked in one frame.
var DefaultPalette = Palette{
	{R: 0x00, G: 0x00, B: 0xFF, A: 0xFF}, // blue
	{R: 0xFF, G: 0x00, B: 0x00, A: 0xFF}, // red
	{R: 0x00, G: 0xFF, B: 0x00, A: 0xFF}, // green
	{R: 0xFF, G: 0xFF, B: 0x00, A: 0xFF}, // yellow
	{R: 0x00, G: 0xFF, B: 0xFF, A: 0xFF}, // cyan
	{R: 0xFF, G: 0x00, B: 0xFF, A: 0xFF}, // magenta
	{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}, // white
	{R: 0x55, G: 0xFF, B: 0x55, A: 0xFF},
	{R: 0xFF, G: 0xA5, B: 0x00, A: 0xFF},
	{R: 0xFF, G: 0x88, B: 0x88, A: 0xFF},
	{R: 0xAA, G: 0xAA, B: 0xFF, A: 0xFF},
	{R: 0xFF, G: 0xFF, B: 0xAA, A: 0xFF},
	{R: 0x55, G: 0xAA, B: 0xAA, A: 0xFF},
	{R: 0xAA, G: 0x33, B: 0xAA, A: 0xFF},
}

type Palette []color.RGBA

// slots hands out palette entries in insertion order for a single frame.
type slots struct {
	palette Palette
	next    int
}

func newSlots(p Palette) *slots {
	return &slots{palette: p}
}

// take returns the next free colour and its index; ok is false once the
// palette is exhausted.
func (s *slots) take() (idx int, c color.RGBA, ok bool) {
	if s.next >= len(s.palette) {
		return 0, color.RGBA{}, false
	}
	idx = s.next
	s.next++
	return idx, s.palette[idx], true
}
