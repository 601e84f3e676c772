// Package palette maps the eight opcode symbols to the colors learned from
// the header.
package palette

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ayusman/chromatape/internal/chroma"
)

// Size is the number of opcode symbols, and therefore of header slots.
const Size = 8

// Symbol is one opcode character.
type Symbol byte

// String returns the symbol as a one-character string.
func (s Symbol) String() string {
	return string(rune(s))
}

// MarshalText encodes the symbol as its character.
func (s Symbol) MarshalText() ([]byte, error) {
	return []byte{byte(s)}, nil
}

// UnmarshalText decodes a one-character symbol.
func (s *Symbol) UnmarshalText(text []byte) error {
	if len(text) != 1 {
		return fmt.Errorf("%w: %q", ErrUnknownSymbol, text)
	}
	*s = Symbol(text[0])
	return nil
}

// Alphabet is every opcode symbol in canonical slot order: slot 0 is '+',
// slot 7 is ','.
const Alphabet = "+-<>[].,"

var (
	// ErrFrozen is returned when writing to a frozen palette.
	ErrFrozen = errors.New("palette is frozen")
	// ErrIncomplete is returned when freezing a palette without every symbol.
	ErrIncomplete = errors.New("palette is incomplete")
	// ErrUnknownSymbol is returned for a symbol outside the palette's order.
	ErrUnknownSymbol = errors.New("unknown opcode symbol")
	// ErrInvalidOrder is returned by ParseOrder for a malformed slot order.
	ErrInvalidOrder = errors.New("invalid symbol order")
)

// Order assigns one symbol to each header slot, top to bottom.
type Order [Size]Symbol

// DefaultOrder is the canonical slot order.
func DefaultOrder() Order {
	o, _ := ParseOrder(Alphabet)
	return o
}

// ParseOrder parses a slot order such as "+-<>[].,". It must contain each
// opcode symbol exactly once.
func ParseOrder(s string) (Order, error) {
	var o Order
	if len(s) != Size {
		return o, fmt.Errorf("%w: %q has %d symbols, want %d", ErrInvalidOrder, s, len(s), Size)
	}

	seen := make(map[byte]bool, Size)
	for i := 0; i < Size; i++ {
		c := s[i]
		if !strings.ContainsRune(Alphabet, rune(c)) {
			return o, fmt.Errorf("%w: %q is not an opcode", ErrInvalidOrder, c)
		}
		if seen[c] {
			return o, fmt.Errorf("%w: %q repeats", ErrInvalidOrder, c)
		}
		seen[c] = true
		o[i] = Symbol(c)
	}
	return o, nil
}

// String returns the order as "+-<>[].,".
func (o Order) String() string {
	var b strings.Builder
	for _, s := range o {
		b.WriteByte(byte(s))
	}
	return b.String()
}

// Index returns the slot of sym, or -1.
func (o Order) Index(sym Symbol) int {
	for i, s := range o {
		if s == sym {
			return i
		}
	}
	return -1
}

// Entry is one symbol and its learned color.
type Entry struct {
	Symbol Symbol       `json:"symbol"`
	Color  chroma.Color `json:"color"`
}

// Palette is the learned symbol-to-color map. It grows as slots are
// calibrated, may be overwritten while calibration is in progress, and is
// read-only once frozen.
type Palette struct {
	order  Order
	colors [Size]chroma.Color
	set    [Size]bool
	frozen bool
}

// New creates an empty palette with the given slot order.
func New(order Order) *Palette {
	return &Palette{order: order}
}

// Order returns the palette's slot order.
func (p *Palette) Order() Order {
	return p.order
}

// Set assigns c to sym, replacing any earlier color.
func (p *Palette) Set(sym Symbol, c chroma.Color) error {
	if p.frozen {
		return ErrFrozen
	}
	i := p.order.Index(sym)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownSymbol, byte(sym))
	}
	p.colors[i] = c
	p.set[i] = true
	return nil
}

// Color returns the color learned for sym.
func (p *Palette) Color(sym Symbol) (chroma.Color, bool) {
	i := p.order.Index(sym)
	if i < 0 || !p.set[i] {
		return chroma.Color{}, false
	}
	return p.colors[i], true
}

// Len returns the number of symbols with a learned color.
func (p *Palette) Len() int {
	n := 0
	for _, ok := range p.set {
		if ok {
			n++
		}
	}
	return n
}

// Complete reports whether every symbol has a color.
func (p *Palette) Complete() bool {
	return p.Len() == Size
}

// Freeze makes the palette read-only. Only a complete palette can be frozen.
func (p *Palette) Freeze() error {
	if !p.Complete() {
		return fmt.Errorf("%w: %d of %d symbols", ErrIncomplete, p.Len(), Size)
	}
	p.frozen = true
	return nil
}

// Frozen reports whether the palette is read-only.
func (p *Palette) Frozen() bool {
	return p.frozen
}

// Entries returns the learned entries in slot order.
func (p *Palette) Entries() []Entry {
	entries := make([]Entry, 0, Size)
	for i, sym := range p.order {
		if p.set[i] {
			entries = append(entries, Entry{Symbol: sym, Color: p.colors[i]})
		}
	}
	return entries
}

// Nearest returns the entry closest to c and its squared distance. Ties go
// to the earlier slot. ok is false for an empty palette.
func (p *Palette) Nearest(c chroma.Color) (entry Entry, dist int, ok bool) {
	dist = math.MaxInt
	for _, e := range p.Entries() {
		if d := chroma.SquaredDistance(c, e.Color); d < dist {
			entry, dist, ok = e, d, true
		}
	}
	return entry, dist, ok
}

// Match returns the symbol whose color is similar to c under threshold.
func (p *Palette) Match(c chroma.Color, threshold int) (Symbol, bool) {
	e, d, ok := p.Nearest(c)
	if !ok || d >= threshold {
		return 0, false
	}
	return e.Symbol, true
}
