package domain

import (
	"errors"
	"math"
)

// ErrQuantityOverflow is returned when merging into a line would push its
// quantity past math.MaxInt.
var ErrQuantityOverflow = errors.New("line quantity overflows")

// CartLine is one product entry in the cart.
type CartLine struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Image    string  `json:"image,omitempty"`
}

// Item describes a product being added to the cart. Name, Price and Image are
// only read when the item is not in the cart yet. Price is taken as given;
// negative prices are valid lines.
type Item struct {
	ID    string  `json:"id" validate:"required"`
	Name  string  `json:"name" validate:"required"`
	Price float64 `json:"price"`
	Image string  `json:"image,omitempty"`
}

// Lines is the insertion-ordered cart state.
//
// Lines values are treated as immutable: every transition returns a new slice
// and leaves the receiver untouched, so a Lines handed out earlier never
// changes underneath its holder.
type Lines []CartLine

// Index returns the position of the line with the given id, or -1.
func (l Lines) Index(id string) int {
	for i := range l {
		if l[i].ID == id {
			return i
		}
	}
	return -1
}

// Find returns the line with the given id.
func (l Lines) Find(id string) (CartLine, bool) {
	if i := l.Index(id); i >= 0 {
		return l[i], true
	}
	return CartLine{}, false
}

// CheckAdd returns ErrQuantityOverflow when adding quantity to the line for
// id would not fit in an int.
func (l Lines) CheckAdd(id string, quantity int) error {
	i := l.Index(id)
	if i < 0 || quantity <= 0 {
		return nil
	}
	if quantity > math.MaxInt-l[i].Quantity {
		return ErrQuantityOverflow
	}
	return nil
}

// Add merges quantity into the line for item.ID, or appends a new line built
// from item when the id is not present. A merge only touches Quantity.
// A resulting quantity of zero or less removes the line. A merge that fails
// CheckAdd returns l unchanged.
func (l Lines) Add(item Item, quantity int) Lines {
	i := l.Index(item.ID)
	if i < 0 {
		if quantity <= 0 {
			return l
		}
		next := make(Lines, len(l), len(l)+1)
		copy(next, l)
		return append(next, CartLine{
			ID:       item.ID,
			Name:     item.Name,
			Price:    item.Price,
			Quantity: quantity,
			Image:    item.Image,
		})
	}

	if l.CheckAdd(item.ID, quantity) != nil {
		return l
	}
	merged := l[i].Quantity + quantity
	if merged <= 0 {
		return l.Remove(item.ID)
	}
	next := l.Clone()
	next[i].Quantity = merged
	return next
}

// Remove returns the lines without the given id. An unknown id returns l as is.
func (l Lines) Remove(id string) Lines {
	i := l.Index(id)
	if i < 0 {
		return l
	}
	next := make(Lines, 0, len(l)-1)
	next = append(next, l[:i]...)
	return append(next, l[i+1:]...)
}

// SetQuantity replaces the quantity of the given line, keeping its position.
// Zero or negative quantities remove the line; an unknown id returns l as is.
func (l Lines) SetQuantity(id string, quantity int) Lines {
	if quantity <= 0 {
		return l.Remove(id)
	}
	i := l.Index(id)
	if i < 0 {
		return l
	}
	next := l.Clone()
	next[i].Quantity = quantity
	return next
}

// TotalPrice returns the sum of price * quantity over all lines.
func (l Lines) TotalPrice() float64 {
	var total float64
	for _, line := range l {
		total += line.Price * float64(line.Quantity)
	}
	return total
}

// TotalItems returns the sum of quantities over all lines.
func (l Lines) TotalItems() int {
	var count int
	for _, line := range l {
		count += line.Quantity
	}
	return count
}

// Clone returns a copy that shares no backing array with l. The copy of an
// empty or nil Lines is an empty, non-nil Lines.
func (l Lines) Clone() Lines {
	next := make(Lines, len(l))
	copy(next, l)
	return next
}

// Normalize rebuilds lines loaded from outside the process so the cart
// invariants hold: lines without an id or with a non-positive quantity are
// dropped, and repeated ids are folded into their first occurrence, summing
// quantities. It reports how many input lines did not survive as-is.
func Normalize(lines []CartLine) (Lines, int) {
	out := make(Lines, 0, len(lines))
	dropped := 0
	for _, line := range lines {
		if line.ID == "" || line.Quantity <= 0 {
			dropped++
			continue
		}
		if i := out.Index(line.ID); i >= 0 {
			if out.CheckAdd(line.ID, line.Quantity) != nil {
				out[i].Quantity = math.MaxInt
			} else {
				out[i].Quantity += line.Quantity
			}
			dropped++
			continue
		}
		out = append(out, line)
	}
	return out, dropped
}
