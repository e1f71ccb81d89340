package stems

import "fmt"

// Category is one of the coarse stem names a separator produces.
type Category string

const (
	Vocals Category = "vocals"
	Drums  Category = "drums"
	Bass   Category = "bass"
	Other  Category = "other"
	Piano  Category = "piano"
	Guitar Category = "guitar"
)

// Categories lists every category in processing order.
var Categories = []Category{Vocals, Drums, Bass, Other, Piano, Guitar}

// Treatment is what the pipeline does with a category before finishing.
type Treatment int

const (
	// Passthrough finalizes the stem as is.
	Passthrough Treatment = iota
	// BandSplit splits the stem into low, mid and high bands when enabled.
	BandSplit
	// Factorize decomposes the stem into components.
	Factorize
)

var treatments = map[Category]Treatment{
	Vocals: Passthrough,
	Drums:  BandSplit,
	Bass:   Passthrough,
	Other:  Factorize,
	Piano:  Factorize,
	Guitar: Factorize,
}

// ParseCategory validates a stem name.
func ParseCategory(name string) (Category, error) {
	c := Category(name)
	if _, ok := treatments[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, name)
	}
	return c, nil
}

// Treatment returns how the pipeline processes c.
func (c Category) Treatment() Treatment { return treatments[c] }

// BandName returns the output name of one band of c.
func (c Category) BandName(band string) string {
	return fmt.Sprintf("%s_%s", c, band)
}

// ComponentName returns the output name of component i (1-based) of c.
func (c Category) ComponentName(i int) string {
	return fmt.Sprintf("%s_comp%d", c, i)
}
