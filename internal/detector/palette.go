package detector

import (
	"image/color"
	"math/rand"
)

// paletteSeed fixes the class colors across runs.
const paletteSeed = 42

// fallbackColor is used for classes the palette does not know.
var fallbackColor = color.RGBA{0, 255, 0, 255}

// Palette maps class names to stable drawing colors.
type Palette struct {
	colors map[string]color.RGBA
}

// NewPalette derives one color per class, in class order, from a fixed seed.
// The same class list always yields the same colors.
func NewPalette(classes []string) Palette {
	r := rand.New(rand.NewSource(paletteSeed))
	colors := make(map[string]color.RGBA, len(classes))
	for _, name := range classes {
		c := color.RGBA{
			R: uint8(r.Intn(255)),
			G: uint8(r.Intn(255)),
			B: uint8(r.Intn(255)),
			A: 255,
		}
		if _, ok := colors[name]; !ok {
			colors[name] = c
		}
	}
	return Palette{colors: colors}
}

// Color returns the color for a class, or green when the class is unknown.
func (p Palette) Color(className string) color.RGBA {
	if c, ok := p.colors[className]; ok {
		return c
	}
	return fallbackColor
}

// Len returns the number of classes with an assigned color.
func (p Palette) Len() int {
	return len(p.colors)
}
