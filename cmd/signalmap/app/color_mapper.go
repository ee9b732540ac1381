package app

import (
	"fmt"
	"image/color"
	"math"
	"slices"

	"github.com/lucasb-eyer/go-colorful"
)

// ColorTheme is a predefined color scheme for signal power.
type ColorTheme string

const (
	EnhancedTheme  ColorTheme = "enhanced"  // Black to blue to cyan to yellow to red
	ClassicTheme   ColorTheme = "classic"   // Blue to red
	GrayscaleTheme ColorTheme = "grayscale" // Black to white
	JungleTheme    ColorTheme = "jungle"    // Dark green to yellow
	ThermalTheme   ColorTheme = "thermal"   // Black to red to yellow to white
	MarineTheme    ColorTheme = "marine"    // Deep blue to cyan to white
	TrafficTheme   ColorTheme = "traffic"   // Red to yellow to green, strong signal is green

	DefaultColorMapSize = 256
)

// Themes lists the supported color themes
var Themes = []ColorTheme{EnhancedTheme, ClassicTheme, GrayscaleTheme, JungleTheme, ThermalTheme, MarineTheme, TrafficTheme}

// NoDataColor marks readings without a dBm value
var NoDataColor color.Color = color.RGBA{R: 0x60, G: 0x60, B: 0x60, A: 0xff}

// ParseColorTheme validates a theme name
func ParseColorTheme(s string) (ColorTheme, error) {
	t := ColorTheme(s)
	if !slices.Contains(Themes, t) {
		return "", fmt.Errorf("unknown color theme '%s'", s)
	}
	return t, nil
}

// ColorMapper maps signal power to colors through a pre-computed lookup table
type ColorMapper struct {
	colorMap      []color.Color
	theme         func(float64) color.Color
	themeName     ColorTheme
	size          int
	bounds        PowerBounds
	powerPerIndex float64
}

// NewColorMapper creates a color mapper with the default table size
func NewColorMapper(theme ColorTheme, bounds PowerBounds) *ColorMapper {
	return NewColorMapperWithSize(theme, bounds, DefaultColorMapSize)
}

func NewColorMapperWithSize(theme ColorTheme, bounds PowerBounds, size int) *ColorMapper {
	if size <= 1 {
		size = DefaultColorMapSize
	}

	cm := &ColorMapper{
		colorMap:  make([]color.Color, size),
		theme:     colorTheme(theme),
		themeName: theme,
		size:      size,
	}
	cm.UpdateBounds(bounds)
	return cm
}

// UpdateBounds sets the power range and rebuilds the color table
func (cm *ColorMapper) UpdateBounds(bounds PowerBounds) {
	cm.bounds = bounds
	cm.powerPerIndex = bounds.Span() / float64(cm.size-1)

	for i := 0; i < cm.size; i++ {
		cm.colorMap[i] = cm.theme(float64(i) / float64(cm.size-1))
	}
}

// GetColor returns the color for power, NoDataColor for nil
func (cm *ColorMapper) GetColor(power *float64) color.Color {
	if power == nil {
		return NoDataColor
	}
	if cm.powerPerIndex <= 0 {
		return cm.colorMap[0]
	}

	index := int(math.Round((*power - cm.bounds.Min) / cm.powerPerIndex))
	if index < 0 {
		return cm.colorMap[0]
	}
	if index >= cm.size {
		return cm.colorMap[cm.size-1]
	}
	return cm.colorMap[index]
}

// Bounds returns the current power range
func (cm *ColorMapper) Bounds() PowerBounds {
	return cm.bounds
}

func (cm *ColorMapper) ThemeName() ColorTheme {
	return cm.themeName
}

func (cm *ColorMapper) Size() int {
	return cm.size
}

func hsv(h, s, v float64) color.Color {
	return colorful.Hsv(math.Mod(h+360, 360), s, math.Max(0, math.Min(1, v))).Clamped()
}

func gray(v float64) color.Color {
	return colorful.Color{R: v, G: v, B: v}.Clamped()
}

var (
	thermalBlack  = colorful.Color{}
	thermalRed    = colorful.Color{R: 1}
	thermalYellow = colorful.Color{R: 1, G: 1}
	thermalWhite  = colorful.Color{R: 1, G: 1, B: 1}
)

func colorTheme(theme ColorTheme) func(float64) color.Color {
	switch theme {
	case ClassicTheme:
		return func(power float64) color.Color {
			return hsv(240-(power*240), 0.9+(power*0.1), math.Pow(power, 0.7))
		}

	case GrayscaleTheme:
		return func(power float64) color.Color {
			return gray(math.Pow(power, 0.7))
		}

	case JungleTheme:
		return func(power float64) color.Color {
			return hsv(120-(power*60), 1.0, 0.3+(math.Pow(power, 0.6)*0.7))
		}

	case ThermalTheme:
		return func(power float64) color.Color {
			switch {
			case power < 1.0/3:
				return thermalBlack.BlendRgb(thermalRed, power*3).Clamped()
			case power < 2.0/3:
				return thermalRed.BlendRgb(thermalYellow, (power-1.0/3)*3).Clamped()
			default:
				return thermalYellow.BlendRgb(thermalWhite, (power-2.0/3)*3).Clamped()
			}
		}

	case MarineTheme:
		return func(power float64) color.Color {
			return hsv(240-(power*60), 1.0-(power*0.8), 0.3+(math.Pow(power, 0.6)*0.7))
		}

	case TrafficTheme:
		return func(power float64) color.Color {
			return hsv(power*120, 1.0, 0.9)
		}

	default:
		return enhancedColor
	}
}

// enhancedColor gives better differentiation in the lower power ranges
func enhancedColor(power float64) color.Color {
	power = math.Max(0, math.Min(1, power))
	enhanced := math.Pow(power, 0.7)

	switch {
	case power < 0.25:
		return hsv(240, 1.0, enhanced*4)
	case power < 0.5:
		return hsv(240-((power-0.25)*240), 1.0, enhanced*1.5)
	case power < 0.75:
		p := (power - 0.5) * 4
		return hsv(180-(p*120), 1.0, enhanced*1.5)
	default:
		p := (power - 0.75) * 4
		return hsv(60-(p*60), 1.0, 1.0)
	}
}
