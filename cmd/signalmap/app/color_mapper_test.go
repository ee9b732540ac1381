package app

import (
	"image/color"
	"testing"
)

func rgba(c color.Color) color.RGBA {
	return color.RGBAModel.Convert(c).(color.RGBA)
}

func TestParseColorTheme(t *testing.T) {
	for _, theme := range Themes {
		if got, err := ParseColorTheme(string(theme)); err != nil || got != theme {
			t.Errorf("ParseColorTheme(%q) = %q, %v", theme, got, err)
		}
	}

	if _, err := ParseColorTheme("sepia"); err == nil {
		t.Error("Expected error for unknown theme")
	}
}

func TestColorMapper_GetColor(t *testing.T) {
	bounds := PowerBounds{Min: -120, Max: -50}
	cm := NewColorMapper(GrayscaleTheme, bounds)

	if cm.Size() != DefaultColorMapSize || cm.ThemeName() != GrayscaleTheme {
		t.Fatalf("Unexpected mapper %d %s", cm.Size(), cm.ThemeName())
	}

	if c := rgba(cm.GetColor(nil)); c != rgba(NoDataColor) {
		t.Errorf("Expected no data color, got %v", c)
	}

	black := rgba(cm.GetColor(float64Ptr(-120)))
	white := rgba(cm.GetColor(float64Ptr(-50)))
	if black.R != 0 || black.G != 0 || black.B != 0 {
		t.Errorf("Expected black at the minimum, got %v", black)
	}
	if white.R != 0xff || white.G != 0xff || white.B != 0xff {
		t.Errorf("Expected white at the maximum, got %v", white)
	}

	// out of range values are clamped
	if c := rgba(cm.GetColor(float64Ptr(-150))); c != black {
		t.Errorf("Expected clamp to minimum, got %v", c)
	}
	if c := rgba(cm.GetColor(float64Ptr(-10))); c != white {
		t.Errorf("Expected clamp to maximum, got %v", c)
	}

	mid := rgba(cm.GetColor(float64Ptr(-85)))
	if mid.R <= black.R || mid.R >= white.R {
		t.Errorf("Expected a gray between black and white, got %v", mid)
	}
}

func TestColorMapper_UpdateBounds(t *testing.T) {
	cm := NewColorMapperWithSize(TrafficTheme, PowerBounds{Min: -120, Max: -50}, 64)

	before := rgba(cm.GetColor(float64Ptr(-90)))
	cm.UpdateBounds(PowerBounds{Min: -90, Max: -60})
	after := rgba(cm.GetColor(float64Ptr(-90)))

	if before == after {
		t.Error("Expected a different color after the bounds change")
	}
	if cm.Bounds().Min != -90 {
		t.Errorf("Expected new bounds, got %+v", cm.Bounds())
	}

	// weak signal is red, strong signal is green
	weak := rgba(cm.GetColor(float64Ptr(-90)))
	strong := rgba(cm.GetColor(float64Ptr(-60)))
	if weak.R < weak.G || strong.G < strong.R {
		t.Errorf("Unexpected traffic colors weak=%v strong=%v", weak, strong)
	}
}

func TestColorMapper_EmptyBounds(t *testing.T) {
	cm := NewColorMapper(ClassicTheme, PowerBounds{Min: -80, Max: -80})
	if c := cm.GetColor(float64Ptr(-80)); c == nil {
		t.Error("Expected a color for empty bounds")
	}
}

func TestColorThemes_Opaque(t *testing.T) {
	for _, theme := range Themes {
		fn := colorTheme(theme)
		for i := 0; i <= 10; i++ {
			if c := rgba(fn(float64(i) / 10)); c.A != 0xff {
				t.Errorf("%s: expected opaque color at %d, got %v", theme, i, c)
			}
		}
	}
}
