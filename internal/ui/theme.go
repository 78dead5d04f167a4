package ui

import (
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/theme"
)

// clientTheme is the light palette with a teal accent and a monospace log.
type clientTheme struct {
	base fyne.Theme
}

func newClientTheme() fyne.Theme {
	return &clientTheme{base: theme.DefaultTheme()}
}

func (t *clientTheme) Color(name fyne.ThemeColorName, variant fyne.ThemeVariant) color.Color {
	switch name {
	case theme.ColorNameBackground:
		if variant == theme.VariantDark {
			return color.NRGBA{R: 28, G: 30, B: 36, A: 255}
		}
		return color.NRGBA{R: 246, G: 247, B: 250, A: 255}
	case theme.ColorNamePrimary:
		return color.NRGBA{R: 13, G: 148, B: 136, A: 255}
	case theme.ColorNameSuccess:
		return color.NRGBA{R: 22, G: 163, B: 74, A: 255}
	case theme.ColorNameError:
		return color.NRGBA{R: 220, G: 38, B: 38, A: 255}
	default:
		return t.base.Color(name, variant)
	}
}

func (t *clientTheme) Font(style fyne.TextStyle) fyne.Resource {
	return t.base.Font(style)
}

func (t *clientTheme) Icon(name fyne.ThemeIconName) fyne.Resource {
	return t.base.Icon(name)
}

func (t *clientTheme) Size(name fyne.ThemeSizeName) float32 {
	if name == theme.SizeNameText {
		return 13
	}
	return t.base.Size(name)
}
