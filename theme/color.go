package theme

import (
	"github.com/fatih/color"
)

var colorNames = map[string]color.Attribute{
	"black":   color.FgBlack,
	"red":     color.FgRed,
	"green":   color.FgGreen,
	"yellow":  color.FgYellow,
	"blue":    color.FgBlue,
	"magenta": color.FgMagenta,
	"cyan":    color.FgCyan,
	"white":   color.FgWhite,

	"hi-black":   color.FgHiBlack,
	"hi-red":     color.FgHiRed,
	"hi-green":   color.FgHiGreen,
	"hi-yellow":  color.FgHiYellow,
	"hi-blue":    color.FgHiBlue,
	"hi-magenta": color.FgHiMagenta,
	"hi-cyan":    color.FgHiCyan,
	"hi-white":   color.FgHiWhite,
}

// GetColor returns the color of the modifier element.
// Every element except the default colored ones is printed in bold.
func GetColor(themeContext Context) *color.Color {
	attr, ok := colorNames[ThemeConfig[themeContext]]
	if !ok {
		return color.New(color.Reset)
	}

	return color.New(attr, color.Bold)
}

// ColorWrap wraps the text content with the modifier element's color.
func ColorWrap(themeContext Context, content string) string {
	return GetColor(themeContext).Sprint(content)
}

// isValidElementColor returns whether the modifier-value pair is valid.
func isValidElementColor(name string) bool {
	if name == "default" || name == "transparent" {
		return true
	}

	_, ok := colorNames[name]

	return ok
}
