package theme

import (
	"fmt"
	"slices"
	"strings"
)

// Context describes the type of context to apply the color into.
type Context string

// The different context types for themes.
const (
	ThemeInfo             Context = "Info"
	ThemeWarn             Context = "Warn"
	ThemeError            Context = "Error"
	ThemeHint             Context = "Hint"
	ThemeHeader           Context = "Header"
	ThemeDevice           Context = "Device"
	ThemeDeviceCompatible Context = "DeviceCompatible"
	ThemeDevicePaired     Context = "DevicePaired"
	ThemeProgress         Context = "Progress"
)

var contexts = []Context{
	ThemeInfo, ThemeWarn, ThemeError, ThemeHint, ThemeHeader,
	ThemeDevice, ThemeDeviceCompatible, ThemeDevicePaired, ThemeProgress,
}

// ThemeConfig stores a list of color for the modifier elements.
var ThemeConfig = map[Context]string{
	ThemeInfo:  "green",
	ThemeWarn:  "yellow",
	ThemeError: "red",
	ThemeHint:  "cyan",

	ThemeHeader:           "white",
	ThemeDevice:           "default",
	ThemeDeviceCompatible: "hi-green",
	ThemeDevicePaired:     "blue",

	ThemeProgress: "default",
}

// ParseThemeConfig parses the theme configuration.
func ParseThemeConfig(themeConfig map[string]string) error {
	for context, color := range themeConfig {
		if !slices.Contains(contexts, Context(context)) {
			return fmt.Errorf("theme configuration has an unknown element %s", context)
		}

		color = strings.ToLower(strings.TrimSpace(color))
		if !isValidElementColor(color) {
			return fmt.Errorf("theme configuration is incorrect for %s (%s)", context, color)
		}

		if color == "transparent" {
			color = "default"
		}

		ThemeConfig[Context(context)] = color
	}

	return nil
}
