package cmd

import (
	"github.com/darkhz/bttnc/errorkinds"
	"github.com/darkhz/bttnc/theme"
)

// printInfo prints an informational message to the screen.
func printInfo(message string) {
	message = "[+] " + message

	theme.GetColor(theme.ThemeInfo).Println(message)
}

// printWarn prints a warning to the screen.
func printWarn(message string) {
	message = "[-] " + message

	theme.GetColor(theme.ThemeWarn).Println(message)
}

// printError prints an error to the screen, followed by a hint on how
// to resolve it, if there is one.
func printError(err error) {
	message := "[!] " + err.Error()

	theme.GetColor(theme.ThemeError).Println(message)

	hint := errorkinds.Hint(err)
	if hint == "" {
		return
	}

	context := theme.ThemeHint
	if !errorkinds.Retryable(err) {
		context = theme.ThemeWarn
	}

	theme.GetColor(context).Println("[*] " + hint)
}
