package utils

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatCount renders n with thousands separators, e.g. 12,345.
func FormatCount(n int) string {
	return printer.Sprintf("%d", n)
}

// FormatPrice renders a dollar amount with two decimals and thousands separators.
func FormatPrice(v float64) string {
	return printer.Sprintf("$%.2f", v)
}
