package render

import (
	"fmt"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/meridianfin/advisor-agent/pkg/models"
)

// currencyDisplay controls symbol and placement for a supported locale. Only
// the two locales named in the scenario suite are wired; an unrecognized
// locale falls back to en-US rather than erroring, since the renderer must
// never fail on a formatting detail.
type currencyDisplay struct {
	symbol string
	suffix bool // Vietnamese dong trails the amount
}

var localeCurrency = map[string]currencyDisplay{
	"vi-VN": {symbol: "₫", suffix: true},
	"en-US": {symbol: "$"},
}

// localeTag resolves a locale string to a language.Tag for message.Printer,
// defaulting to en-US for anything unrecognized.
func localeTag(locale string) language.Tag {
	tag, err := language.Parse(locale)
	if err != nil {
		return language.AmericanEnglish
	}
	return tag
}

func localeDisplay(locale string) currencyDisplay {
	if d, ok := localeCurrency[locale]; ok {
		return d
	}
	return localeCurrency["en-US"]
}

// FormatFact renders a single fact's value using locale-aware number,
// currency, percentage, and boolean formatting. The LLM never formats
// numbers itself: this is the sole authority for numeric text in the
// rendered body.
func FormatFact(f models.Fact, locale string) string {
	printer := message.NewPrinter(localeTag(locale))

	switch v := f.Value.(type) {
	case bool:
		return formatBool(v, locale)
	case string:
		return v
	case float64:
		return formatNumeric(printer, v, f.Unit, locale)
	case int:
		return formatNumeric(printer, float64(v), f.Unit, locale)
	default:
		return fmt.Sprint(v)
	}
}

func formatBool(v bool, locale string) string {
	if locale == "vi-VN" {
		if v {
			return "có"
		}
		return "không"
	}
	if v {
		return "yes"
	}
	return "no"
}

func formatNumeric(printer *message.Printer, v float64, unit, locale string) string {
	switch unit {
	case "currency":
		display := localeDisplay(locale)
		amount := printer.Sprint(number.Decimal(v, number.MaxFractionDigits(0)))
		if display.suffix {
			return amount + " " + display.symbol
		}
		return display.symbol + amount
	case "pct":
		return printer.Sprintf("%.1f%%", v)
	case "months", "days":
		return fmt.Sprintf("%s %s", trimToInt(v), unit)
	default:
		return printer.Sprint(number.Decimal(v))
	}
}

// trimToInt renders v without a trailing ".0" when it is a whole number,
// since fact values like runway_months commonly arrive as integral floats.
func trimToInt(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}
