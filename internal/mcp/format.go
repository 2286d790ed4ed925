package mcp

import (
	"fmt"
	"strconv"
	"strings"
)

const keyWidth = 20

// formatNumber renders whole numbers with thousands separators and
// fractional ones with a single decimal.
func formatNumber(n any) string {
	switch v := n.(type) {
	case float64:
		if v != float64(int64(v)) {
			return strconv.FormatFloat(v, 'f', 1, 64)
		}
		return groupDigits(int64(v))
	case int:
		return groupDigits(int64(v))
	case int64:
		return groupDigits(v)
	case uint64:
		return groupDigits(int64(v))
	}
	return fmt.Sprint(n)
}

func groupDigits(v int64) string {
	digits := strconv.FormatInt(v, 10)
	sign := ""
	if v < 0 {
		sign, digits = "-", digits[1:]
	}
	if len(digits) <= 3 {
		return sign + digits
	}

	var b strings.Builder
	b.WriteString(sign)
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte(',')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

func kv(key string, value any) string {
	return fmt.Sprintf("%-*s %v", keyWidth, key+":", value)
}

func section(title string) string { return "## " + title }

// joinLines drops empty lines.
func joinLines(lines ...string) string {
	kept := lines[:0:0]
	for _, l := range lines {
		if l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

func formatHbar(tinybars float64) string {
	return strconv.FormatFloat(tinybars/1e8, 'f', 8, 64) + " HBAR"
}

func formatSeconds(ms float64) string {
	return strconv.FormatFloat(ms/1000, 'f', 1, 64) + "s"
}
