package speech

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	linkPattern       = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	linePrefixPattern = regexp.MustCompile(`(?m)^[ \t]*(?:(?:[-+•]|\d+\))[ \t]+|>[ \t]*)+`)
	isoDatePattern    = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	usDatePattern     = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	percentPattern    = regexp.MustCompile(`(\d)[ \t]*%`)
	unitPattern       = regexp.MustCompile(`\b(\d+(?:\.\d+)?)[ \t]*(ms|secs|sec|s|mins|min|hrs|hr|h|kbps|Kbps|mbps|Mbps|gbps|Gbps)\b`)
	ampersandPattern  = regexp.MustCompile(`[ \t]+&[ \t]+`)
	spacePattern      = regexp.MustCompile(`[ \t]+`)

	markupStripper = strings.NewReplacer("`", "", "*", "", "#", "", "~", "", "_", " ")
)

const maxNormalizePasses = 8

type expansion struct {
	pattern *regexp.Regexp
	spoken  string
}

// The trailing period is optional so that a period added at a line end can
// never create a new match.
var abbreviations = []expansion{
	{regexp.MustCompile(`\be\.g\b\.?`), "for example"},
	{regexp.MustCompile(`\bi\.e\b\.?`), "that is"},
	{regexp.MustCompile(`\bvs\b\.?`), "versus"},
	{regexp.MustCompile(`\b[Aa]pprox\b\.?`), "approximately"},
	{regexp.MustCompile(`\b[Aa]vg\b\.?`), "average"},
	{regexp.MustCompile(`\betc\b\.?`), "and so on"},
}

var unitWords = map[string][2]string{
	"ms":   {"millisecond", "milliseconds"},
	"s":    {"second", "seconds"},
	"sec":  {"second", "seconds"},
	"secs": {"second", "seconds"},
	"min":  {"minute", "minutes"},
	"mins": {"minute", "minutes"},
	"h":    {"hour", "hours"},
	"hr":   {"hour", "hours"},
	"hrs":  {"hour", "hours"},
	"kbps": {"kilobit per second", "kilobits per second"},
	"Kbps": {"kilobit per second", "kilobits per second"},
	"mbps": {"megabit per second", "megabits per second"},
	"Mbps": {"megabit per second", "megabits per second"},
	"gbps": {"gigabit per second", "gigabits per second"},
	"Gbps": {"gigabit per second", "gigabits per second"},
}

// Normalize turns report or script text into plain speakable prose.
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	out := strings.ReplaceAll(text, "\r\n", "\n")
	// A pass can expose new matches, e.g. joined lines or a unit split off a
	// date, so run until the text stops changing.
	for range maxNormalizePasses {
		next := normalizePass(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func normalizePass(text string) string {
	out := markupStripper.Replace(text)
	out = ampersandPattern.ReplaceAllString(out, " and ")
	// Each replacement shrinks the text, so nested links terminate.
	for linkPattern.MatchString(out) {
		out = linkPattern.ReplaceAllString(out, "$1")
	}
	out = linePrefixPattern.ReplaceAllString(out, "")

	out = percentPattern.ReplaceAllString(out, "$1 percent")
	out = unitPattern.ReplaceAllStringFunc(out, func(match string) string {
		parts := unitPattern.FindStringSubmatch(match)
		words, ok := unitWords[parts[2]]
		if !ok {
			return match
		}
		if parts[1] == "1" {
			return parts[1] + " " + words[0]
		}
		return parts[1] + " " + words[1]
	})
	out = isoDatePattern.ReplaceAllStringFunc(out, func(match string) string {
		parts := isoDatePattern.FindStringSubmatch(match)
		return spokenDate(match, parts[1], parts[2], parts[3])
	})
	out = usDatePattern.ReplaceAllStringFunc(out, func(match string) string {
		parts := usDatePattern.FindStringSubmatch(match)
		return spokenDate(match, parts[3], parts[1], parts[2])
	})
	for _, abbreviation := range abbreviations {
		out = abbreviation.pattern.ReplaceAllString(out, abbreviation.spoken)
	}

	return ampersandPattern.ReplaceAllString(joinLines(out), " and ")
}

// joinLines folds lines into sentences so headings and list items are read
// with a pause.
func joinLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(spacePattern.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		if !endsWithPunctuation(line) {
			line += "."
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, " ")
}

func endsWithPunctuation(line string) bool {
	switch line[len(line)-1] {
	case '.', '!', '?', ':', ';', ',':
		return true
	}
	return false
}

func spokenDate(original, year, month, day string) string {
	y, errY := strconv.Atoi(year)
	m, errM := strconv.Atoi(month)
	d, errD := strconv.Atoi(day)
	if errY != nil || errM != nil || errD != nil || m < 1 || m > 12 || d < 1 || d > 31 {
		return original
	}
	return fmt.Sprintf("%s %d, %d", time.Month(m).String(), d, y)
}
