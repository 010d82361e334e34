// Package numparse parses German number words and digit strings in the
// range 0..100.
package numparse

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Max is the largest value Parse accepts
const Max = 100

var (
	digitRun = regexp.MustCompile(`\d+`)

	compound = regexp.MustCompile(`^(ein|eins|zwei|drei|vier|fuenf|funf|sechs|sieben|acht|neun)und(zwanzig|dreissig|vierzig|fuenfzig|funfzig|sechzig|siebzig|achtzig|neunzig)$`)

	transliterate = strings.NewReplacer("ß", "ss", "ä", "ae", "ö", "oe", "ü", "ue")

	// a Caser may carry state between calls, so each goroutine takes its own
	lowers = sync.Pool{New: func() any { return cases.Lower(language.German) }}
)

// words is the closed vocabulary for exact matches, keyed by the
// transliterated spelling.
var words = map[string]int{
	"null":       0,
	"kein":       0,
	"zero":       0,
	"ein":        1,
	"eins":       1,
	"eine":       1,
	"zwei":       2,
	"drei":       3,
	"vier":       4,
	"fuenf":      5,
	"funf":       5,
	"sechs":      6,
	"sieben":     7,
	"acht":       8,
	"neun":       9,
	"zehn":       10,
	"elf":        11,
	"zwoelf":     12,
	"zwolf":      12,
	"dreizehn":   13,
	"vierzehn":   14,
	"fuenfzehn":  15,
	"funfzehn":   15,
	"sechzehn":   16,
	"siebzehn":   17,
	"achtzehn":   18,
	"neunzehn":   19,
	"zwanzig":    20,
	"dreissig":   30,
	"vierzig":    40,
	"fuenfzig":   50,
	"funfzig":    50,
	"sechzig":    60,
	"siebzig":    70,
	"achtzig":    80,
	"neunzig":    90,
	"hundert":    100,
	"einhundert": 100,
}

var units = map[string]int{
	"ein":    1,
	"eins":   1,
	"zwei":   2,
	"drei":   3,
	"vier":   4,
	"fuenf":  5,
	"funf":   5,
	"sechs":  6,
	"sieben": 7,
	"acht":   8,
	"neun":   9,
}

var tens = map[string]int{
	"zwanzig":  20,
	"dreissig": 30,
	"vierzig":  40,
	"fuenfzig": 50,
	"funfzig":  50,
	"sechzig":  60,
	"siebzig":  70,
	"achtzig":  80,
	"neunzig":  90,
}

// Parse extracts a number in [0, Max] from a transcript. It tries, in order,
// a digit run anywhere in the text, an exact vocabulary word, and a
// unit+"und"+tens compound. Recognizers sometimes split compounds into words
// ("drei und zwanzig"), so word matching also runs on the text with the
// whitespace removed. Anything else yields ok == false.
func Parse(text string) (n int, ok bool) {
	t := Normalize(text)
	if t == "" {
		return 0, false
	}

	if run := digitRun.FindString(t); run != "" {
		v, err := strconv.Atoi(run)
		if err != nil {
			return 0, false
		}
		return inRange(v)
	}

	if v, ok := matchWord(t); ok {
		return inRange(v)
	}
	if joined := strings.Join(strings.Fields(t), ""); joined != t {
		if v, ok := matchWord(joined); ok {
			return inRange(v)
		}
	}
	return 0, false
}

// Normalize lower-cases text, trims it and transliterates umlauts and ß
func Normalize(text string) string {
	lower := lowers.Get().(cases.Caser)
	defer lowers.Put(lower)
	return strings.TrimSpace(transliterate.Replace(lower.String(text)))
}

func matchWord(t string) (int, bool) {
	if v, ok := words[t]; ok {
		return v, true
	}
	m := compound.FindStringSubmatch(t)
	if m == nil {
		return 0, false
	}
	u, uok := units[m[1]]
	ts, tok := tens[m[2]]
	if !uok || !tok {
		return 0, false
	}
	return u + ts, true
}

func inRange(v int) (int, bool) {
	if v < 0 || v > Max {
		return 0, false
	}
	return v, true
}

var (
	spokenOnes = []string{"null", "eins", "zwei", "drei", "vier", "fünf", "sechs", "sieben", "acht", "neun",
		"zehn", "elf", "zwölf", "dreizehn", "vierzehn", "fünfzehn", "sechzehn", "siebzehn", "achtzehn", "neunzehn"}
	spokenUnits = []string{"ein", "zwei", "drei", "vier", "fünf", "sechs", "sieben", "acht", "neun"}
	spokenTens  = []string{"zwanzig", "dreißig", "vierzig", "fünfzig", "sechzig", "siebzig", "achtzig", "neunzig"}
)

// Vocabulary returns the spoken forms of 0..100 in standard German spelling,
// one entry per number. Recognizer grammars are built from it.
func Vocabulary() []string {
	out := make([]string, 0, Max+1)
	out = append(out, spokenOnes...)
	for _, t := range spokenTens {
		out = append(out, t)
		for _, u := range spokenUnits {
			out = append(out, u+"und"+t)
		}
	}
	return append(out, "hundert")
}
