package codegen

import (
	"strconv"
	"strings"
	"unicode"
)

// names are the identifier spellings of one generated thing.
type names struct {
	Pascal string
	Camel  string
	Snake  string
	Kebab  string
}

// splitWords breaks s into lowercase words at separators and camelCase humps.
func splitWords(s string) []string {
	var out []string
	var cur []rune
	runes := []rune(s)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) || r > unicode.MaxASCII {
			flush()
			continue
		}
		if len(cur) > 0 && unicode.IsUpper(r) && unicode.IsLower(runes[i-1]) {
			flush()
		}
		cur = append(cur, r)
	}
	flush()
	return out
}

func makeNames(words []string, suffix string) names {
	if len(words) == 0 {
		words = []string{"item"}
	}
	if unicode.IsDigit(rune(words[0][0])) {
		words = append([]string{"n"}, words...)
	}
	var pascal strings.Builder
	for _, w := range words {
		pascal.WriteString(strings.ToUpper(w[:1]) + w[1:])
	}
	p := pascal.String()
	return names{
		Pascal: p + suffix,
		Camel:  strings.ToLower(p[:1]) + p[1:] + suffix,
		Snake:  strings.Join(words, "_") + suffix,
		Kebab:  strings.Join(words, "-") + suffix,
	}
}

func plural(w string) string {
	switch {
	case strings.HasSuffix(w, "y") && len(w) > 1 && !strings.ContainsRune("aeiou", rune(w[len(w)-2])):
		return w[:len(w)-1] + "ies"
	case strings.HasSuffix(w, "s"), strings.HasSuffix(w, "x"), strings.HasSuffix(w, "z"),
		strings.HasSuffix(w, "ch"), strings.HasSuffix(w, "sh"):
		return w + "es"
	}
	return w + "s"
}

func pluralWords(words []string) []string {
	if len(words) == 0 {
		return []string{"items"}
	}
	out := append([]string(nil), words...)
	out[len(out)-1] = plural(out[len(out)-1])
	return out
}

// namer hands out identifiers unique within one kind of artifact,
// suffixing repeats with 2, 3, ...
type namer map[string]bool

func (n namer) claim(words []string) names {
	base := makeNames(words, "")
	suffix := ""
	for i := 2; n[base.Snake+suffix]; i++ {
		suffix = strconv.Itoa(i)
	}
	n[base.Snake+suffix] = true
	return makeNames(words, suffix)
}

// screenWords names a screen from its path: "/orders/:id" -> [orders id],
// "/" -> [home].
func screenWords(path string) []string {
	var words []string
	for _, seg := range strings.Split(path, "/") {
		seg = strings.Trim(seg, ":{}")
		words = append(words, splitWords(seg)...)
	}
	if len(words) == 0 {
		return []string{"home"}
	}
	return words
}
