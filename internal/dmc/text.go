package dmc

import "strings"

// Tokens on each side of a code that are searched for "DMC".
const proximityWindow = 4

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool { return !isAlnum(r) })
	for i, f := range fields {
		fields[i] = strings.ToUpper(f)
	}
	return fields
}

type codeAt struct {
	code string
	idx  int
}

// ExtractText finds codes in flat text. Codes within proximityWindow tokens
// of a literal "DMC" win; when none are that close every code is returned.
func ExtractText(text string) []string {
	toks := tokenize(text)

	var found []codeAt
	for i, t := range toks {
		if code, ok := MatchCode(t); ok {
			found = append(found, codeAt{code: code, idx: i})
		}
	}
	if len(found) == 0 {
		return []string{}
	}

	near := newCodeSet()
	for _, c := range found {
		start := max(0, c.idx-proximityWindow)
		end := min(len(toks), c.idx+proximityWindow+1)
		for _, t := range toks[start:end] {
			if t == "DMC" {
				near.add(c.code)
				break
			}
		}
	}
	if near.len() > 0 {
		return near.list()
	}

	all := newCodeSet()
	for _, c := range found {
		all.add(c.code)
	}
	return all.list()
}
