package dmc

// Extract returns the deduplicated candidate codes referenced by a document.
// Column extraction over tokens is preferred; when it finds nothing the flat
// text is searched instead.
func Extract(fullText string, tokens []Token) ([]string, error) {
	if fullText == "" {
		return nil, ErrMissingText
	}
	if codes := ExtractColumns(tokens); len(codes) > 0 {
		return codes, nil
	}
	return ExtractText(fullText), nil
}
