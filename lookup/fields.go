package lookup

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Field is one header/value row of a lookup record
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

var voidElements = map[atom.Atom]bool{
	atom.Br: true, atom.Hr: true, atom.Img: true, atom.Wbr: true, atom.Input: true,
}

// ParseFields extracts (th, td) pairs from every table row of an html
// fragment. Rows without both cells, or with an empty header, are skipped.
func ParseFields(fragment string) []Field {
	z := html.NewTokenizer(strings.NewReader(fragment))

	var (
		fields         []Field
		inRow          bool
		cell           atom.Atom // cell currently being captured, 0 if none
		depth          int
		th, td         strings.Builder
		haveTH, haveTD bool
	)

	flushRow := func() {
		if inRow && haveTH && haveTD {
			name := strings.TrimSpace(th.String())
			if name != "" {
				fields = append(fields, Field{Name: name, Value: strings.TrimSpace(td.String())})
			}
		}
		inRow, haveTH, haveTD, cell, depth = false, false, false, 0, 0
		th.Reset()
		td.Reset()
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			flushRow()
			return fields

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case a == atom.Tr:
				flushRow()
				inRow = true
			case cell != 0:
				if tt == html.StartTagToken && !voidElements[a] {
					depth++
				}
			case inRow && a == atom.Th && !haveTH:
				cell, haveTH = atom.Th, true
			case inRow && a == atom.Td && !haveTD:
				cell, haveTD = atom.Td, true
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case a == atom.Tr || a == atom.Table:
				flushRow()
			case cell != 0 && a == cell && depth == 0:
				cell = 0
			case cell != 0 && depth > 0:
				depth--
			}

		case html.TextToken:
			switch cell {
			case atom.Th:
				th.Write(z.Text())
			case atom.Td:
				td.Write(z.Text())
			}
		}
	}
}

// Order puts fields into the canonical sequence; names not in canonical
// follow in the order first seen. A repeated name keeps its first position
// and its last value.
func Order(fields []Field, canonical []string) []Field {
	values := make(map[string]string, len(fields))
	var seen []string
	for _, f := range fields {
		if _, ok := values[f.Name]; !ok {
			seen = append(seen, f.Name)
		}
		values[f.Name] = f.Value
	}

	known := make(map[string]bool, len(canonical))
	out := make([]Field, 0, len(values))
	for _, name := range canonical {
		if known[name] {
			continue
		}
		known[name] = true
		if v, ok := values[name]; ok {
			out = append(out, Field{Name: name, Value: v})
		}
	}
	for _, name := range seen {
		if !known[name] {
			out = append(out, Field{Name: name, Value: values[name]})
		}
	}
	return out
}
