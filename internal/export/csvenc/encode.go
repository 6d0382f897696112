package csvenc

import (
	"bytes"
	"encoding/csv"
	"strings"
)

// Encoder writes the export as delimited text with '\n' line endings.
// QuoteAll wraps every field in double quotes (the deployed format);
// otherwise fields are quoted only when needed, as encoding/csv does.
type Encoder struct {
	Delimiter rune
	QuoteAll  bool
}

// Default is the format consumers of the export rely on.
var Default = Encoder{Delimiter: ';', QuoteAll: true}

// Encode always emits the header line, even without rows.
func (e Encoder) Encode(header []string, rows [][]string) ([]byte, error) {
	if e.Delimiter == 0 {
		e.Delimiter = ';'
	}
	var buf bytes.Buffer
	if e.QuoteAll {
		e.writeQuoted(&buf, header)
		for _, row := range rows {
			e.writeQuoted(&buf, row)
		}
		return buf.Bytes(), nil
	}

	w := csv.NewWriter(&buf)
	w.Comma = e.Delimiter
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e Encoder) writeQuoted(buf *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteRune(e.Delimiter)
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(f, `"`, `""`))
		buf.WriteByte('"')
	}
	buf.WriteByte('\n')
}
