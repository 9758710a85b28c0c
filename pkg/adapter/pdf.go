package adapter

import (
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/m-mizutani/goerr/v2"
)

// ExtractPDFText returns the plain text of every page of the PDF at path, each page followed by a newline
func ExtractPDFText(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", goerr.Wrap(err, "failed to open PDF", goerr.V("path", path))
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", goerr.Wrap(err, "failed to extract page text",
				goerr.V("path", path),
				goerr.V("page", i))
		}
		b.WriteString(text)
		b.WriteString("\n")
	}

	return b.String(), nil
}
