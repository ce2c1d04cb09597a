package model

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"ragkb/types"
)

// ParseFile extracts ordered (page, text) pairs from an uploaded file.
// PDF pages keep their 1-based numbers; page-less formats collapse into a
// single page with a nil number. A file with no extractable text returns
// types.ErrEmptyDocument.
func ParseFile(filename string, data []byte) ([]types.Page, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".pdf":
		return parsePDF(data)
	case ".docx":
		return parseDOCX(data)
	case ".txt", ".md":
		text := strings.TrimSpace(string(data))
		if text == "" {
			return nil, types.ErrEmptyDocument
		}
		return []types.Page{{Number: nil, Text: text}}, nil
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedType, ext)
	}
}

func parsePDF(data []byte) ([]types.Page, error) {
	// Reject broken files early, before text extraction.
	if err := api.Validate(bytes.NewReader(data), api.LoadConfiguration()); err != nil {
		return nil, fmt.Errorf("invalid PDF: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read PDF: %w", err)
	}

	var pages []types.Page
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		num := i
		pages = append(pages, types.Page{Number: &num, Text: text})
	}

	if len(pages) == 0 {
		return nil, types.ErrEmptyDocument
	}
	return pages, nil
}

// parseDOCX pulls paragraph text out of word/document.xml. The whole
// document becomes one page because docx has no stable pagination.
func parseDOCX(data []byte) ([]types.Page, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read docx archive: %w", err)
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open document.xml: %w", err)
			}
			docXML, err = io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("read document.xml: %w", err)
			}
			break
		}
	}
	if docXML == nil {
		return nil, fmt.Errorf("docx has no word/document.xml")
	}

	text := strings.TrimSpace(docxText(docXML))
	if text == "" {
		return nil, types.ErrEmptyDocument
	}
	return []types.Page{{Number: nil, Text: text}}, nil
}

func docxText(docXML []byte) string {
	decoder := xml.NewDecoder(bytes.NewReader(docXML))

	var sb strings.Builder
	inText := false
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String()
}
