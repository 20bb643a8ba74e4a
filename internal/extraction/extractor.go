// Package extraction turns résumé attachments into plain text and profile links.
package extraction

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	"github.com/spigell/cv-intake/internal/domain"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeDOC  = "application/msword"
	mimeText = "text/plain"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported resume format")
	ErrEmptyText         = errors.New("no text could be extracted from resume")
)

// resumeExtensions maps recognized résumé file extensions to their media type.
var resumeExtensions = map[string]string{
	".pdf":  mimePDF,
	".docx": mimeDOCX,
	".doc":  mimeDOC,
	".txt":  mimeText,
}

// IsResumeFile reports whether filename carries a recognized résumé extension.
func IsResumeFile(filename string) bool {
	_, ok := resumeExtensions[strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))]
	return ok
}

// MediaType resolves the media type used for extraction. The extension wins over
// the declared content type because mail clients often send application/octet-stream.
func MediaType(filename, declared string) string {
	if mt, ok := resumeExtensions[strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))]; ok {
		return mt
	}
	declared = strings.ToLower(strings.TrimSpace(declared))
	if idx := strings.Index(declared, ";"); idx != -1 {
		declared = strings.TrimSpace(declared[:idx])
	}
	return declared
}

// Extract reads the document text and detects profile links in it.
func Extract(filename, contentType string, data []byte) (*domain.ParsedResume, error) {
	mediaType := MediaType(filename, contentType)

	var (
		text string
		err  error
	)
	switch mediaType {
	case mimePDF:
		text, err = extractPDFText(data)
	case mimeDOCX:
		text, err = extractDocxText(data)
	case mimeText:
		text, err = extractPlainText(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mediaType)
	}
	if err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	return &domain.ParsedResume{
		Filename:    filename,
		ContentType: mediaType,
		Text:        text,
		Links:       DetectLinks(text),
	}, nil
}

func extractPlainText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("plain text resume is not valid utf-8")
	}
	return string(data), nil
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to read pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to read pdf page %d: %w", i, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	return sb.String(), nil
}

func extractDocxText(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to parse docx: %w", err)
	}
	defer doc.Close()

	return wordprocessingText(doc.Editable().GetContent())
}

// wordprocessingText flattens document.xml markup into text, one line per paragraph.
func wordprocessingText(content string) (string, error) {
	decoder := xml.NewDecoder(strings.NewReader(content))

	var (
		sb     strings.Builder
		inText bool
	)
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read docx content: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteString("\t")
			case "br", "cr":
				sb.WriteString("\n")
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

	return sb.String(), nil
}
