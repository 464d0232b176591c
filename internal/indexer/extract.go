package indexer

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"unicode/utf8"
)

var textSuffixes = map[string]bool{"txt": true, "md": true, "markdown": true}

var officeSuffixes = map[string]bool{
	"docx": true, "pptx": true, "xlsx": true,
	"odt": true, "ods": true, "odp": true,
	"sdoc": true,
}

func isText(suffix string) bool   { return textSuffixes[suffix] }
func isOffice(suffix string) bool { return officeSuffixes[suffix] }

// errNotExtracted is returned for suffixes without an extractor.
var errNotExtracted = errors.New("no extractor for file type")

// officeExpansion bounds the decompressed XML read from one archive, as a
// multiple of the office size limit.
const officeExpansion = 4

// Extract returns the plain text of a file of the given suffix. Office
// archives are read up to officeExpansion times limits.OfficeSize of
// decompressed XML, and collection stops once limits.ContentRunes runes
// are gathered.
func Extract(suffix string, data []byte, limits Limits) (string, error) {
	maxXML := limits.OfficeSize
	if maxXML <= 0 {
		maxXML = DefaultLimits().OfficeSize
	}
	maxXML *= officeExpansion

	zipXML := func(match func(name string) bool) (string, error) {
		return extractZipXML(data, match, maxXML, limits.ContentRunes)
	}
	switch {
	case isText(suffix):
		return validUTF8(data), nil
	case suffix == "sdoc":
		return extractSdoc(data)
	case suffix == "docx":
		return zipXML(func(name string) bool { return name == "word/document.xml" })
	case suffix == "pptx":
		return zipXML(func(name string) bool {
			return path.Ext(name) == ".xml" &&
				(strings.HasPrefix(name, "ppt/slides/") || strings.HasPrefix(name, "ppt/notesSlides/"))
		})
	case suffix == "xlsx":
		return zipXML(func(name string) bool { return name == "xl/sharedStrings.xml" })
	case suffix == "odt", suffix == "ods", suffix == "odp":
		return zipXML(func(name string) bool { return name == "content.xml" })
	default:
		return "", errNotExtracted
	}
}

func validUTF8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "")
}

// extractZipXML concatenates the character data of the matching XML parts
// of an OOXML or ODF archive, in part name order. At most maxBytes of XML
// are decompressed across all parts; text past that point is dropped.
func extractZipXML(data []byte, match func(name string) bool, maxBytes int64, maxRunes int) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}

	var parts []*zip.File
	for _, f := range zr.File {
		if match(f.Name) {
			parts = append(parts, f)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("archive has no text parts")
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Name < parts[j].Name })

	c := &textCollector{max: maxRunes}
	left := maxBytes
	for _, f := range parts {
		if c.full() || left <= 0 {
			break
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", f.Name, err)
		}
		lr := &io.LimitedReader{R: rc, N: left}
		err = xmlText(lr, c)
		_ = rc.Close()
		left = lr.N
		if err != nil && left > 0 {
			return "", fmt.Errorf("parse %s: %w", f.Name, err)
		}
	}
	return strings.Join(c.words, " "), nil
}

// textCollector gathers words up to max runes, counting one separator per
// word. A zero max collects everything.
type textCollector struct {
	words []string
	runes int
	max   int
}

func (c *textCollector) full() bool {
	return c.max > 0 && c.runes >= c.max
}

func (c *textCollector) add(s string) {
	if c.full() {
		return
	}
	if c.max > 0 {
		s = truncateRunes(s, c.max-c.runes)
	}
	c.words = append(c.words, s)
	c.runes += utf8.RuneCountInString(s) + 1
}

// xmlText feeds the non-blank character data of r to c until r ends or c
// is full.
func xmlText(r io.Reader, c *textCollector) error {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	for !c.full() {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if cd, ok := tok.(xml.CharData); ok {
			if s := strings.TrimSpace(string(cd)); s != "" {
				c.add(s)
			}
		}
	}
	return nil
}

type sdocNode struct {
	Text     string     `json:"text"`
	Children []sdocNode `json:"children"`
}

// extractSdoc joins every non-blank text of the document's elements.
func extractSdoc(data []byte) (string, error) {
	var doc struct {
		Elements []sdocNode `json:"elements"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("decode sdoc: %w", err)
	}

	var texts []string
	stack := make([]sdocNode, 0, len(doc.Elements))
	for i := len(doc.Elements) - 1; i >= 0; i-- {
		stack = append(stack, doc.Elements[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if s := strings.TrimSpace(n.Text); s != "" {
			texts = append(texts, s)
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
	return strings.Join(texts, " "), nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
