package parser

import (
	"archive/zip"
	"fmt"
	"html"
	"io"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
)

func parsePDF(filePath string) ([]Section, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var sections []Section
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		sections = append(sections, Section{Text: pageText, Page: i})
	}
	return sections, nil
}

func parseDOCX(filePath string) ([]Section, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := r.Editable().GetContent()
	return []Section{{Text: extractTextFromXML(content)}}, nil
}

var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func parsePPTX(filePath string) ([]Section, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, file := range f.File {
		m := slideName.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: num, file: file})
	}
	// zip order is not slide order
	slices.SortFunc(slides, func(a, b slide) int { return a.num - b.num })

	var sections []Section
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		sections = append(sections, Section{Text: extractTextFromXML(string(data)), Page: s.num})
	}
	return sections, nil
}

func parseXLSX(filePath string) ([]Section, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var sections []Section
	for sheetNum, sheet := range f.Sheets {
		var text strings.Builder
		fmt.Fprintf(&text, "## Sheet: %s\n", sheet.Name)
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			text.WriteString(strings.Join(cells, "\t"))
			text.WriteString("\n")
		}
		sections = append(sections, Section{Text: text.String(), Page: sheetNum + 1, Heading: sheet.Name})
	}
	return sections, nil
}

// macro enabled workbooks and templates
func parseExcelize(filePath string) ([]Section, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sections []Section
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		var text strings.Builder
		fmt.Fprintf(&text, "## Sheet: %s\n", sheetName)
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		sections = append(sections, Section{Text: text.String(), Page: sheetNum + 1, Heading: sheetName})
	}
	return sections, nil
}

func parseText(filePath, language string) ([]Section, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return []Section{{Text: string(data), Language: language}}, nil
}

var (
	xmlText      = regexp.MustCompile(`<[aw]:t(?:\s[^>]*)?>([^<]*)</[aw]:t>`)
	xmlParagraph = regexp.MustCompile(`</[aw]:p>`)
)

// extractTextFromXML pulls the run text out of WordprocessingML and
// DrawingML, one line per paragraph.
func extractTextFromXML(xmlContent string) string {
	var text strings.Builder
	for _, para := range xmlParagraph.Split(xmlContent, -1) {
		var line strings.Builder
		for _, m := range xmlText.FindAllStringSubmatch(para, -1) {
			line.WriteString(html.UnescapeString(m[1]))
		}
		if s := strings.TrimSpace(line.String()); s != "" {
			text.WriteString(s)
			text.WriteString("\n")
		}
	}
	return text.String()
}
