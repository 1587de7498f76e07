package report

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

const (
	bodyFont = "Arial"
	bodySize = 9.0
)

// renderMarkdownPDF converts report markdown to PDF bytes. The renderer
// covers the constructs buildMarkdown emits: headings, paragraphs,
// emphasis, tables, lists, and thematic breaks.
func renderMarkdownPDF(markdown string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(12, 12, 12)
	pdf.SetAutoPageBreak(true, 12)
	pdf.AddPage()
	pdf.SetFont(bodyFont, "", bodySize)

	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	source := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(source))

	r := &renderer{pdf: pdf, source: source}
	if err := ast.Walk(doc, r.walk); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf output: %w", err)
	}
	return buf.Bytes(), nil
}

type renderer struct {
	pdf    *fpdf.Fpdf
	source []byte
	bold   bool
	italic bool
	inList bool
}

func (r *renderer) bodyFont() {
	style := ""
	if r.bold {
		style += "B"
	}
	if r.italic {
		style += "I"
	}
	r.pdf.SetFont(bodyFont, style, bodySize)
}

func (r *renderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		if entering {
			r.pdf.Ln(5)
			sizes := map[int]float64{1: 15, 2: 12, 3: 11}
			size, ok := sizes[node.Level]
			if !ok {
				size = 10
			}
			r.pdf.SetFont(bodyFont, "B", size)
		} else {
			r.pdf.Ln(7)
			r.bodyFont()
		}
	case *ast.Paragraph:
		if !entering {
			r.pdf.Ln(6)
		}
	case *ast.Text:
		if entering {
			r.pdf.Write(5, string(node.Text(r.source)))
		}
	case *ast.Emphasis:
		if node.Level == 2 {
			r.bold = entering
		} else {
			r.italic = entering
		}
		r.bodyFont()
	case *ast.List:
		r.inList = entering
		if !entering {
			r.pdf.Ln(2)
		}
	case *ast.ListItem:
		if entering {
			r.pdf.Ln(5)
			r.pdf.SetX(16)
			r.pdf.Write(5, "- ")
		}
	case *ast.ThematicBreak:
		if entering {
			r.pdf.Ln(3)
			y := r.pdf.GetY()
			r.pdf.Line(12, y, 198, y)
			r.pdf.Ln(3)
		}
	case *extast.Table:
		if entering {
			r.renderTable(node)
			return ast.WalkSkipChildren, nil
		}
	}
	return ast.WalkContinue, nil
}

// renderTable draws a bordered grid with a shaded header row. Column
// widths follow measured content, scaled to fit the page.
func (r *renderer) renderTable(table *extast.Table) {
	var rows [][]string
	for child := table.FirstChild(); child != nil; child = child.NextSibling() {
		switch section := child.(type) {
		case *extast.TableHeader:
			for tr := section.FirstChild(); tr != nil; tr = tr.NextSibling() {
				rows = append(rows, r.cellTexts(tr))
			}
			if section.FirstChild() == nil {
				rows = append(rows, r.cellTexts(section))
			}
		case *extast.TableRow:
			rows = append(rows, r.cellTexts(section))
		}
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}

	widths := r.columnWidths(rows, 186.0)
	lineHeight := 5.0

	r.pdf.Ln(2)
	for i, row := range rows {
		if i == 0 {
			r.pdf.SetFont(bodyFont, "B", 8)
			r.pdf.SetFillColor(235, 235, 235)
		} else {
			r.pdf.SetFont(bodyFont, "", 8)
			r.pdf.SetFillColor(255, 255, 255)
		}

		if r.pdf.GetY()+lineHeight > 285 {
			r.pdf.AddPage()
		}

		x := 12.0
		y := r.pdf.GetY()
		for j, cell := range row {
			if j >= len(widths) {
				break
			}
			r.pdf.Rect(x, y, widths[j], lineHeight+1, "FD")
			r.pdf.SetXY(x+1, y+0.5)
			r.pdf.CellFormat(widths[j]-2, lineHeight, r.fitCell(cell, widths[j]-2), "", 0, "L", false, 0, "")
			x += widths[j]
		}
		r.pdf.SetXY(12, y+lineHeight+1)
	}
	r.pdf.Ln(3)
	r.bodyFont()
}

func (r *renderer) cellTexts(row ast.Node) []string {
	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		if _, ok := cell.(*extast.TableCell); ok {
			cells = append(cells, string(cell.Text(r.source)))
		}
	}
	return cells
}

func (r *renderer) columnWidths(rows [][]string, pageWidth float64) []float64 {
	cols := len(rows[0])
	widths := make([]float64, cols)

	r.pdf.SetFont(bodyFont, "", 8)
	for _, row := range rows {
		for j, cell := range row {
			if j >= cols {
				continue
			}
			if w := r.pdf.GetStringWidth(cell) + 4; w > widths[j] {
				widths[j] = w
			}
		}
	}

	total := 0.0
	for _, w := range widths {
		total += w
	}
	if total > pageWidth {
		scale := pageWidth / total
		for j := range widths {
			widths[j] *= scale
		}
	}
	return widths
}

// fitCell truncates a cell value to its column width with an ellipsis
func (r *renderer) fitCell(s string, width float64) string {
	if r.pdf.GetStringWidth(s) <= width {
		return s
	}
	for len(s) > 3 && r.pdf.GetStringWidth(s+"...") > width {
		s = s[:len(s)-1]
	}
	return s + "..."
}
