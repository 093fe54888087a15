// Package hocr reads the hOCR output of a recognize job.
package hocr

import (
	"fmt"
	"strconv"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	gq "github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"

	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
)

// Word is one ocrx_word element
type Word struct {
	ID         string      `json:"id,omitempty"`
	Text       string      `json:"text"`
	BBox       worker.BBox `json:"bbox"`
	Confidence float64     `json:"confidence"`
}

// Line is one ocr_line element
type Line struct {
	ID    string      `json:"id,omitempty"`
	BBox  worker.BBox `json:"bbox"`
	Words []Word      `json:"words"`
}

// Text joins the words of the line with single spaces
func (l Line) Text() string {
	return strings.Join(lo.Map(l.Words, func(w Word, _ int) string { return w.Text }), " ")
}

// Paragraph is one ocr_par element
type Paragraph struct {
	ID       string      `json:"id,omitempty"`
	BBox     worker.BBox `json:"bbox"`
	Language string      `json:"lang,omitempty"`
	RTL      bool        `json:"rtl,omitempty"`
	Lines    []Line      `json:"lines"`
}

// Block is one ocr_carea element
type Block struct {
	ID         string      `json:"id,omitempty"`
	BBox       worker.BBox `json:"bbox"`
	Paragraphs []Paragraph `json:"paragraphs"`
}

// Document is the parsed content of one hOCR page
type Document struct {
	BBox   worker.BBox `json:"bbox"`
	Blocks []Block     `json:"blocks"`
}

// Lines returns every line in reading order
func (d *Document) Lines() []Line {
	return lo.FlatMap(d.Blocks, func(b Block, _ int) []Line {
		return lo.FlatMap(b.Paragraphs, func(p Paragraph, _ int) []Line { return p.Lines })
	})
}

// Words returns every word in reading order
func (d *Document) Words() []Word {
	return lo.FlatMap(d.Lines(), func(l Line, _ int) []Word { return l.Words })
}

const lineSelector = ".ocr_line, .ocr_header, .ocr_caption, .ocr_textfloat"

// Parse extracts blocks, paragraphs, lines and words with their boxes and
// confidences. Lines outside any ocr_par are collected into an implicit
// paragraph of an implicit block.
func Parse(hocr string) (*Document, error) {
	doc, err := gq.NewDocumentFromReader(strings.NewReader(hocr))
	if err != nil {
		return nil, fmt.Errorf("parse hocr: %w", err)
	}

	out := &Document{}
	if page := doc.Find(".ocr_page").First(); page.Length() > 0 {
		out.BBox = parseTitle(page.AttrOr("title", "")).bbox
	}

	paragraphs := doc.Find(".ocr_par")
	if paragraphs.Length() == 0 {
		lines, err := parseLines(doc.Selection)
		if err != nil {
			return nil, err
		}
		if len(lines) > 0 {
			box := union(lo.Map(lines, func(l Line, _ int) worker.BBox { return l.BBox }))
			out.Blocks = []Block{{BBox: box, Paragraphs: []Paragraph{{BBox: box, Lines: lines}}}}
		}
		return out, nil
	}

	blocks := map[string]int{}
	var parseErr error
	paragraphs.EachWithBreak(func(_ int, sel *gq.Selection) bool {
		props := parseTitle(sel.AttrOr("title", ""))
		if props.err != nil {
			parseErr = fmt.Errorf("paragraph %s: %w", sel.AttrOr("id", "?"), props.err)
			return false
		}
		lines, err := parseLines(sel)
		if err != nil {
			parseErr = err
			return false
		}
		if len(lines) == 0 {
			return true
		}
		par := Paragraph{
			ID:       sel.AttrOr("id", ""),
			BBox:     props.bbox,
			Language: sel.AttrOr("lang", ""),
			RTL:      sel.AttrOr("dir", "") == "rtl",
			Lines:    lines,
		}

		area := sel.Closest(".ocr_carea")
		key := area.AttrOr("id", "")
		idx, ok := blocks[key]
		if !ok || area.Length() == 0 {
			block := Block{ID: key}
			if area.Length() > 0 {
				block.BBox = parseTitle(area.AttrOr("title", "")).bbox
			} else {
				block.BBox = par.BBox
			}
			out.Blocks = append(out.Blocks, block)
			idx = len(out.Blocks) - 1
			blocks[key] = idx
		}
		out.Blocks[idx].Paragraphs = append(out.Blocks[idx].Paragraphs, par)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

func parseLines(root *gq.Selection) ([]Line, error) {
	var lines []Line
	var parseErr error
	root.Find(lineSelector).EachWithBreak(func(_ int, sel *gq.Selection) bool {
		props := parseTitle(sel.AttrOr("title", ""))
		if props.err != nil {
			parseErr = fmt.Errorf("line %s: %w", sel.AttrOr("id", "?"), props.err)
			return false
		}
		line := Line{ID: sel.AttrOr("id", ""), BBox: props.bbox}

		sel.Find(".ocrx_word").EachWithBreak(func(_ int, w *gq.Selection) bool {
			wp := parseTitle(w.AttrOr("title", ""))
			if wp.err != nil {
				parseErr = fmt.Errorf("word %s: %w", w.AttrOr("id", "?"), wp.err)
				return false
			}
			text := strings.TrimSpace(w.Text())
			if text == "" {
				return true
			}
			line.Words = append(line.Words, Word{
				ID:         w.AttrOr("id", ""),
				Text:       text,
				BBox:       wp.bbox,
				Confidence: wp.confidence,
			})
			return true
		})
		if parseErr != nil {
			return false
		}

		if len(line.Words) > 0 {
			lines = append(lines, line)
		}
		return true
	})
	return lines, parseErr
}

type titleProps struct {
	bbox       worker.BBox
	confidence float64
	err        error
}

// parseTitle reads the "bbox x0 y0 x1 y1; x_wconf 93" property list
func parseTitle(title string) titleProps {
	var props titleProps
	for _, part := range strings.Split(title, ";") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "bbox":
			if len(fields) != 5 {
				props.err = fmt.Errorf("malformed bbox %q", part)
				return props
			}
			coords := make([]int, 4)
			for i, f := range fields[1:] {
				n, err := strconv.Atoi(f)
				if err != nil {
					props.err = fmt.Errorf("malformed bbox %q: %w", part, err)
					return props
				}
				coords[i] = n
			}
			props.bbox = worker.BBox{X0: coords[0], Y0: coords[1], X1: coords[2], Y1: coords[3]}
		case "x_wconf":
			if len(fields) == 2 {
				if c, err := strconv.ParseFloat(fields[1], 64); err == nil {
					props.confidence = c
				}
			}
		}
	}
	return props
}

func union(boxes []worker.BBox) worker.BBox {
	if len(boxes) == 0 {
		return worker.BBox{}
	}
	out := boxes[0]
	for _, b := range boxes[1:] {
		out.X0 = min(out.X0, b.X0)
		out.Y0 = min(out.Y0, b.Y0)
		out.X1 = max(out.X1, b.X1)
		out.Y1 = max(out.Y1, b.Y1)
	}
	return out
}

// Markdown renders the paragraphs of an hOCR page as markdown text, one
// paragraph per block and one line per ocr_line
func Markdown(hocr string) (string, error) {
	converter := md.NewConverter("", true, nil)
	converter.AddRules(
		md.Rule{
			Filter: []string{"span"},
			Replacement: func(content string, selec *gq.Selection, options *md.Options) *string {
				if selec.HasClass("ocr_line") || selec.HasClass("ocr_header") || selec.HasClass("ocr_caption") {
					return md.String(strings.Join(strings.Fields(content), " ") + "  \n")
				}
				return md.String(content)
			},
		},
		md.Rule{
			Filter: []string{"p"},
			Replacement: func(content string, selec *gq.Selection, options *md.Options) *string {
				return md.String("\n\n" + strings.TrimSpace(content) + "\n\n")
			},
		},
	)

	out, err := converter.ConvertString(hocr)
	if err != nil {
		return "", fmt.Errorf("convert hocr: %w", err)
	}
	return strings.TrimSpace(out), nil
}
