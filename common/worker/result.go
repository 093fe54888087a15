package worker

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// BBox is a bounding box in image pixels
type BBox struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
}

// Baseline of a text element
type Baseline struct {
	X0          int  `json:"x0"`
	Y0          int  `json:"y0"`
	X1          int  `json:"x1"`
	Y1          int  `json:"y1"`
	HasBaseline bool `json:"has_baseline"`
}

// Choice is an alternative reading of a word or symbol
type Choice struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Page is the structured result of a recognize job.
//
// The children slices form the tree as transmitted. After decoding, every
// node also points back to its ancestors and the page carries flat lists of
// every paragraph, line, word and symbol in reading order.
type Page struct {
	Text          string   `json:"text"`
	HOCR          string   `json:"hocr,omitempty"`
	TSV           string   `json:"tsv,omitempty"`
	Box           string   `json:"box,omitempty"`
	UNLV          string   `json:"unlv,omitempty"`
	OSD           string   `json:"osd,omitempty"`
	Confidence    float64  `json:"confidence"`
	PSM           string   `json:"psm,omitempty"`
	OEM           string   `json:"oem,omitempty"`
	Version       string   `json:"version,omitempty"`
	RotateRadians float64  `json:"rotateRadians,omitempty"`
	Blocks        []*Block `json:"blocks"`

	Paragraphs []*Paragraph `json:"-"`
	Lines      []*Line      `json:"-"`
	Words      []*Word      `json:"-"`
	Symbols    []*Symbol    `json:"-"`
}

// Block is a layout block on a page
type Block struct {
	Text       string       `json:"text"`
	Confidence float64      `json:"confidence"`
	BBox       BBox         `json:"bbox"`
	Baseline   Baseline     `json:"baseline"`
	BlockType  string       `json:"blocktype,omitempty"`
	Paragraphs []*Paragraph `json:"paragraphs"`

	Page *Page `json:"-"`
}

// Paragraph is a run of lines inside a block
type Paragraph struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	BBox       BBox     `json:"bbox"`
	Baseline   Baseline `json:"baseline"`
	IsLTR      bool     `json:"is_ltr"`
	Lines      []*Line  `json:"lines"`

	Page  *Page  `json:"-"`
	Block *Block `json:"-"`
}

// Line is one text line
type Line struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	BBox       BBox     `json:"bbox"`
	Baseline   Baseline `json:"baseline"`
	Words      []*Word  `json:"words"`

	Page      *Page      `json:"-"`
	Block     *Block     `json:"-"`
	Paragraph *Paragraph `json:"-"`
}

// Word is one recognized word
type Word struct {
	Text         string    `json:"text"`
	Confidence   float64   `json:"confidence"`
	BBox         BBox      `json:"bbox"`
	Baseline     Baseline  `json:"baseline"`
	Choices      []Choice  `json:"choices,omitempty"`
	IsNumeric    bool      `json:"is_numeric"`
	InDictionary bool      `json:"in_dictionary"`
	Direction    string    `json:"direction,omitempty"`
	Language     string    `json:"language,omitempty"`
	FontName     string    `json:"font_name,omitempty"`
	IsBold       bool      `json:"is_bold"`
	IsItalic     bool      `json:"is_italic"`
	Symbols      []*Symbol `json:"symbols"`

	Page      *Page      `json:"-"`
	Block     *Block     `json:"-"`
	Paragraph *Paragraph `json:"-"`
	Line      *Line      `json:"-"`
}

// Symbol is one recognized character
type Symbol struct {
	Text          string   `json:"text"`
	Confidence    float64  `json:"confidence"`
	BBox          BBox     `json:"bbox"`
	Baseline      Baseline `json:"baseline"`
	Choices       []Choice `json:"choices,omitempty"`
	IsSuperscript bool     `json:"is_superscript"`
	IsSubscript   bool     `json:"is_subscript"`
	IsDropcap     bool     `json:"is_dropcap"`

	Page      *Page      `json:"-"`
	Block     *Block     `json:"-"`
	Paragraph *Paragraph `json:"-"`
	Line      *Line      `json:"-"`
	Word      *Word      `json:"-"`
}

// flatPage is the index-referenced transport form: every level is a flat
// list and children name their parent by position in the parent list.
type flatPage struct {
	Blocks     []*Block `json:"blocks"`
	Paragraphs []struct {
		Paragraph
		Block *int `json:"block"`
	} `json:"paragraphs"`
	Lines []struct {
		Line
		Paragraph *int `json:"paragraph"`
	} `json:"lines"`
	Words []struct {
		Word
		Line *int `json:"line"`
	} `json:"words"`
	Symbols []struct {
		Symbol
		Word *int `json:"word"`
	} `json:"symbols"`
}

// Circularize decodes a recognize result and restores the parent references
// that were stripped for transport. Both the nested tree form and the flat
// index-referenced form are accepted.
func Circularize(data json.RawMessage) (*Page, error) {
	page := &Page{}
	if err := json.Unmarshal(data, page); err != nil {
		return nil, fmt.Errorf("decode recognize result: %w", err)
	}

	if !hasNestedChildren(page) {
		var flat flatPage
		if err := json.Unmarshal(data, &flat); err != nil {
			return nil, fmt.Errorf("decode flat recognize result: %w", err)
		}
		if len(flat.Paragraphs) > 0 {
			if err := attachFlat(page, &flat); err != nil {
				return nil, err
			}
		}
	}

	link(page)
	return page, nil
}

func hasNestedChildren(page *Page) bool {
	for _, b := range page.Blocks {
		if b != nil && len(b.Paragraphs) > 0 {
			return true
		}
	}
	return false
}

// attachFlat rebuilds the children slices from parent indexes
func attachFlat(page *Page, flat *flatPage) error {
	page.Blocks = flat.Blocks

	paragraphs := make([]*Paragraph, len(flat.Paragraphs))
	for i := range flat.Paragraphs {
		p := flat.Paragraphs[i].Paragraph
		p.Lines = nil
		paragraphs[i] = &p
		idx := flat.Paragraphs[i].Block
		if idx == nil || *idx < 0 || *idx >= len(page.Blocks) {
			return fmt.Errorf("paragraph %d: dangling block reference", i)
		}
		page.Blocks[*idx].Paragraphs = append(page.Blocks[*idx].Paragraphs, paragraphs[i])
	}

	lines := make([]*Line, len(flat.Lines))
	for i := range flat.Lines {
		l := flat.Lines[i].Line
		l.Words = nil
		lines[i] = &l
		idx := flat.Lines[i].Paragraph
		if idx == nil || *idx < 0 || *idx >= len(paragraphs) {
			return fmt.Errorf("line %d: dangling paragraph reference", i)
		}
		paragraphs[*idx].Lines = append(paragraphs[*idx].Lines, lines[i])
	}

	words := make([]*Word, len(flat.Words))
	for i := range flat.Words {
		w := flat.Words[i].Word
		w.Symbols = nil
		words[i] = &w
		idx := flat.Words[i].Line
		if idx == nil || *idx < 0 || *idx >= len(lines) {
			return fmt.Errorf("word %d: dangling line reference", i)
		}
		lines[*idx].Words = append(lines[*idx].Words, words[i])
	}

	for i := range flat.Symbols {
		s := flat.Symbols[i].Symbol
		idx := flat.Symbols[i].Word
		if idx == nil || *idx < 0 || *idx >= len(words) {
			return fmt.Errorf("symbol %d: dangling word reference", i)
		}
		words[*idx].Symbols = append(words[*idx].Symbols, &s)
	}

	return nil
}

// link walks the tree once, setting back-pointers and filling the flat lists
func link(page *Page) {
	page.Paragraphs = page.Paragraphs[:0]
	page.Lines = page.Lines[:0]
	page.Words = page.Words[:0]
	page.Symbols = page.Symbols[:0]

	for _, block := range page.Blocks {
		if block == nil {
			continue
		}
		block.Page = page
		for _, paragraph := range block.Paragraphs {
			if paragraph == nil {
				continue
			}
			paragraph.Page, paragraph.Block = page, block
			for _, line := range paragraph.Lines {
				if line == nil {
					continue
				}
				line.Page, line.Block, line.Paragraph = page, block, paragraph
				for _, word := range line.Words {
					if word == nil {
						continue
					}
					word.Page, word.Block, word.Paragraph, word.Line = page, block, paragraph, line
					for _, symbol := range word.Symbols {
						if symbol == nil {
							continue
						}
						symbol.Page, symbol.Block, symbol.Paragraph, symbol.Line, symbol.Word = page, block, paragraph, line, word
						page.Symbols = append(page.Symbols, symbol)
					}
					page.Words = append(page.Words, word)
				}
				page.Lines = append(page.Lines, line)
			}
			page.Paragraphs = append(page.Paragraphs, paragraph)
		}
	}
}

// Detection is the result of a detect job
type Detection struct {
	TesseractScriptID     *int     `json:"tesseract_script_id"`
	Script                *string  `json:"script"`
	ScriptConfidence      *float64 `json:"script_confidence"`
	Orientation           *int     `json:"orientation_degrees"`
	OrientationConfidence *float64 `json:"orientation_confidence"`
}

// DecodePDF rebuilds the byte buffer of a getPDF result. The worker cannot
// carry binary buffers, so the bytes arrive as an object mapping each index
// to its byte value; the declared length is the number of entries. A plain
// JSON array of numbers is accepted too.
func DecodePDF(data json.RawMessage) ([]byte, error) {
	var indexed map[string]int
	if err := json.Unmarshal(data, &indexed); err == nil {
		out := make([]byte, len(indexed))
		for key, value := range indexed {
			i, err := strconv.Atoi(key)
			if err != nil {
				return nil, fmt.Errorf("pdf byte index %q: %w", key, err)
			}
			if i < 0 || i >= len(out) {
				continue
			}
			if value < 0 || value > 255 {
				return nil, fmt.Errorf("pdf byte %d out of range: %d", i, value)
			}
			out[i] = byte(value)
		}
		return out, nil
	}

	var seq []int
	if err := json.Unmarshal(data, &seq); err != nil {
		return nil, fmt.Errorf("decode pdf bytes: %w", err)
	}
	out := make([]byte, len(seq))
	for i, value := range seq {
		if value < 0 || value > 255 {
			return nil, fmt.Errorf("pdf byte %d out of range: %d", i, value)
		}
		out[i] = byte(value)
	}
	return out, nil
}
