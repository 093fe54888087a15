package hocr

import (
	"strings"

	"github.com/samber/lo"

	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
)

// Page converts the document into the nested recognize result. Confidences
// are word means; empty levels report zero.
func (d *Document) Page() *worker.Page {
	page := &worker.Page{
		Blocks: make([]*worker.Block, 0, len(d.Blocks)),
	}
	var blockTexts []string
	for _, b := range d.Blocks {
		block := &worker.Block{BBox: b.BBox, BlockType: "FLOWING_TEXT"}
		var parTexts []string
		for _, p := range b.Paragraphs {
			par := &worker.Paragraph{BBox: p.BBox, IsLTR: !p.RTL}
			var lineTexts []string
			for _, l := range p.Lines {
				line := &worker.Line{BBox: l.BBox, Text: l.Text() + "\n"}
				for _, w := range l.Words {
					line.Words = append(line.Words, &worker.Word{
						Text:       w.Text,
						Confidence: w.Confidence,
						BBox:       w.BBox,
						Language:   p.Language,
						Direction:  lo.Ternary(p.RTL, "RIGHT_TO_LEFT", "LEFT_TO_RIGHT"),
					})
				}
				line.Confidence = meanConfidence(l.Words)
				par.Lines = append(par.Lines, line)
				lineTexts = append(lineTexts, line.Text)
			}
			par.Text = strings.Join(lineTexts, "")
			par.Confidence = meanConfidence(lo.FlatMap(p.Lines, func(l Line, _ int) []Word { return l.Words }))
			block.Paragraphs = append(block.Paragraphs, par)
			parTexts = append(parTexts, par.Text)
		}
		block.Text = strings.Join(parTexts, "\n")
		block.Confidence = meanConfidence(lo.FlatMap(b.Paragraphs, func(p Paragraph, _ int) []Word {
			return lo.FlatMap(p.Lines, func(l Line, _ int) []Word { return l.Words })
		}))
		page.Blocks = append(page.Blocks, block)
		blockTexts = append(blockTexts, block.Text)
	}
	page.Text = strings.Join(blockTexts, "\n")
	page.Confidence = meanConfidence(d.Words())
	return page
}

func meanConfidence(words []Word) float64 {
	if len(words) == 0 {
		return 0
	}
	return lo.SumBy(words, func(w Word) float64 { return w.Confidence }) / float64(len(words))
}
