package hocr

import (
	"strings"
	"testing"

	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
)

const sample = `<div class='ocr_page' id='page_1' title='image ""; bbox 0 0 640 480; ppageno 0'>
 <div class='ocr_carea' id='block_1_1' title="bbox 36 92 618 184">
  <p class='ocr_par' id='par_1_1' lang='eng' title="bbox 36 92 618 184">
   <span class='ocr_line' id='line_1_1' title="bbox 36 92 580 122; baseline 0 -6; x_size 30">
    <span class='ocrx_word' id='word_1_1' title='bbox 36 92 96 116; x_wconf 96'>Hello</span>
    <span class='ocrx_word' id='word_1_2' title='bbox 109 92 210 122; x_wconf 91'>world</span>
   </span>
   <span class='ocr_line' id='line_1_2' title="bbox 36 154 618 184; baseline 0 -6">
    <span class='ocrx_word' id='word_1_3' title='bbox 36 154 110 184; x_wconf 88'>again</span>
    <span class='ocrx_word' id='word_1_4' title='bbox 120 154 130 184; x_wconf 0'> </span>
   </span>
  </p>
 </div>
</div>`

func TestParse(t *testing.T) {
	doc, err := Parse(sample)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if doc.BBox != (worker.BBox{X0: 0, Y0: 0, X1: 640, Y1: 480}) {
		t.Errorf("Unexpected page bbox %+v", doc.BBox)
	}
	if len(doc.Blocks) != 1 || len(doc.Blocks[0].Paragraphs) != 1 {
		t.Fatalf("Expected 1 block with 1 paragraph, got %+v", doc.Blocks)
	}
	if doc.Blocks[0].ID != "block_1_1" || doc.Blocks[0].Paragraphs[0].Language != "eng" {
		t.Errorf("Unexpected block %+v", doc.Blocks[0])
	}
	lines := doc.Lines()
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if lines[0].Text() != "Hello world" {
		t.Errorf("Unexpected line text %q", lines[0].Text())
	}

	words := doc.Words()
	if len(words) != 3 {
		t.Fatalf("Expected blank words to be skipped, got %d words", len(words))
	}
	world := words[1]
	if world.BBox != (worker.BBox{X0: 109, Y0: 92, X1: 210, Y1: 122}) || world.Confidence != 91 || world.ID != "word_1_2" {
		t.Errorf("Unexpected word %+v", world)
	}
}

func TestParseMalformedBBox(t *testing.T) {
	_, err := Parse(`<span class='ocr_line' title='bbox 1 2 3'><span class='ocrx_word'>x</span></span>`)
	if err == nil {
		t.Error("Expected error but got none")
	}
}

func TestParseLinesWithoutParagraphs(t *testing.T) {
	doc, err := Parse(`<div class='ocr_page' title='bbox 0 0 100 100'>
<span class='ocr_line' title='bbox 10 10 50 20'><span class='ocrx_word' title='bbox 10 10 50 20; x_wconf 70'>solo</span></span>
</div>`)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(doc.Blocks) != 1 || len(doc.Lines()) != 1 {
		t.Fatalf("Expected an implicit block holding the line, got %+v", doc.Blocks)
	}
	if doc.Blocks[0].BBox != (worker.BBox{X0: 10, Y0: 10, X1: 50, Y1: 20}) {
		t.Errorf("Unexpected implicit block bbox %+v", doc.Blocks[0].BBox)
	}
}

func TestDocumentPage(t *testing.T) {
	doc, err := Parse(sample)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	page := doc.Page()
	if page.Text != "Hello world\nagain\n" {
		t.Errorf("Unexpected page text %q", page.Text)
	}
	if len(page.Blocks) != 1 || len(page.Blocks[0].Paragraphs[0].Lines) != 2 {
		t.Fatalf("Unexpected tree %+v", page.Blocks)
	}
	first := page.Blocks[0].Paragraphs[0].Lines[0]
	if first.Confidence != 93.5 {
		t.Errorf("Expected line confidence 93.5, got %v", first.Confidence)
	}
	if page.Confidence != (96.0+91.0+88.0)/3 {
		t.Errorf("Unexpected page confidence %v", page.Confidence)
	}
	if first.Words[0].Direction != "LEFT_TO_RIGHT" || first.Words[0].Language != "eng" {
		t.Errorf("Unexpected word %+v", first.Words[0])
	}
}

func TestMarkdown(t *testing.T) {
	out, err := Markdown(sample)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(out, "Hello world") || !strings.Contains(out, "again") {
		t.Errorf("Expected recognized text in markdown, got %q", out)
	}
	if strings.Contains(out, "<span") {
		t.Errorf("Markup leaked into markdown: %q", out)
	}
}
