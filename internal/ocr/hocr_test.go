package ocr

import (
	"math"
	"testing"

	"github.com/blueprint-ai/layout-worker/internal/bbox"
	"github.com/blueprint-ai/layout-worker/internal/errors"
)

const sampleHOCR = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Transitional//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-transitional.dtd">
<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="en" lang="en">
 <head><title></title><meta name="ocr-system" content="tesseract 5.3.0" /></head>
 <body>
  <div class='ocr_page' id='page_1' title='image "stdin"; bbox 0 0 800 600; ppageno 0'>
   <div class='ocr_carea' id='block_1_1' title="bbox 10 10 300 60">
    <p class='ocr_par' id='par_1_1' lang='eng' title="bbox 10 10 300 60">
     <span class='ocr_header' id='line_1_1' title="bbox 10 10 300 30; baseline 0 -5; x_size 20">
      <span class='ocrx_word' id='word_1_1' title='bbox 10 10 90 30; x_wconf 96'>Dashboard</span>
     </span>
     <span class='ocr_line' id='line_1_2' title="bbox 10 40 200 60; baseline 0 -4; x_size 16">
      <span class='ocrx_word' id='word_1_2' title='bbox 10 40 80 60; x_wconf 90'><strong>Sign</strong></span>
      <span class='ocrx_word' id='word_1_3' title='bbox 90 40 200 60; x_wconf 70'>out</span>
     </span>
     <span class='ocr_line' id='line_1_3' title="bbox 10 70 200 80">
      <span class='ocrx_word' id='word_1_4' title='bbox 10 70 20 80; x_wconf 50'> </span>
     </span>
    </p>
   </div>
  </div>
 </body>
</html>`

func TestParseHOCR(t *testing.T) {
	items, err := ParseHOCR([]byte(sampleHOCR))
	if err != nil {
		t.Fatalf("ParseHOCR failed: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("expected 2 lines, got %d: %+v", len(items), items)
	}

	if items[0].Text != "Dashboard" || items[0].Confidence != 96 {
		t.Errorf("unexpected header line: %+v", items[0])
	}
	if items[0].BBox == nil || items[0].BBox.X1 != 300 || items[0].BBox.Y1 != 30 {
		t.Errorf("unexpected header bbox: %+v", items[0].BBox)
	}

	if items[1].Text != "Sign out" {
		t.Errorf("unexpected line text: %q", items[1].Text)
	}
	if math.Abs(items[1].Confidence-80) > 1e-9 {
		t.Errorf("expected mean confidence 80, got %v", items[1].Confidence)
	}
}

func TestParseHOCRMissingBBox(t *testing.T) {
	doc := `<html><body><span class='ocr_line' title='x_size 10'><span class='ocrx_word' title='x_wconf 88'>Menu</span></span></body></html>`

	items, err := ParseHOCR([]byte(doc))
	if err != nil {
		t.Fatalf("ParseHOCR failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 line, got %d", len(items))
	}
	if items[0].BBox != nil {
		t.Errorf("expected nil bbox, got %+v", items[0].BBox)
	}
}

func TestParseHOCRMissingConfidence(t *testing.T) {
	doc := `<html><body><span class='ocr_line' title='bbox 10 10 90 30'><span class='ocrx_word' title='bbox 10 10 90 30'>Menu</span></span></body></html>`

	items, err := ParseHOCR([]byte(doc))
	if err != nil {
		t.Fatalf("ParseHOCR failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 line, got %d", len(items))
	}
	if !math.IsNaN(items[0].Confidence) {
		t.Fatalf("expected NaN confidence, got %v", items[0].Confidence)
	}

	_, err = bbox.Extract(items)
	if !errors.HasCode(err, errors.ErrorMalformedRecord) {
		t.Errorf("expected MALFORMED_RECORD, got %v", err)
	}
}

func TestParseHOCREmpty(t *testing.T) {
	items, err := ParseHOCR([]byte(`<html><body><div class='ocr_page'></div></body></html>`))
	if err != nil {
		t.Fatalf("ParseHOCR failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected no lines, got %+v", items)
	}
}

func TestParseTitle(t *testing.T) {
	props := parseTitle("bbox 100 200 300 400; x_wconf 95;  ")
	if got := props["bbox"]; len(got) != 4 || got[3] != "400" {
		t.Errorf("unexpected bbox: %v", got)
	}
	if got := props["x_wconf"]; len(got) != 1 || got[0] != "95" {
		t.Errorf("unexpected x_wconf: %v", got)
	}
	if titleBBox("bbox 1 2 3") != nil {
		t.Error("short bbox should not parse")
	}
	if titleBBox("bbox 1 2 x 4") != nil {
		t.Error("non-numeric bbox should not parse")
	}
}
