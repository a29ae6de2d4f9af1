package ocr

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/blueprint-ai/layout-worker/internal/bbox"
)

// Line level hOCR classes. Tesseract tags headings and captions separately
// from ordinary lines.
var lineClasses = []string{"ocr_line", "ocr_header", "ocr_caption", "ocr_textfloat"}

// ParseHOCR converts hOCR output into one record per text line. The line
// text is the space-joined text of its words and its confidence is the mean
// x_wconf of those words. Lines without words are skipped; a line without a
// bbox yields a record with a nil BBox, and a line whose words carry no
// x_wconf gets a NaN confidence. Extract rejects both as malformed.
func ParseHOCR(data []byte) ([]bbox.RecognizedItem, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse hocr: %w", err)
	}

	var items []bbox.RecognizedItem
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, lineClasses...) {
			if item, ok := parseLine(n); ok {
				items = append(items, item)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return items, nil
}

func parseLine(n *html.Node) (bbox.RecognizedItem, bool) {
	var words []string
	var confSum float64
	var confCount int

	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.ElementNode && hasClass(c, "ocrx_word") {
			text := strings.TrimSpace(textContent(c))
			if text == "" {
				return
			}
			words = append(words, text)
			if conf, ok := titleFloat(attr(c, "title"), "x_wconf"); ok {
				confSum += conf
				confCount++
			}
			return
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			walk(cc)
		}
	}
	walk(n)

	if len(words) == 0 {
		return bbox.RecognizedItem{}, false
	}

	item := bbox.RecognizedItem{Text: strings.Join(words, " ")}
	if confCount > 0 {
		item.Confidence = confSum / float64(confCount)
	} else {
		item.Confidence = math.NaN()
	}
	item.BBox = titleBBox(attr(n, "title"))
	return item, true
}

// parseTitle splits an hOCR title such as "bbox 10 20 30 40; x_wconf 95"
// into its properties.
func parseTitle(title string) map[string][]string {
	props := make(map[string][]string)
	for _, part := range strings.Split(title, ";") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		props[fields[0]] = fields[1:]
	}
	return props
}

func titleBBox(title string) *bbox.Rect {
	v := parseTitle(title)["bbox"]
	if len(v) < 4 {
		return nil
	}
	var c [4]float64
	for i := 0; i < 4; i++ {
		f, err := strconv.ParseFloat(v[i], 64)
		if err != nil {
			return nil
		}
		c[i] = f
	}
	return &bbox.Rect{X0: c[0], Y0: c[1], X1: c[2], Y1: c[3]}
}

func titleFloat(title, key string) (float64, bool) {
	v := parseTitle(title)[key]
	if len(v) == 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(v[0], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, classes ...string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		for _, want := range classes {
			if c == want {
				return true
			}
		}
	}
	return false
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}
