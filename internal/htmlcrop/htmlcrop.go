// Package htmlcrop recovers block_id → crop URL mappings from the HTML OCR
// mirror of a document. The blocks-index manifest is authoritative; this map
// is the fallback when the manifest is missing or incomplete.
package htmlcrop

import (
	"encoding/json"
	stdhtml "html"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// Header format emitted by the OCR pipeline. Older exports carry the block
// ID inline, newer ones put it into the content instead.
var (
	headerWithIDRe = regexp.MustCompile(`(?i)Блок\s+#(\d+)\s+\(стр\.\s+(\d+)\)\s+\|\s+Тип:\s+(\w+)\s+\|\s+ID:\s+([\w-]+)`)
	headerRe       = regexp.MustCompile(`(?i)Блок\s+#(\d+)\s+\(стр\.\s+(\d+)\)\s+\|\s+Тип:\s+(\w+)`)
	contentIDRe    = regexp.MustCompile(`(?i)BLOCK:\s+([\w-]+)`)
	fenceRe        = regexp.MustCompile("(?m)^```[a-zA-Z]*\\s*")
)

var cropKeys = []string{"crop_url", "cropUrl", "crop_url_pdf", "cropUrlPdf"}

// ExtractImageMap parses the OCR HTML and returns crop URLs for the IMAGE
// blocks it can identify. Blocks without a usable ID or URL are skipped.
func ExtractImageMap(htmlText string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(htmlText) == "" {
		return out
	}
	doc, err := html.Parse(strings.NewReader(htmlText))
	if err != nil {
		return out
	}

	for _, blockDiv := range findAllByClass(doc, "div", "block") {
		header := findFirstByClass(blockDiv, "div", "block-header")
		content := findFirstByClass(blockDiv, "div", "block-content")
		if header == nil || content == nil {
			continue
		}

		blockType, blockID := parseHeader(collapsedText(header))
		// The content form of the ID wins over the header form.
		if m := contentIDRe.FindStringSubmatch(collapsedText(content)); m != nil {
			blockID = m[1]
		}
		if blockType != "image" || blockID == "" {
			continue
		}
		if url := extractCropURL(content); url != "" {
			out[blockID] = url
		}
	}
	return out
}

func parseHeader(text string) (blockType, blockID string) {
	if m := headerWithIDRe.FindStringSubmatch(text); m != nil {
		return strings.ToLower(m[3]), m[4]
	}
	if m := headerRe.FindStringSubmatch(text); m != nil {
		return strings.ToLower(m[3]), ""
	}
	return "", ""
}

// extractCropURL prefers a URL found inside the block's <pre> JSON payload
// and falls back to the first anchor pointing at a PDF or image.
func extractCropURL(content *html.Node) string {
	if pre := findFirstTag(content, "pre"); pre != nil {
		// Some exports double-escape entities inside <pre>.
		jsonText := stdhtml.UnescapeString(rawText(pre))
		jsonText = strings.TrimSpace(fenceRe.ReplaceAllString(jsonText, ""))
		if url := findCropURLInJSON(jsonText); url != "" {
			return url
		}
	}
	for _, a := range findAllTag(content, "a") {
		if href := attrVal(a, "href"); href != "" && looksLikeMediaURL(href) {
			return href
		}
	}
	return ""
}

func findCropURLInJSON(text string) string {
	var data any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		data = parseConcatenated(text)
	}
	return findCropURL(data)
}

// parseConcatenated handles <pre> payloads holding several JSON objects back
// to back, skipping garbage between them.
func parseConcatenated(text string) any {
	var results []any
	pos := 0
	for pos < len(text) {
		for pos < len(text) && isSpace(text[pos]) {
			pos++
		}
		if pos >= len(text) {
			break
		}
		dec := json.NewDecoder(strings.NewReader(text[pos:]))
		var obj any
		if err := dec.Decode(&obj); err == nil {
			results = append(results, obj)
			pos += int(dec.InputOffset())
			continue
		}
		next := strings.Index(text[pos+1:], "{")
		if next == -1 {
			break
		}
		pos += 1 + next
	}
	switch len(results) {
	case 0:
		return nil
	case 1:
		return results[0]
	default:
		return results
	}
}

func findCropURL(data any) string {
	switch v := data.(type) {
	case map[string]any:
		for _, k := range cropKeys {
			if s, ok := v[k].(string); ok && looksLikeMediaURL(s) {
				return s
			}
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if found := findCropURL(v[k]); found != "" {
				return found
			}
		}
	case []any:
		for _, item := range v {
			if found := findCropURL(item); found != "" {
				return found
			}
		}
	}
	return ""
}

func looksLikeMediaURL(url string) bool {
	lower := strings.ToLower(url)
	for _, suffix := range []string{".pdf", ".png", ".jpg", ".jpeg", ".webp"} {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func findAllByClass(n *html.Node, tag, class string) []*html.Node {
	var out []*html.Node
	walk(n, func(node *html.Node) {
		if node != n && isElement(node, tag) && hasClass(node, class) {
			out = append(out, node)
		}
	})
	return out
}

func findFirstByClass(n *html.Node, tag, class string) *html.Node {
	for _, node := range findAllByClass(n, tag, class) {
		return node
	}
	return nil
}

func findFirstTag(n *html.Node, tag string) *html.Node {
	for _, node := range findAllTag(n, tag) {
		return node
	}
	return nil
}

func findAllTag(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	walk(n, func(node *html.Node) {
		if node != n && isElement(node, tag) {
			out = append(out, node)
		}
	})
	return out
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// collapsedText joins the stripped text fragments under n with single spaces.
func collapsedText(n *html.Node) string {
	var parts []string
	walk(n, func(node *html.Node) {
		if node.Type == html.TextNode {
			if s := strings.TrimSpace(node.Data); s != "" {
				parts = append(parts, s)
			}
		}
	})
	return strings.Join(parts, " ")
}

func rawText(n *html.Node) string {
	var b strings.Builder
	walk(n, func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
	})
	return b.String()
}
