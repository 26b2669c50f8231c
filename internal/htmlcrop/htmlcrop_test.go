package htmlcrop

import "testing"

const ocrFixture = `<!DOCTYPE html>
<html><body>
<div class="block">
  <div class="block-header">Блок #1 (стр. 2) | Тип: image | ID: IMG1-0001-AA1</div>
  <div class="block-content">
    <pre>{"crop_url": "https://cdn.example.com/crops/a.pdf", "page": 2}</pre>
  </div>
</div>
<div class="block">
  <div class="block-header">Блок #2 (стр. 3) | Тип: image</div>
  <div class="block-content">
    <p>Изображение BLOCK: IMG2-0002-BB2</p>
    <a href="https://cdn.example.com/crops/b.png">фрагмент</a>
  </div>
</div>
<div class="block">
  <div class="block-header">Блок #3 (стр. 1) | Тип: text | ID: TXT1-0001-CC3</div>
  <div class="block-content"><a href="https://cdn.example.com/crops/c.pdf">link</a></div>
</div>
<div class="block">
  <div class="block-header">Блок #4 (стр. 4) | Тип: image | ID: IMG4-0004-DD4</div>
  <div class="block-content">
    <pre>` + "```json\n" + `{"meta": {"cropUrlPdf": "https://cdn.example.com/crops/d.pdf"}}
` + "```" + `</pre>
  </div>
</div>
<div class="block">
  <div class="block-header">Блок #5 (стр. 5) | Тип: image | ID: IMG5-0005-EE5</div>
  <div class="block-content">
    <p>BLOCK: IMG6-0006-FF6</p>
    <pre>{"crop_url": "https://cdn.example.com/crops/e.jpeg"}</pre>
  </div>
</div>
<div class="block">
  <div class="block-header">Блок #6 (стр. 6) | Тип: image | ID: IMG7-0007-GG7</div>
  <div class="block-content"><p>нет ссылки</p></div>
</div>
</body></html>`

func TestExtractImageMap(t *testing.T) {
	got := ExtractImageMap(ocrFixture)

	want := map[string]string{
		"IMG1-0001-AA1": "https://cdn.example.com/crops/a.pdf",
		"IMG2-0002-BB2": "https://cdn.example.com/crops/b.png",
		"IMG4-0004-DD4": "https://cdn.example.com/crops/d.pdf",
		// The content ID wins over the header ID.
		"IMG6-0006-FF6": "https://cdn.example.com/crops/e.jpeg",
	}
	if len(got) != len(want) {
		t.Errorf("map has %d entries, want %d: %v", len(got), len(want), got)
	}
	for id, url := range want {
		if got[id] != url {
			t.Errorf("map[%s] = %q, want %q", id, got[id], url)
		}
	}
	for _, absent := range []string{"TXT1-0001-CC3", "IMG5-0005-EE5", "IMG7-0007-GG7"} {
		if _, ok := got[absent]; ok {
			t.Errorf("map unexpectedly contains %s", absent)
		}
	}
}

func TestExtractImageMap_Empty(t *testing.T) {
	if got := ExtractImageMap(""); len(got) != 0 {
		t.Errorf("empty input produced %v", got)
	}
	if got := ExtractImageMap("<p>no blocks at all</p>"); len(got) != 0 {
		t.Errorf("blockless input produced %v", got)
	}
}

func TestExtractImageMap_ConcatenatedJSON(t *testing.T) {
	doc := `<div class="block">
  <div class="block-header">Блок #1 (стр. 1) | Тип: image | ID: IMG1-0001-AA1</div>
  <div class="block-content"><pre>{"page": 1} stray text {"crop_url": "https://cdn.example.com/crops/x.webp"}</pre></div>
</div>`
	got := ExtractImageMap(doc)
	if got["IMG1-0001-AA1"] != "https://cdn.example.com/crops/x.webp" {
		t.Errorf("map = %v, want crop for IMG1-0001-AA1", got)
	}
}

func TestExtractImageMap_EscapedPre(t *testing.T) {
	// Double-escaped payloads appear in older exports.
	doc := `<div class="block">
  <div class="block-header">Блок #1 (стр. 1) | Тип: image | ID: IMG1-0001-AA1</div>
  <div class="block-content"><pre>{&amp;quot;crop_url&amp;quot;: &amp;quot;https://cdn.example.com/crops/y.pdf&amp;quot;}</pre></div>
</div>`
	got := ExtractImageMap(doc)
	if got["IMG1-0001-AA1"] != "https://cdn.example.com/crops/y.pdf" {
		t.Errorf("map = %v, want crop for IMG1-0001-AA1", got)
	}
}

func TestExtractImageMap_RejectsNonMediaURL(t *testing.T) {
	doc := `<div class="block">
  <div class="block-header">Блок #1 (стр. 1) | Тип: image | ID: IMG1-0001-AA1</div>
  <div class="block-content">
    <pre>{"crop_url": "https://cdn.example.com/page.html"}</pre>
    <a href="https://cdn.example.com/index.html">page</a>
  </div>
</div>`
	if got := ExtractImageMap(doc); len(got) != 0 {
		t.Errorf("non-media URLs should be ignored, got %v", got)
	}
}

func TestLooksLikeMediaURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://x/a.pdf", true},
		{"https://x/a.PNG", true},
		{"https://x/a.jpeg", true},
		{"https://x/a.webp", true},
		{"https://x/a.html", false},
		{"https://x/a.pdf?download=1", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := looksLikeMediaURL(tt.url); got != tt.want {
				t.Errorf("looksLikeMediaURL(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}
