package capture

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"richform/internal/imagedata"
)

// PasteContent is what a paste action delivers: raw image bytes when the
// clipboard held an image directly, or a markup fragment that may reference
// one. Raw bytes win when both are present.
type PasteContent struct {
	Data []byte
	MIME string
	HTML string
}

// HandlePaste routes pasted content into the capture pipeline. It inserts an
// image node on the surface and processes it like any other insertion. The
// returned node is nil when the paste carried no usable image.
func (e *Engine) HandlePaste(s Surface, p PasteContent) Node {
	var src string
	switch {
	case len(p.Data) > 0:
		src = imagedata.Encode(p.Data, p.MIME)
	case p.HTML != "":
		found, ok := firstImageSrc(p.HTML)
		if !ok {
			return nil
		}
		src = found
	default:
		return nil
	}

	n := s.InsertImage(src)
	if n == nil {
		return nil
	}
	e.HandleInsertion(s, n)
	return n
}

// firstImageSrc extracts the source of the first image in a markup fragment.
func firstImageSrc(fragment string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", false
	}
	src, ok := doc.Find("img").First().Attr("src")
	src = strings.TrimSpace(src)
	return src, ok && src != ""
}
