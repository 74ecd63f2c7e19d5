package capture

import (
	"errors"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"richform/internal/imagedata"
)

// PixelSource grants access to the decoded pixels behind an image source.
// Markup alone carries no pixel data, so surfaces that can rasterize their
// images plug one in.
type PixelSource interface {
	Loaded(src string) bool
	Snapshot(src string) (data []byte, mimeType string, err error)
}

// encodedPixels is the default PixelSource: only already-encoded sources
// expose their bytes.
type encodedPixels struct{}

func (encodedPixels) Loaded(src string) bool {
	return imagedata.IsDataURL(src)
}

func (encodedPixels) Snapshot(src string) ([]byte, string, error) {
	dec, err := imagedata.Decode(src)
	if err != nil {
		return nil, "", err
	}
	return dec.Data, dec.MIME, nil
}

// HTMLSurfaceConfig assembles an HTMLSurface. Bus may be nil when no engine
// is listening; Pixels defaults to encoded-source access only.
type HTMLSurfaceConfig struct {
	FieldID string
	Content string
	Bus     *Bus
	Pixels  PixelSource
}

// HTMLSurface adapts an HTML fragment to the Surface interface. Image nodes
// keep a stable identity across Nodes calls for the lifetime of the
// underlying element. All methods are safe for concurrent use.
type HTMLSurface struct {
	fieldID string
	bus     *Bus
	pixels  PixelSource

	mu         sync.Mutex
	doc        *goquery.Document
	nodes      map[*html.Node]*HTMLNode
	fieldValue string
}

func NewHTMLSurface(cfg HTMLSurfaceConfig) (*HTMLSurface, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(cfg.Content))
	if err != nil {
		return nil, err
	}
	pixels := cfg.Pixels
	if pixels == nil {
		pixels = encodedPixels{}
	}
	s := &HTMLSurface{
		fieldID: cfg.FieldID,
		bus:     cfg.Bus,
		pixels:  pixels,
		doc:     doc,
		nodes:   make(map[*html.Node]*HTMLNode),
	}
	s.fieldValue = s.renderLocked()
	return s, nil
}

func (s *HTMLSurface) FieldID() string {
	return s.fieldID
}

// Nodes returns the image nodes in document order.
func (s *HTMLSurface) Nodes() []Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Node
	for _, el := range s.doc.Find("img").Nodes {
		out = append(out, s.nodeForLocked(el))
	}
	return out
}

// InsertImage appends an image element to the surface body and publishes an
// insertion event.
func (s *HTMLSurface) InsertImage(src string) Node {
	s.mu.Lock()
	s.doc.Find("body").AppendHtml(`<img src="` + html.EscapeString(src) + `">`)
	imgs := s.doc.Find("img").Nodes
	if len(imgs) == 0 {
		s.mu.Unlock()
		return nil
	}
	n := s.nodeForLocked(imgs[len(imgs)-1])
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.PublishInsertion(InsertionEvent{Surface: s, Node: n})
	}
	return n
}

func (s *HTMLSurface) FieldValue() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fieldValue
}

func (s *HTMLSurface) SetFieldValue(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fieldValue = v
}

// Persist serializes the current markup into the field value.
func (s *HTMLSurface) Persist() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fieldValue = s.renderLocked()
}

func (s *HTMLSurface) renderLocked() string {
	h, err := s.doc.Find("body").Html()
	if err != nil {
		return s.fieldValue
	}
	return h
}

func (s *HTMLSurface) nodeForLocked(el *html.Node) *HTMLNode {
	if n, ok := s.nodes[el]; ok {
		return n
	}
	n := &HTMLNode{surface: s, el: el}
	s.nodes[el] = n
	return n
}

// HTMLNode is one image element on an HTMLSurface.
type HTMLNode struct {
	surface *HTMLSurface
	el      *html.Node
	state   NodeState
}

func (n *HTMLNode) Src() string {
	n.surface.mu.Lock()
	defer n.surface.mu.Unlock()
	return attrValue(n.el, "src")
}

func (n *HTMLNode) SetSrc(src string) {
	n.surface.mu.Lock()
	defer n.surface.mu.Unlock()
	setAttrValue(n.el, "src", src)
}

func (n *HTMLNode) Loaded() bool {
	return n.surface.pixels.Loaded(n.Src())
}

func (n *HTMLNode) Snapshot() ([]byte, string, error) {
	src := n.Src()
	if !n.surface.pixels.Loaded(src) {
		return nil, "", errors.New("capture: pixels not loaded")
	}
	return n.surface.pixels.Snapshot(src)
}

func (n *HTMLNode) State() *NodeState {
	return &n.state
}

func attrValue(el *html.Node, name string) string {
	for _, a := range el.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func setAttrValue(el *html.Node, name, val string) {
	for i, a := range el.Attr {
		if a.Key == name {
			el.Attr[i].Val = val
			return
		}
	}
	el.Attr = append(el.Attr, html.Attribute{Key: name, Val: val})
}
