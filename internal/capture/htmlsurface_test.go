package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"richform/internal/imagedata"
)

func TestHTMLSurfaceEnumeratesImages(t *testing.T) {
	s, err := NewHTMLSurface(HTMLSurfaceConfig{
		FieldID: "q5",
		Content: `<p>before</p><img src="https://example.com/a.png"><p><img src="blob:https://forms.example.com/x"></p>`,
	})
	require.NoError(t, err)

	nodes := s.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, "https://example.com/a.png", nodes[0].Src())
	assert.Equal(t, "blob:https://forms.example.com/x", nodes[1].Src())
}

func TestHTMLSurfaceNodeIdentityIsStable(t *testing.T) {
	s, err := NewHTMLSurface(HTMLSurfaceConfig{FieldID: "q5", Content: `<img src="a.png">`})
	require.NoError(t, err)

	first := s.Nodes()
	second := s.Nodes()
	require.Len(t, first, 1)
	assert.Same(t, first[0].(*HTMLNode), second[0].(*HTMLNode))
	assert.Same(t, first[0].State(), second[0].State())
}

func TestHTMLSurfaceSetSrcReflectedInPersistedValue(t *testing.T) {
	s, err := NewHTMLSurface(HTMLSurfaceConfig{FieldID: "q5", Content: `<p><img src="blob:https://forms.example.com/x"></p>`})
	require.NoError(t, err)

	s.Nodes()[0].SetSrc("https://img.example.com/image/k.png")
	s.Persist()

	assert.Contains(t, s.FieldValue(), `src="https://img.example.com/image/k.png"`)
	assert.NotContains(t, s.FieldValue(), "blob:")
}

func TestHTMLSurfaceInsertImagePublishesEvent(t *testing.T) {
	bus := NewBus()
	var got []InsertionEvent
	require.NoError(t, bus.SubscribeInsertion(func(ev InsertionEvent) {
		got = append(got, ev)
	}))

	s, err := NewHTMLSurface(HTMLSurfaceConfig{FieldID: "q5", Content: "<p>text</p>", Bus: bus})
	require.NoError(t, err)

	n := s.InsertImage("https://example.com/new.png")
	require.NotNil(t, n)

	require.Len(t, got, 1)
	assert.Same(t, s, got[0].Surface)
	assert.Same(t, n, got[0].Node)
	assert.Equal(t, "https://example.com/new.png", n.Src())
	require.Len(t, s.Nodes(), 1)
}

func TestHTMLSurfaceDefaultPixelSource(t *testing.T) {
	dataURL := imagedata.Encode([]byte("pixels"), "image/png")
	s, err := NewHTMLSurface(HTMLSurfaceConfig{FieldID: "q5", Content: `<img src="` + dataURL + `"><img src="blob:x">`})
	require.NoError(t, err)

	nodes := s.Nodes()
	require.Len(t, nodes, 2)

	assert.True(t, nodes[0].Loaded())
	data, mimeType, err := nodes[0].Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []byte("pixels"), data)
	assert.Equal(t, "image/png", mimeType)

	assert.False(t, nodes[1].Loaded())
	_, _, err = nodes[1].Snapshot()
	assert.Error(t, err)
}

func TestHTMLSurfaceWithEngineEndToEnd(t *testing.T) {
	host := &fakeHost{
		uploadURL: testHostedPrefix + "1700000000000-abc123.png",
		proxyURL:  testHostedPrefix + "1700000000000-abc123.jpeg",
	}
	e, _ := newTestEngine(t, Config{Host: host})

	s, err := NewHTMLSurface(HTMLSurfaceConfig{
		FieldID: "q9",
		Content: "<p>report:</p>",
		Bus:     e.Bus(),
	})
	require.NoError(t, err)
	e.Track(s)

	n := s.InsertImage(imagedata.Encode([]byte("shot"), "image/png"))
	require.NotNil(t, n)

	waitFor(t, func() bool { return n.Src() == host.uploadURL }, "pasted image should be hosted")
	assert.Equal(t, 1, e.Captures().Count("q9"))
	waitFor(t, func() bool { return e.PendingUploads() == 0 }, "uploads should settle")

	s.Persist()
	assert.Contains(t, s.FieldValue(), host.uploadURL)
}
