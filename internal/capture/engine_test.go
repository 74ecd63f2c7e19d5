package capture

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"richform/internal/imagedata"
)

const testHostedPrefix = "https://img.example.com/image/"

func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakeScheduler) {
	t.Helper()
	sched := newFakeScheduler()
	cfg.Scheduler = sched
	cfg.Log = zerolog.Nop()
	if cfg.HostedPrefix == "" {
		cfg.HostedPrefix = testHostedPrefix
	}
	e := NewEngine(cfg)
	t.Cleanup(e.Close)
	return e, sched
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestDataInsertionCapturedAndHosted(t *testing.T) {
	host := &fakeHost{uploadURL: testHostedPrefix + "1700000000000-abc123.png"}
	e, _ := newTestEngine(t, Config{Host: host})
	s := newFakeSurface("q42")
	n := s.addNode(imagedata.Encode([]byte("png-bytes"), "image/png"))

	e.Track(s)

	waitFor(t, func() bool { return n.Src() == host.uploadURL }, "node should be rewritten to hosted URL")
	assert.True(t, n.State().Uploaded())
	assert.Equal(t, 1, e.Captures().Count("q42"))
	waitFor(t, func() bool { return e.PendingUploads() == 0 }, "pending uploads should settle")
	waitFor(t, func() bool { return s.persistCount() >= 1 }, "surface should be persisted after hosting")
}

func TestInsertionHandlingIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	s := newFakeSurface("q1")
	n := s.addNode(imagedata.Encode([]byte("x"), "image/png"))

	e.HandleInsertion(s, n)
	e.HandleInsertion(s, n)

	assert.Equal(t, 1, e.Captures().Count("q1"))
}

func TestHostedSourceSkipsPipeline(t *testing.T) {
	host := &fakeHost{}
	e, _ := newTestEngine(t, Config{Host: host})
	s := newFakeSurface("q1")
	n := s.addNode(testHostedPrefix + "1700000000000-abc123.png")

	e.HandleInsertion(s, n)

	assert.True(t, n.State().Uploaded())
	assert.Equal(t, 0, e.Captures().Count("q1"))
	assert.Equal(t, 0, host.uploadCount())
}

func TestBlobConvertedFromSnapshot(t *testing.T) {
	e, sched := newTestEngine(t, Config{})
	s := newFakeSurface("q1")
	n := s.addNode("blob:https://forms.example.com/a-b-c")
	n.setLoaded([]byte("jpeg-bytes"), "image/jpeg")

	e.HandleInsertion(s, n)

	want := imagedata.Encode([]byte("jpeg-bytes"), "image/jpeg")
	assert.Equal(t, want, n.Src())
	assert.Equal(t, 1, e.Captures().Count("q1"))
	assert.Equal(t, 1, s.persistCount())

	sched.Advance(DefaultPersistRetryDelay)
	assert.Equal(t, 2, s.persistCount(), "persistence should run again after the retry delay")
}

func TestBlobFallsBackToResolverAfterPixelWait(t *testing.T) {
	var resolved []string
	resolver := BlobResolverFunc(func(_ context.Context, src string) ([]byte, string, error) {
		resolved = append(resolved, src)
		return []byte("resolved"), "image/png", nil
	})
	e, sched := newTestEngine(t, Config{Blobs: resolver})
	s := newFakeSurface("q1")
	n := s.addNode("blob:https://forms.example.com/a-b-c")

	e.HandleInsertion(s, n)
	sched.Advance(DefaultPixelWaitTimeout + DefaultPixelPollInterval)

	want := imagedata.Encode([]byte("resolved"), "image/png")
	waitFor(t, func() bool { return n.Src() == want }, "resolver result should replace the blob reference")
	require.Equal(t, []string{"blob:https://forms.example.com/a-b-c"}, resolved)
}

func TestBlobConvertedOncePixelsArrive(t *testing.T) {
	e, sched := newTestEngine(t, Config{})
	s := newFakeSurface("q1")
	n := s.addNode("blob:https://forms.example.com/a-b-c")

	e.HandleInsertion(s, n)
	sched.Advance(3 * DefaultPixelPollInterval)
	assert.True(t, strings.HasPrefix(n.Src(), "blob:"))

	n.setLoaded([]byte("late"), "image/png")
	sched.Advance(DefaultPixelPollInterval)

	assert.Equal(t, imagedata.Encode([]byte("late"), "image/png"), n.Src())
}

func TestStaleResolverResultDiscarded(t *testing.T) {
	release := make(chan struct{})
	resolver := BlobResolverFunc(func(_ context.Context, _ string) ([]byte, string, error) {
		<-release
		return []byte("stale"), "image/png", nil
	})
	e, sched := newTestEngine(t, Config{Blobs: resolver})
	s := newFakeSurface("q1")
	n := s.addNode("blob:https://forms.example.com/a-b-c")

	e.HandleInsertion(s, n)
	sched.Advance(DefaultPixelWaitTimeout + DefaultPixelPollInterval)

	// A competing attempt completes first, advancing the generation.
	n.State().EndConverting()
	gen2, ok := n.State().BeginConverting()
	require.True(t, ok)
	require.True(t, n.State().CompleteConversion(gen2))
	close(release)

	assert.Never(t, func() bool {
		return n.Src() != "blob:https://forms.example.com/a-b-c"
	}, 100*time.Millisecond, 10*time.Millisecond, "superseded result must not touch the node")
}

func TestRemoteSourceProxied(t *testing.T) {
	host := &fakeHost{proxyURL: testHostedPrefix + "1700000000000-abc123.jpeg"}
	e, _ := newTestEngine(t, Config{Host: host})
	s := newFakeSurface("q1")
	n := s.addNode("https://example.com/pic.jpg")

	e.HandleInsertion(s, n)

	waitFor(t, func() bool { return n.Src() == host.proxyURL }, "node should point at the proxied copy")
	assert.True(t, n.State().Uploaded())
	assert.Equal(t, []string{"https://example.com/pic.jpg"}, host.proxiedURLs())
}

func TestProxyFailureKeepsOriginalURL(t *testing.T) {
	host := &fakeHost{proxyErr: errors.New("gateway down")}
	e, _ := newTestEngine(t, Config{Host: host})
	s := newFakeSurface("q1")
	n := s.addNode("https://example.com/pic.jpg")

	e.HandleInsertion(s, n)

	waitFor(t, func() bool { return !n.State().Uploading() }, "upload flag should clear on failure")
	assert.Equal(t, "https://example.com/pic.jpg", n.Src())
	assert.False(t, n.State().Uploaded())
	waitFor(t, func() bool { return e.PendingUploads() == 0 }, "pending uploads should settle")
}

func TestUploadFailureKeepsEncodedForm(t *testing.T) {
	host := &fakeHost{uploadErr: errors.New("gateway down")}
	e, _ := newTestEngine(t, Config{Host: host})
	s := newFakeSurface("q1")
	src := imagedata.Encode([]byte("x"), "image/png")
	n := s.addNode(src)

	e.HandleInsertion(s, n)

	waitFor(t, func() bool { return !n.State().Uploading() }, "upload flag should clear on failure")
	assert.Equal(t, src, n.Src())
	waitFor(t, func() bool { return s.persistCount() >= 1 }, "encoded form should still be persisted")
}

func TestSweepConvertsStragglers(t *testing.T) {
	e, sched := newTestEngine(t, Config{})
	s := newFakeSurface("q1")
	e.Track(s)
	e.Start()

	// Added behind the engine's back, so no insertion event fires.
	n := s.addNode("blob:https://forms.example.com/a-b-c")
	n.setLoaded([]byte("swept"), "image/png")

	sched.Advance(DefaultSweepInterval)

	assert.Equal(t, imagedata.Encode([]byte("swept"), "image/png"), n.Src())
	assert.GreaterOrEqual(t, s.persistCount(), 1, "sweep should re-sync the surface")
}

func TestScanPendingClassifiesOutstandingWork(t *testing.T) {
	host := &fakeHost{}
	e, _ := newTestEngine(t, Config{Host: host})
	s := newFakeSurface("q1")
	// Marked captured up front so tracking only registers them.
	s.addNode("blob:https://forms.example.com/a-b-c").State().MarkCaptured()
	s.addNode("https://example.com/pic.jpg").State().MarkCaptured()
	e.Track(s)

	scan := e.ScanPending()
	assert.Equal(t, 1, scan.Blobs)
	assert.Equal(t, 1, scan.External)
	assert.False(t, scan.Clean())
}

func TestScanPendingCleanWhenNothingTracked(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	assert.True(t, e.ScanPending().Clean())
}

func TestHandlePasteRawBytes(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	s := newFakeSurface("q1")

	n := e.HandlePaste(s, PasteContent{Data: []byte("pasted"), MIME: "image/gif"})

	require.NotNil(t, n)
	assert.Equal(t, imagedata.Encode([]byte("pasted"), "image/gif"), n.Src())
	assert.Equal(t, 1, e.Captures().Count("q1"))
}

func TestHandlePasteMarkupFragment(t *testing.T) {
	host := &fakeHost{proxyURL: testHostedPrefix + "1700000000000-abc123.png"}
	e, _ := newTestEngine(t, Config{Host: host})
	s := newFakeSurface("q1")

	n := e.HandlePaste(s, PasteContent{HTML: `<p>hi <img src="https://example.com/x.png" alt=""></p>`})

	require.NotNil(t, n)
	waitFor(t, func() bool { return n.Src() == host.proxyURL }, "pasted reference should be proxied")
}

func TestHandlePasteWithoutImage(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	s := newFakeSurface("q1")

	assert.Nil(t, e.HandlePaste(s, PasteContent{HTML: "<p>plain text</p>"}))
	assert.Nil(t, e.HandlePaste(s, PasteContent{}))
	assert.Empty(t, s.Nodes())
}
