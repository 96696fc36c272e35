package certificate

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/pure-golang/certmailer/roster"
	"github.com/pure-golang/certmailer/storage"
	"github.com/pure-golang/certmailer/storage/local"
)

var ana = roster.Recipient{Name: "Ana Lee", Email: "ana@x.com"}

// countingStore counts Get calls on top of a real store.
type countingStore struct {
	storage.Storage
	gets atomic.Int32
}

func (c *countingStore) Get(ctx context.Context, key string) (io.ReadCloser, *storage.ObjectInfo, error) {
	c.gets.Add(1)
	return c.Storage.Get(ctx, key)
}

// writeAssets lays out a white 1200x1000 template and Go Regular under the default font keys.
func writeAssets(t *testing.T, withTemplate bool) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "templates"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "fonts"), 0o755))

	if withTemplate {
		img := image.NewRGBA(image.Rect(0, 0, 1200, 1000))
		for i := range img.Pix {
			img.Pix[i] = 0xff
		}
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))
		require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultTemplate), buf.Bytes(), 0o644))
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultNameFont), goregular.TTF, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultDateFont), goregular.TTF, 0o644))
	return dir
}

func newStore(t *testing.T, dir string) *countingStore {
	t.Helper()

	s, err := local.New(local.Config{Dir: dir}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return &countingStore{Storage: s}
}

func decode(t *testing.T, a Artifact) *image.RGBA {
	t.Helper()

	img, err := png.Decode(bytes.NewReader(a.Data))
	require.NoError(t, err)
	rgba, ok := img.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(img.Bounds())
		for y := img.Bounds().Min.Y; y < img.Bounds().Max.Y; y++ {
			for x := img.Bounds().Min.X; x < img.Bounds().Max.X; x++ {
				rgba.Set(x, y, img.At(x, y))
			}
		}
	}
	return rgba
}

func inkIn(img *image.RGBA, r image.Rectangle) int {
	n := 0
	white := color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if img.RGBAAt(x, y) != white {
				n++
			}
		}
	}
	return n
}

func TestGenerator_Generate(t *testing.T) {
	t.Parallel()

	g := NewGenerator(newStore(t, writeAssets(t, true)), DefaultLayout(), nil)

	a, err := g.Generate(context.Background(), ana, "DSA Using C++", "05-03-2024")
	require.NoError(t, err)

	assert.Equal(t, "Ana Lee.png", a.Filename)
	assert.Equal(t, "image/png", a.ContentType)
	assert.False(t, a.Empty())

	img := decode(t, a)
	assert.Equal(t, image.Rect(0, 0, 1200, 1000), img.Bounds())

	// name: size 90 at (510, 500), top-left anchored
	assert.Positive(t, inkIn(img, image.Rect(510, 500, 1000, 600)))
	assert.Zero(t, inkIn(img, image.Rect(400, 420, 1200, 500)))
	// course: size 40 at (490, 705)
	assert.Positive(t, inkIn(img, image.Rect(490, 705, 900, 750)))
	// date: size 45 at (840, 950), clipped at the bottom edge
	assert.Positive(t, inkIn(img, image.Rect(840, 950, 1100, 1000)))
	// nothing left of every field
	assert.Zero(t, inkIn(img, image.Rect(0, 0, 480, 1000)))
}

func TestGenerator_Deterministic(t *testing.T) {
	t.Parallel()

	g := NewGenerator(newStore(t, writeAssets(t, true)), DefaultLayout(), nil)

	first, err := g.Generate(context.Background(), ana, "DSA Using C++", "05-03-2024")
	require.NoError(t, err)
	second, err := g.Generate(context.Background(), ana, "DSA Using C++", "05-03-2024")
	require.NoError(t, err)
	assert.Equal(t, first.Data, second.Data)

	other, err := g.Generate(context.Background(), roster.Recipient{Name: "Bo Chen", Email: "bo@y.com"}, "DSA Using C++", "05-03-2024")
	require.NoError(t, err)
	assert.NotEqual(t, first.Data, other.Data)
}

func TestGenerator_MissingTemplate(t *testing.T) {
	t.Parallel()

	store := newStore(t, writeAssets(t, false))
	g := NewGenerator(store, DefaultLayout(), nil)

	for i := 0; i < 3; i++ {
		a, err := g.Generate(context.Background(), ana, "DSA Using C++", "05-03-2024")
		require.Error(t, err)
		assert.True(t, a.Empty())
		assert.Equal(t, KindAsset, KindOf(err))
		assert.True(t, storage.IsNotFound(err))
	}
	assert.Equal(t, int32(1), store.gets.Load())
}

func TestGenerator_MissingFont(t *testing.T) {
	t.Parallel()

	layout := DefaultLayout()
	layout.Fields[1].Font = "fonts/missing.ttf"
	g := NewGenerator(newStore(t, writeAssets(t, true)), layout, nil)

	_, err := g.Generate(context.Background(), ana, "DSA Using C++", "05-03-2024")
	assert.Equal(t, KindAsset, KindOf(err))
	assert.Contains(t, err.Error(), "fonts/missing.ttf")
}

func TestGenerator_CorruptFont(t *testing.T) {
	t.Parallel()

	dir := writeAssets(t, true)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultDateFont), []byte("not a font"), 0o644))
	g := NewGenerator(newStore(t, dir), DefaultLayout(), nil)

	_, err := g.Generate(context.Background(), ana, "DSA Using C++", "05-03-2024")
	assert.Equal(t, KindAsset, KindOf(err))
}

func TestGenerator_InvalidLayout(t *testing.T) {
	t.Parallel()

	layout := DefaultLayout()
	layout.Fields[0].Size = 0
	g := NewGenerator(newStore(t, writeAssets(t, true)), layout, nil)

	_, err := g.Generate(context.Background(), ana, "DSA Using C++", "05-03-2024")
	assert.Equal(t, KindLayout, KindOf(err))
}

func TestGenerator_ConcurrentLoadsOnce(t *testing.T) {
	t.Parallel()

	store := newStore(t, writeAssets(t, true))
	g := NewGenerator(store, DefaultLayout(), nil)

	const n = 16
	results := make([][]byte, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := g.Generate(context.Background(), ana, "DSA Using C++", "05-03-2024")
			assert.NoError(t, err)
			results[i] = a.Data
		}()
	}
	wg.Wait()

	// template + two distinct fonts
	assert.Equal(t, int32(3), store.gets.Load())
	for i := 1; i < n; i++ {
		assert.Equal(t, results[0], results[i])
	}
}

func TestGenerator_CanceledFirstCallDoesNotPoison(t *testing.T) {
	t.Parallel()

	g := NewGenerator(newStore(t, writeAssets(t, true)), DefaultLayout(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Spec(ctx)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), ana, "DSA Using C++", "05-03-2024")
	assert.NoError(t, err)
}

func TestNewGeneratorFromSpec(t *testing.T) {
	t.Parallel()

	store := newStore(t, writeAssets(t, true))
	spec, err := LoadSpec(context.Background(), store, DefaultLayout())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1200, 1000), spec.Bounds())

	g := NewGeneratorFromSpec(spec, nil)
	a, err := g.Generate(context.Background(), ana, "Go", "01-01-2025")
	require.NoError(t, err)
	assert.False(t, a.Empty())
}

func TestSpec_RenderEmptyValues(t *testing.T) {
	t.Parallel()

	spec, err := LoadSpec(context.Background(), newStore(t, writeAssets(t, true)), DefaultLayout())
	require.NoError(t, err)

	data, err := spec.Render(nil)
	require.NoError(t, err)

	img := decode(t, Artifact{Data: data})
	assert.Zero(t, inkIn(img, img.Bounds()))
}

func TestFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Ana Lee.png", Filename("Ana Lee"))
	assert.Equal(t, "A_B_C.png", Filename(`A/B\C`))
}

func TestFormatDate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "05-03-2024", FormatDate(time.Date(2024, 3, 5, 23, 59, 0, 0, time.UTC)))
	assert.Equal(t, "31-12-1999", FormatDate(time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC)))
}

func TestGenerationError(t *testing.T) {
	t.Parallel()

	cause := io.ErrUnexpectedEOF
	err := &GenerationError{Kind: KindEncode, Err: cause}

	assert.Equal(t, "certificate encode: unexpected EOF", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindEncode, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(cause))
}
