// Package certificate renders personalized certificate images from a template and a layout.
package certificate

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/pure-golang/certmailer/roster"
	"github.com/pure-golang/certmailer/storage"
)

// ContentType of every artifact.
const ContentType = "image/png"

// Artifact is a rendered certificate, owned by the task that produced it.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Empty reports whether the artifact carries no image.
func (a Artifact) Empty() bool {
	return len(a.Data) == 0
}

// GeneratorOptions contains options for creating a Generator.
type GeneratorOptions struct {
	Logger *slog.Logger
}

// Generator renders certificates. The Spec is loaded on first use and shared by all
// goroutines; a load failure is remembered and returned by every Generate.
type Generator struct {
	store  storage.Storage
	layout Layout
	logger *slog.Logger

	once sync.Once
	spec *Spec
	err  error
}

// NewGenerator creates a Generator that loads layout assets from store on first use.
func NewGenerator(store storage.Storage, layout Layout, opts *GeneratorOptions) *Generator {
	if opts == nil {
		opts = &GeneratorOptions{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Generator{
		store:  store,
		layout: layout,
		logger: opts.Logger.WithGroup("certificate"),
	}
}

// NewGeneratorFromSpec creates a Generator over an already loaded Spec.
func NewGeneratorFromSpec(spec *Spec, opts *GeneratorOptions) *Generator {
	g := NewGenerator(nil, Layout{}, opts)
	g.once.Do(func() {
		g.spec = spec
	})
	return g
}

// Spec loads the Spec once. Cancellation of ctx does not poison the cached result.
func (g *Generator) Spec(ctx context.Context) (*Spec, error) {
	g.once.Do(func() {
		g.spec, g.err = LoadSpec(context.WithoutCancel(ctx), g.store, g.layout)
		if g.err != nil {
			g.logger.Error("failed to load certificate assets", "template", g.layout.Template, "error", g.err)
			return
		}
		g.logger.Debug("certificate assets loaded", "template", g.layout.Template, "bounds", g.spec.Bounds().String())
	})
	return g.spec, g.err
}

// Generate renders the certificate of r. Identical inputs give byte-identical output.
func (g *Generator) Generate(ctx context.Context, r roster.Recipient, course, date string) (a Artifact, err error) {
	ctx, span := tracer.Start(ctx, "certificate.Generate", trace.WithAttributes(
		attribute.String("course", course),
		attribute.String("date", date),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = string(KindOf(err))
			recordError(span, err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		recordGenerate(result, time.Since(start).Seconds())
	}()

	spec, err := g.Spec(ctx)
	if err != nil {
		var genErr *GenerationError
		if errors.As(err, &genErr) {
			return Artifact{}, err
		}
		return Artifact{}, &GenerationError{Kind: KindAsset, Err: err}
	}

	data, err := spec.Render(map[Source]string{
		SourceName:   r.Name,
		SourceCourse: course,
		SourceDate:   date,
	})
	if err != nil {
		return Artifact{}, err
	}

	span.SetAttributes(attribute.Int("bytes", len(data)))
	return Artifact{
		Filename:    Filename(r.Name),
		ContentType: ContentType,
		Data:        data,
	}, nil
}

// Render draws values onto a fresh copy of the template and returns PNG bytes.
func (s *Spec) Render(values map[Source]string) ([]byte, error) {
	bounds := s.template.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, s.template, bounds.Min, draw.Src)

	for _, f := range s.fields {
		if err := f.draw(canvas, values[f.Source]); err != nil {
			return nil, &GenerationError{Kind: KindRender, Err: errors.Wrapf(err, "field %s", f.Source)}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, &GenerationError{Kind: KindEncode, Err: errors.Wrap(err, "failed to encode png")}
	}
	return buf.Bytes(), nil
}

// draw places text with its top-left corner at (X, Y). Text past the edge is clipped.
func (f fieldSpec) draw(dst draw.Image, text string) error {
	if text == "" {
		return nil
	}

	face, err := opentype.NewFace(f.font, &opentype.FaceOptions{
		Size:    f.Size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create font face")
	}
	defer face.Close()

	origin := dst.Bounds().Min
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(f.color),
		Face: face,
		Dot:  fixed.P(origin.X+f.X, origin.Y+f.Y+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
	return nil
}

var filenameSanitizer = strings.NewReplacer("/", "_", "\\", "_", "\x00", "")

// Filename returns the attachment name for a recipient, "<Name>.png".
func Filename(name string) string {
	return filenameSanitizer.Replace(name) + ".png"
}
