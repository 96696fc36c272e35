package certificate

import (
	"bytes"
	"context"
	"image"
	"image/color"
	_ "image/jpeg" // JPEG templates
	_ "image/png"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/image/font/opentype"

	"github.com/pure-golang/certmailer/storage"
)

// Spec is a loaded layout: decoded template and parsed fonts.
// It is immutable and shared read-only by every render.
type Spec struct {
	template image.Image
	fields   []fieldSpec
}

type fieldSpec struct {
	Field
	font  *opentype.Font
	color color.Color
}

// Bounds returns the template bounds.
func (s *Spec) Bounds() image.Rectangle {
	return s.template.Bounds()
}

// LoadSpec reads the template and every distinct font of layout from store.
func LoadSpec(ctx context.Context, store storage.Storage, layout Layout) (*Spec, error) {
	ctx, span := tracer.Start(ctx, "certificate.LoadSpec", trace.WithAttributes(
		attribute.String("template", layout.Template),
		attribute.Int("fields", len(layout.Fields)),
	))
	defer span.End()

	if err := layout.Validate(); err != nil {
		recordError(span, err)
		return nil, &GenerationError{Kind: KindLayout, Err: err}
	}

	raw, err := storage.ReadAll(ctx, store, layout.Template)
	if err != nil {
		recordError(span, err)
		return nil, &GenerationError{Kind: KindAsset, Err: errors.Wrapf(err, "failed to read template %s", layout.Template)}
	}
	tmpl, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		recordError(span, err)
		return nil, &GenerationError{Kind: KindAsset, Err: errors.Wrapf(err, "failed to decode template %s", layout.Template)}
	}

	fonts := make(map[string]*opentype.Font)
	spec := &Spec{template: tmpl, fields: make([]fieldSpec, 0, len(layout.Fields))}

	for _, f := range layout.Fields {
		font, ok := fonts[f.Font]
		if !ok {
			data, err := storage.ReadAll(ctx, store, f.Font)
			if err != nil {
				recordError(span, err)
				return nil, &GenerationError{Kind: KindAsset, Err: errors.Wrapf(err, "failed to read font %s", f.Font)}
			}
			font, err = opentype.Parse(data)
			if err != nil {
				recordError(span, err)
				return nil, &GenerationError{Kind: KindAsset, Err: errors.Wrapf(err, "failed to parse font %s", f.Font)}
			}
			fonts[f.Font] = font
		}

		c, err := parseColor(f.Color)
		if err != nil {
			recordError(span, err)
			return nil, &GenerationError{Kind: KindLayout, Err: err}
		}
		spec.fields = append(spec.fields, fieldSpec{Field: f, font: font, color: c})
	}

	span.SetStatus(codes.Ok, "")
	return spec, nil
}
