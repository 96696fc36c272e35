package certificate

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a generation failure.
type Kind string

const (
	KindAsset  Kind = "asset"  // template or font missing or unreadable
	KindLayout Kind = "layout" // layout invalid
	KindRender Kind = "render" // drawing failed
	KindEncode Kind = "encode" // PNG encoding failed
)

// GenerationError is returned when no artifact could be produced for a recipient.
type GenerationError struct {
	Kind Kind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("certificate %s: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a GenerationError, or "" for other errors.
func KindOf(err error) Kind {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.Kind
	}
	return ""
}
