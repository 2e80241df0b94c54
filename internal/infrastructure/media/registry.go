package media

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"

	"go.uber.org/zap"
)

// EncoderConstructor builds an encoder for one container/codec combination.
type EncoderConstructor func(w io.Writer, spec ports.EncodeSpec) (ports.StreamEncoder, error)

// EncoderRegistry picks the first mime type of an EncodeSpec that has a working
// constructor. A constructor that fails moves the search to the next preference.
type EncoderRegistry struct {
	mu           sync.RWMutex
	constructors map[string]EncoderConstructor
	logger       *zap.SugaredLogger
}

var _ ports.StreamEncoderFactory = (*EncoderRegistry)(nil)

// NewEncoderRegistry creates an empty registry.
func NewEncoderRegistry(logger *zap.SugaredLogger) *EncoderRegistry {
	return &EncoderRegistry{
		constructors: make(map[string]EncoderConstructor),
		logger:       logger,
	}
}

// NewDefaultRegistry registers the encoders this build ships with.
func NewDefaultRegistry(jpegQuality int, logger *zap.SugaredLogger) *EncoderRegistry {
	r := NewEncoderRegistry(logger)
	r.Register(MimeMatroskaMJPEG, func(w io.Writer, spec ports.EncodeSpec) (ports.StreamEncoder, error) {
		return NewMJPEGEncoder(w, spec, jpegQuality)
	})
	return r
}

func normalizeMime(mimeType string) string {
	return strings.ToLower(strings.ReplaceAll(mimeType, " ", ""))
}

// Register adds an encoder for mimeType, replacing any earlier one.
func (r *EncoderRegistry) Register(mimeType string, ctor EncoderConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[normalizeMime(mimeType)] = ctor
}

// Supports reports whether mimeType has a registered constructor.
func (r *EncoderRegistry) Supports(mimeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.constructors[normalizeMime(mimeType)]
	return ok
}

// NewStreamEncoder creates the first encoder in spec.MimeTypes that is registered.
func (r *EncoderRegistry) NewStreamEncoder(w io.Writer, spec ports.EncodeSpec) (ports.StreamEncoder, error) {
	for _, mimeType := range spec.MimeTypes {
		r.mu.RLock()
		ctor, ok := r.constructors[normalizeMime(mimeType)]
		r.mu.RUnlock()
		if !ok {
			r.logger.Debugw("encoding not available", "mime_type", mimeType)
			continue
		}

		enc, err := ctor(w, spec)
		if err != nil {
			r.logger.Warnw("encoder failed to start, trying next", "mime_type", mimeType, "error", err)
			continue
		}
		return enc, nil
	}
	return nil, fmt.Errorf("%w: tried %s", domain.ErrUnsupportedEncoding, strings.Join(spec.MimeTypes, ", "))
}
