// Package render turns encoded card payloads into scannable images.
package render

import (
	"context"
	"errors"
	"fmt"

	"github.com/skip2/go-qrcode"

	"memberpass/internal/card/models"
)

const (
	defaultSize = 320
	minSize     = 128
	maxSize     = 2048
)

// QRRenderer renders a payload as a PNG QR code. The payload is the whole
// image content so any scanner can hand it straight to verification.
type QRRenderer struct {
	size  int
	level qrcode.RecoveryLevel
}

type Option func(*QRRenderer)

// WithSize sets the edge length of the PNG in pixels.
func WithSize(px int) Option {
	return func(r *QRRenderer) { r.size = px }
}

// WithHighRecovery trades density for damage tolerance on printed cards.
func WithHighRecovery() Option {
	return func(r *QRRenderer) { r.level = qrcode.High }
}

func NewQRRenderer(opts ...Option) (*QRRenderer, error) {
	r := &QRRenderer{size: defaultSize, level: qrcode.Medium}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.size < minSize || r.size > maxSize {
		return nil, fmt.Errorf("qr size must be between %d and %d, got %d", minSize, maxSize, r.size)
	}
	return r, nil
}

func (r *QRRenderer) Render(ctx context.Context, _ models.Card, payload string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if payload == "" {
		return nil, errors.New("payload is empty")
	}
	png, err := qrcode.Encode(payload, r.level, r.size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
