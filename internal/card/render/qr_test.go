package render

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberpass/internal/card/models"
)

func TestQRRenderer(t *testing.T) {
	ctx := context.Background()

	t.Run("renders a png of the configured size", func(t *testing.T) {
		r, err := NewQRRenderer(WithSize(256))
		require.NoError(t, err)

		out, err := r.Render(ctx, models.Card{}, "eyJpZCI6ImNhcmQifQ.ab12")
		require.NoError(t, err)

		img, err := png.Decode(bytes.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, 256, img.Bounds().Dx())
	})

	t.Run("high recovery", func(t *testing.T) {
		r, err := NewQRRenderer(WithHighRecovery())
		require.NoError(t, err)
		out, err := r.Render(ctx, models.Card{}, "payload")
		require.NoError(t, err)
		assert.NotEmpty(t, out)
	})

	t.Run("empty payload", func(t *testing.T) {
		r, err := NewQRRenderer()
		require.NoError(t, err)
		_, err = r.Render(ctx, models.Card{}, "")
		assert.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		r, err := NewQRRenderer()
		require.NoError(t, err)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = r.Render(cctx, models.Card{}, "payload")
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("size out of range", func(t *testing.T) {
		_, err := NewQRRenderer(WithSize(16))
		assert.Error(t, err)
	})
}
