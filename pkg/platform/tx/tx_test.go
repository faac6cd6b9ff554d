package tx

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrom(t *testing.T) {
	ctx := context.Background()

	_, ok := From(ctx)
	assert.False(t, ok)
	assert.Same(t, ctx, WithTx(ctx, nil))

	sqlTx := &sql.Tx{}
	got, ok := From(WithTx(ctx, sqlTx))
	assert.True(t, ok)
	assert.Same(t, sqlTx, got)
}

func TestOr(t *testing.T) {
	ctx := context.Background()
	db := &sql.DB{}
	assert.Equal(t, Executor(db), Or(ctx, db))

	sqlTx := &sql.Tx{}
	assert.Equal(t, Executor(sqlTx), Or(WithTx(ctx, sqlTx), db))
}
