package sentinel

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type netTimeout struct{ timeout bool }

func (e netTimeout) Error() string { return "i/o timeout" }
func (e netTimeout) Timeout() bool { return e.timeout }

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.True(t, IsTimeout(fmt.Errorf("member get: %w", ErrTimeout)))
	assert.True(t, IsTimeout(fmt.Errorf("query: %w", netTimeout{timeout: true})))

	assert.False(t, IsTimeout(netTimeout{}))
	assert.False(t, IsTimeout(context.Canceled))
	assert.False(t, IsTimeout(errors.New("connection reset")))
	assert.False(t, IsTimeout(nil))
}
