package driver

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressRendersEachTransition(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf)

	p.Executing("app")
	p.Blocked("lib")
	p.Ready("app")
	p.Failed("app", errors.New("build broke"))

	out := buf.String()
	assert.Contains(t, out, "app")
	assert.Contains(t, out, "lib")
	assert.Contains(t, out, "build broke")
}
