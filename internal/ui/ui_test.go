package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTTY(t *testing.T) {
	assert.False(t, IsTTY(nil))
	assert.False(t, IsTTY(&bytes.Buffer{}))
}

func TestStylesForBufferIsPlain(t *testing.T) {
	s := StylesFor(&bytes.Buffer{})
	assert.Equal(t, "car.jpg", s.Header.Render("car.jpg"))
	assert.Equal(t, "car", s.Match.Render("car"))
}
