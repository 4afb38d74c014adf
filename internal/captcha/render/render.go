// Package render draws challenge codes into PNG images.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"

	"github.com/mojocn/base64Captcha"
)

// Default canvas size in pixels.
const (
	DefaultWidth  = 175
	DefaultHeight = 50
)

// Ext is the file extension of every rendered artifact.
const Ext = ".png"

// Options controls the canvas. Zero values fall back to the defaults.
type Options struct {
	Width  int
	Height int
}

// Renderer rasterises codes with base64Captcha's string driver.
type Renderer struct {
	width  int
	height int
}

// New returns a Renderer for the given canvas options.
func New(opts Options) *Renderer {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	return &Renderer{width: opts.Width, height: opts.Height}
}

// Render draws code onto a white canvas with distortion lines and returns
// the PNG bytes together with the artifact name "<id>.png".
func (r *Renderer) Render(id, code string) ([]byte, string, error) {
	if id == "" {
		return nil, "", errors.New("render: empty id")
	}
	if code == "" {
		return nil, "", errors.New("render: empty code")
	}

	// The driver only uses source/length when it generates its own content;
	// DrawCaptcha below is handed our code directly.
	driver := base64Captcha.NewDriverString(
		r.height,
		r.width,
		0,
		base64Captcha.OptionShowHollowLine|base64Captcha.OptionShowSlimeLine,
		len(code),
		code,
		&color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF},
		nil,
		nil,
	)

	item, err := driver.DrawCaptcha(code)
	if err != nil {
		return nil, "", fmt.Errorf("draw captcha: %w", err)
	}

	var buf bytes.Buffer
	if _, err := item.WriteTo(&buf); err != nil {
		return nil, "", fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), id + Ext, nil
}
