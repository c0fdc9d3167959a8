// Package qr renders the deep-link QR labels printed on material bins.
package qr

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// Label geometry: an 80px white square, large enough for a 15mm sticker.
const (
	DefaultSize    = 80
	DefaultBaseURL = "http://192.168.0.4:3000"
	DefaultFactory = "VS"
	// Folder is the storage prefix of rendered labels.
	Folder = "qr_codes"
)

// Generator builds QR payloads pointing at the material detail page.
type Generator struct {
	BaseURL        string
	DefaultFactory string
	Size           int
}

// NewGenerator constructs a Generator, falling back to defaults for blanks.
func NewGenerator(baseURL, defaultFactory string) Generator {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if defaultFactory == "" {
		defaultFactory = DefaultFactory
	}
	return Generator{BaseURL: strings.TrimRight(baseURL, "/"), DefaultFactory: defaultFactory, Size: DefaultSize}
}

// URL returns {base}/kho/vat-tu/{factory}/{code}.
func (g Generator) URL(factory, code string) string {
	if factory == "" {
		factory = g.DefaultFactory
	}
	return fmt.Sprintf("%s/kho/vat-tu/%s/%s", g.BaseURL, factory, code)
}

// FileName returns qr_{code}.png with dots replaced by underscores.
func FileName(code string) string {
	return "qr_" + strings.ReplaceAll(code, ".", "_") + ".png"
}

// ObjectPath is the storage path of a material label, qr_codes/{factory}/qr_{code}.png.
// The same code may exist in several factories, each with its own label.
func ObjectPath(factory, code string) string {
	return Folder + "/" + factory + "/" + FileName(code)
}

// Render encodes the deep link of (factory, code) as a PNG.
func (g Generator) Render(factory, code string) ([]byte, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("qr: empty material code")
	}
	size := g.Size
	if size <= 0 {
		size = DefaultSize
	}
	png, err := qrcode.Encode(g.URL(factory, code), qrcode.Low, size)
	if err != nil {
		return nil, fmt.Errorf("qr: encode %s: %w", code, err)
	}
	return png, nil
}
