package qr

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestURLDefaultsFactory(t *testing.T) {
	g := NewGenerator("", "")
	require.Equal(t, "http://192.168.0.4:3000/kho/vat-tu/VS/1.26.46.001.000.A1.000", g.URL("", "1.26.46.001.000.A1.000"))

	g = NewGenerator("https://kho.example/", "NM2")
	require.Equal(t, "https://kho.example/kho/vat-tu/NM1/X.1", g.URL("NM1", "X.1"))
	require.Equal(t, "https://kho.example/kho/vat-tu/NM2/X.1", g.URL("", "X.1"))
}

func TestFileName(t *testing.T) {
	require.Equal(t, "qr_1_26_46_001_000_A1_000.png", FileName("1.26.46.001.000.A1.000"))
	require.Equal(t, "qr_codes/NM1/qr_ABC.png", ObjectPath("NM1", "ABC"))
	require.NotEqual(t, ObjectPath("NM1", "ABC"), ObjectPath("NM2", "ABC"))
}

func TestRenderProducesPNG(t *testing.T) {
	g := NewGenerator("", "")
	data, err := g.Render("NM1", "1.26.46.001.000.A1.000")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, DefaultSize, img.Bounds().Dx())

	_, err = g.Render("NM1", "  ")
	require.Error(t, err)
}
