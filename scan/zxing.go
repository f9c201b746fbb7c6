package scan

import (
	"fmt"
	"image"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// ZXingDecoder tries a fixed set of gozxing readers on every frame
type ZXingDecoder struct {
	readers []gozxing.Reader
	hints   map[gozxing.DecodeHintType]interface{}
}

// NewZXingDecoder builds a decoder for the named formats
// (qr, code128, code39, ean13, ean8, upca, itf).
func NewZXingDecoder(formats []string) (*ZXingDecoder, error) {
	if len(formats) == 0 {
		formats = []string{"qr"}
	}

	d := &ZXingDecoder{
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
	for _, f := range formats {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "qr":
			d.readers = append(d.readers, qrcode.NewQRCodeReader())
		case "code128":
			d.readers = append(d.readers, oned.NewCode128Reader())
		case "code39":
			d.readers = append(d.readers, oned.NewCode39Reader())
		case "ean13":
			d.readers = append(d.readers, oned.NewEAN13Reader())
		case "ean8":
			d.readers = append(d.readers, oned.NewEAN8Reader())
		case "upca":
			d.readers = append(d.readers, oned.NewUPCAReader())
		case "itf":
			d.readers = append(d.readers, oned.NewITFReader())
		default:
			return nil, fmt.Errorf("unsupported code format %q", f)
		}
	}
	return d, nil
}

// Decode returns the text of the first code any reader finds, or ErrNoCode
func (d *ZXingDecoder) Decode(img image.Image) (string, error) {
	if img == nil {
		return "", ErrNoCode
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}

	for _, reader := range d.readers {
		result, err := reader.Decode(bmp, d.hints)
		if err == nil && result != nil {
			return result.GetText(), nil
		}
	}
	return "", ErrNoCode
}
