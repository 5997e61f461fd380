// Package scan reads pairing QR codes from a camera on the device side.
package scan

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/server/pairing"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// ErrNoCode is returned by a Decoder when the frame holds no QR code.
var ErrNoCode = errors.New("no QR code in frame")

// Camera yields frames until closed.
type Camera interface {
	Frame(ctx context.Context) (image.Image, error)
	Close() error
}

type Decoder interface {
	Decode(img image.Image) (string, error)
}

// Scan grabs a frame every interval until one decodes into a valid pairing
// payload or ctx ends. Frames without a code, or with a code that is not a
// pairing payload, are skipped. The camera is closed on every return path.
func Scan(ctx context.Context, cam Camera, dec Decoder, interval time.Duration) (p *pairing.Payload, err error) {
	defer func() {
		if cerr := cam.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		frame, err := cam.Frame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if text, err := dec.Decode(frame); err == nil {
			if payload, err := pairing.ParsePayload(text); err == nil {
				return payload, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// QRDecoder decodes QR codes with gozxing.
type QRDecoder struct {
	reader gozxing.Reader
}

func NewQRDecoder() *QRDecoder {
	return &QRDecoder{reader: qrcode.NewQRCodeReader()}
}

func (d *QRDecoder) Decode(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", err
	}
	hints := map[gozxing.DecodeHintType]interface{}{gozxing.DecodeHintType_TRY_HARDER: true}
	res, err := d.reader.Decode(bmp, hints)
	if err != nil {
		return "", ErrNoCode
	}
	return res.GetText(), nil
}
