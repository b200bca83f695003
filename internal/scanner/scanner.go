// Package scanner decodes medicine barcodes from uploaded images
package scanner

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"go.uber.org/zap"
)

var (
	ErrNoBarcode  = apperrors.New("SCAN_001", "no barcode found in image")
	ErrTooLarge   = apperrors.New("SCAN_002", "image is too large")
	ErrNotAnImage = apperrors.New("SCAN_003", "file is not a JPEG, PNG or GIF image")
)

// Result is one decoded barcode
type Result struct {
	Text   string `json:"data"`
	Format string `json:"type"`
}

type reader struct {
	format string
	r      gozxing.Reader
}

// Scanner tries each supported symbology in turn
type Scanner struct {
	maxBytes int64
	readers  []reader
	hints    map[gozxing.DecodeHintType]interface{}
	logger   *zap.Logger
}

// New creates a scanner accepting uploads up to maxUploadMB
func New(maxUploadMB int, logger *zap.Logger) *Scanner {
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	return &Scanner{
		maxBytes: int64(maxUploadMB) << 20,
		readers: []reader{
			{"EAN_13", oned.NewEAN13Reader()},
			{"EAN_8", oned.NewEAN8Reader()},
			{"UPC_A", oned.NewUPCAReader()},
			{"UPC_E", oned.NewUPCEReader()},
			{"CODE_128", oned.NewCode128Reader()},
			{"CODE_39", oned.NewCode39Reader()},
			{"QR_CODE", qrcode.NewQRCodeReader()},
			{"DATA_MATRIX", datamatrix.NewDataMatrixReader()},
		},
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
		logger: logger,
	}
}

// MaxBytes is the upload limit
func (s *Scanner) MaxBytes() int64 {
	return s.maxBytes
}

// Decode reads an image and returns the first barcode found in it
func (s *Scanner) Decode(r io.Reader) (*Result, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrTooLarge
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.WithCause(ErrNotAnImage, err)
	}
	s.logger.Debug("Scanning image",
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()),
	)
	return s.DecodeImage(img)
}

// DecodeImage scans an already decoded image
func (s *Scanner) DecodeImage(img image.Image) (*Result, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, apperrors.WithCause(ErrNotAnImage, err)
	}

	for _, rd := range s.readers {
		res, err := rd.r.Decode(bmp, s.hints)
		if err != nil {
			continue
		}
		s.logger.Debug("Barcode decoded", zap.String("reader", rd.format))
		return &Result{Text: res.GetText(), Format: res.GetBarcodeFormat().String()}, nil
	}
	return nil, ErrNoBarcode
}
