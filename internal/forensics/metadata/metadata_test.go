package metadata

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type asciiTag struct {
	id    uint16
	value string
}

const (
	tagSoftware         = 0x0131
	tagDateTime         = 0x0132
	tagExifPointer      = 0x8769
	tagDateTimeOriginal = 0x9003
)

// buildTIFF writes a little-endian TIFF block with ASCII tags in IFD0 and in the EXIF
// sub-IFD. Tags must be given in ascending order.
func buildTIFF(ifd0, sub []asciiTag) []byte {
	le := binary.LittleEndian
	ifd0Count := len(ifd0) + 1
	subOffset := 8 + 2 + 12*ifd0Count + 4
	dataOffset := subOffset + 2 + 12*len(sub) + 4

	var data []byte
	writeEntry := func(out []byte, t asciiTag) []byte {
		val := append([]byte(t.value), 0)
		e := make([]byte, 12)
		le.PutUint16(e[0:], t.id)
		le.PutUint16(e[2:], 2)
		le.PutUint32(e[4:], uint32(len(val)))
		if len(val) <= 4 {
			copy(e[8:], val)
		} else {
			le.PutUint32(e[8:], uint32(dataOffset+len(data)))
			data = append(data, val...)
		}
		return append(out, e...)
	}

	out := []byte{'I', 'I', 0x2a, 0x00, 0x08, 0x00, 0x00, 0x00}
	out = le.AppendUint16(out, uint16(ifd0Count))
	for _, t := range ifd0 {
		out = writeEntry(out, t)
	}
	ptr := make([]byte, 12)
	le.PutUint16(ptr[0:], tagExifPointer)
	le.PutUint16(ptr[2:], 4)
	le.PutUint32(ptr[4:], 1)
	le.PutUint32(ptr[8:], uint32(subOffset))
	out = append(out, ptr...)
	out = le.AppendUint32(out, 0)

	out = le.AppendUint16(out, uint16(len(sub)))
	for _, t := range sub {
		out = writeEntry(out, t)
	}
	out = le.AppendUint32(out, 0)
	return append(out, data...)
}

func plainJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = 100
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// jpegWithEXIF splices an APP1 segment directly after the SOI marker.
func jpegWithEXIF(t *testing.T, tiffBlock []byte) []byte {
	t.Helper()
	base := plainJPEG(t)
	payload := append([]byte("Exif\x00\x00"), tiffBlock...)
	segment := []byte{0xff, 0xe1}
	segment = binary.BigEndian.AppendUint16(segment, uint16(len(payload)+2))
	segment = append(segment, payload...)

	out := append([]byte{}, base[:2]...)
	out = append(out, segment...)
	return append(out, base[2:]...)
}

func TestEditedImageScoresLow(t *testing.T) {
	data := jpegWithEXIF(t, buildTIFF(
		[]asciiTag{{tagSoftware, "Adobe Photoshop 25.0"}, {tagDateTime, "2024:03:01 12:00:00"}},
		[]asciiTag{{tagDateTimeOriginal, "2024:03:01 10:00:00"}},
	))

	report := New(zap.NewNop()).Analyze(data)
	require.True(t, report.HasEXIF)
	require.Equal(t, "Adobe Photoshop 25.0", report.Software)
	require.Equal(t, 1.0, report.MIME)
	require.Equal(t, 0.0, report.SoftwareTool)
	require.Equal(t, 0.0, report.Timestamp)
	require.GreaterOrEqual(t, report.TagCount, 3)
	require.Less(t, report.Score, 0.5)
}

func TestConsistentCameraImageScoresHigh(t *testing.T) {
	data := jpegWithEXIF(t, buildTIFF(
		[]asciiTag{{tagSoftware, "Camera Firmware 1.02"}, {tagDateTime, "2024:03:01 10:00:05"}},
		[]asciiTag{{tagDateTimeOriginal, "2024:03:01 10:00:00"}},
	))

	report := New(nil).Analyze(data)
	require.Equal(t, 1.0, report.SoftwareTool)
	require.Equal(t, 1.0, report.Timestamp)
	require.Greater(t, report.Score, 0.8)
}

func TestMalformedTimestampGetsPartialCredit(t *testing.T) {
	data := jpegWithEXIF(t, buildTIFF(
		[]asciiTag{{tagDateTime, "yesterday-ish"}},
		[]asciiTag{{tagDateTimeOriginal, "2024:03:01 10:00:00"}},
	))

	report := New(nil).Analyze(data)
	require.Equal(t, UnparsableTimestampScore, report.Timestamp)
}

func TestMissingEXIFHalvesMIMEScore(t *testing.T) {
	analyzer := New(nil)
	require.Equal(t, 0.5, analyzer.Score(plainJPEG(t)))

	var buf bytes.Buffer
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.NRGBA{R: 10, A: 255})
	require.NoError(t, png.Encode(&buf, img))
	require.Equal(t, 0.5, analyzer.Score(buf.Bytes()))

	report := analyzer.Analyze([]byte("plain text is not an image"))
	require.Equal(t, 0.0, report.MIME)
	require.Equal(t, 0.0, report.Score)
}

func TestTimestampScore(t *testing.T) {
	tests := []struct {
		name     string
		capture  string
		modified string
		both     bool
		want     float64
	}{
		{"absent", "", "", false, 1},
		{"within tolerance", "2024:01:01 00:00:00", "2024:01:01 00:00:10", true, 1},
		{"half hour", "2024:01:01 00:00:00", "2024:01:01 00:30:00", true, 0.5},
		{"reversed order", "2024:01:01 00:30:00", "2024:01:01 00:00:00", true, 0.5},
		{"beyond horizon", "2024:01:01 00:00:00", "2024:01:02 00:00:00", true, 0},
		{"unparsable", "2024-01-01T00:00:00Z", "2024:01:01 00:00:00", true, UnparsableTimestampScore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, timestampScore(tt.capture, tt.modified, tt.both), 1e-9)
		})
	}
}

func TestEditedWith(t *testing.T) {
	require.True(t, editedWith("GIMP 2.10"))
	require.True(t, editedWith("made with remove.bg"))
	require.False(t, editedWith("Pixel 8 HDR+"))
	require.False(t, editedWith(""))
}
