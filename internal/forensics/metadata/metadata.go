// Package metadata scores the consistency of an image's container type and EXIF block.
package metadata

import (
	"bytes"
	"math"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/example/authdoc/internal/verification"
)

// Sub-score weights.
const (
	MIMEWeight         = 0.25
	SoftwareWeight     = 0.35
	TimestampWeight    = 0.20
	CompletenessWeight = 0.20
)

const (
	// ExpectedTagCount is the tag count at which the completeness sub-score saturates.
	ExpectedTagCount = 30
	// TimestampTolerance is the capture/modify gap that still counts as consistent.
	TimestampTolerance = 10 * time.Second
	// TimestampHorizon is the gap at which the timestamp sub-score reaches zero.
	TimestampHorizon = time.Hour
	// UnparsableTimestampScore is awarded when a timestamp is present but malformed.
	UnparsableTimestampScore = 0.8
	// MissingMetadataFactor scales the MIME sub-score when there is no EXIF block.
	MissingMetadataFactor = 0.5

	exifTimeLayout = "2006:01:02 15:04:05"
)

// EditingSoftware lists substrings of the Software tag that indicate an editing tool.
var EditingSoftware = []string{
	"photoshop", "gimp", "pixlr", "picsart", "canva", "snapseed",
	"lightroom", "paint", "adobe", "remini", "remove.bg", "beautify",
}

var acceptedMIMETypes = []string{"image/jpeg", "image/png"}

// Report holds the sub-scores of one analysis.
type Report struct {
	MIMEType     string
	HasEXIF      bool
	Software     string
	TagCount     int
	MIME         float64
	SoftwareTool float64
	Timestamp    float64
	Completeness float64
	Score        float64
}

// Analyzer runs the metadata check.
type Analyzer struct {
	logger *zap.Logger
}

// New returns an Analyzer that logs through logger.
func New(logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{logger: logger.Named("metadata")}
}

// Score returns the metadata consistency score of data.
func (a *Analyzer) Score(data []byte) float64 {
	return a.Analyze(data).Score
}

// Analyze never fails: malformed or missing metadata lowers the score instead.
func (a *Analyzer) Analyze(data []byte) Report {
	mime := mimetype.Detect(data)
	report := Report{MIMEType: mime.String()}
	if lo.ContainsBy(acceptedMIMETypes, func(m string) bool { return mime.Is(m) }) {
		report.MIME = 1
	}

	tags, ok := a.readEXIF(data)
	if !ok || len(tags) == 0 {
		report.Score = verification.Round3(MissingMetadataFactor * report.MIME)
		return report
	}
	report.HasEXIF = true
	report.TagCount = len(tags)

	report.Software = tags.text(exif.Software)
	report.SoftwareTool = 1
	if editedWith(report.Software) {
		report.SoftwareTool = 0
	}

	capture, captured := tags.first(exif.DateTimeOriginal, exif.DateTimeDigitized)
	modified, wasModified := tags.first(exif.DateTime)
	report.Timestamp = timestampScore(capture, modified, captured && wasModified)

	report.Completeness = math.Min(float64(report.TagCount)/ExpectedTagCount, 1)

	report.Score = verification.Round3(verification.Clamp(
		MIMEWeight*report.MIME +
			SoftwareWeight*report.SoftwareTool +
			TimestampWeight*report.Timestamp +
			CompletenessWeight*report.Completeness,
	))
	a.logger.Debug("metadata analysis complete",
		zap.String("mime", report.MIMEType),
		zap.String("software", report.Software),
		zap.Int("tags", report.TagCount),
		zap.Float64("score", report.Score),
	)
	return report
}

type tagSet map[exif.FieldName]*tiff.Tag

func (t tagSet) text(name exif.FieldName) string {
	tag, ok := t[name]
	if !ok {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return strings.TrimSpace(tag.String())
	}
	return strings.TrimRight(s, "\x00 ")
}

func (t tagSet) first(names ...exif.FieldName) (string, bool) {
	for _, name := range names {
		if v := t.text(name); v != "" {
			return v, true
		}
	}
	return "", false
}

// Walk implements exif.Walker.
func (t tagSet) Walk(name exif.FieldName, tag *tiff.Tag) error {
	t[name] = tag
	return nil
}

func (a *Analyzer) readEXIF(data []byte) (tagSet, bool) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil && (x == nil || exif.IsCriticalError(err)) {
		a.logger.Debug("no usable exif block", zap.Error(err))
		return nil, false
	}
	tags := tagSet{}
	if err := x.Walk(tags); err != nil {
		return nil, false
	}
	return tags, true
}

func editedWith(software string) bool {
	software = strings.ToLower(software)
	if software == "" {
		return false
	}
	return lo.ContainsBy(EditingSoftware, func(tool string) bool {
		return strings.Contains(software, tool)
	})
}

func timestampScore(capture, modified string, both bool) float64 {
	if !both {
		return 1
	}
	t1, err1 := time.Parse(exifTimeLayout, capture)
	t2, err2 := time.Parse(exifTimeLayout, modified)
	if err1 != nil || err2 != nil {
		return UnparsableTimestampScore
	}
	diff := t2.Sub(t1)
	if diff < 0 {
		diff = -diff
	}
	if diff <= TimestampTolerance {
		return 1
	}
	return math.Max(0, 1-math.Min(diff.Seconds()/TimestampHorizon.Seconds(), 1))
}
