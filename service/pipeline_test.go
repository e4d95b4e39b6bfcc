package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/South-Winder12138/mineru-service/config"
	"github.com/South-Winder12138/mineru-service/model"
)

// stubRecognizer records its inputs and returns a canned outcome
type stubRecognizer struct {
	mu     sync.Mutex
	inputs []string
	result *model.ExtractionResult
	err    error
}

func (s *stubRecognizer) Recognize(ctx context.Context, inputPath string, opts model.ProcessOptions, imageDir string) (*model.ExtractionResult, error) {
	s.mu.Lock()
	s.inputs = append(s.inputs, inputPath)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.result.Clone(), nil
}

func newTestPipeline(t *testing.T, rec Recognizer) *Pipeline {
	t.Helper()
	convs := NewConverters(&config.OfficeConfig{Binary: missingBinary(t), Timeout: time.Second}, nil)
	return NewPipeline(convs, rec, t.TempDir())
}

func absentMineru(t *testing.T) *MineruService {
	return newTestMineru(t, missingBinary(t), time.Second)
}

var pageMarker = regexp.MustCompile(`--- Page \d+ ---`)

func nonSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func TestPipelinePDFWithoutRecognizer(t *testing.T) {
	path := samplePDF(t, t.TempDir(), "report.pdf", "Quarterly figures are attached.")
	p := newTestPipeline(t, absentMineru(t))

	result, err := p.Process(context.Background(), model.Task{ID: "t1", FilePath: path, Options: model.DefaultProcessOptions()})
	require.NoError(t, err)

	assert.Equal(t, model.ProvenanceFallbackText, result.Provenance)
	assert.NotEmpty(t, strings.TrimSpace(result.TextContent))
	assert.Empty(t, result.Images)
	assert.Empty(t, result.Tables)
	assert.Contains(t, result.Metadata["fallback_reason"], "mineru is unavailable")
}

func TestPipelinePNGWithoutRecognizer(t *testing.T) {
	path := samplePNG(t, t.TempDir(), 8, 8)
	p := newTestPipeline(t, absentMineru(t))

	result, err := p.Process(context.Background(), model.Task{ID: "t1", FilePath: path, Options: model.DefaultProcessOptions()})
	require.NoError(t, err)

	assert.Equal(t, model.ProvenanceFallbackFailed, result.Provenance)
	assert.Empty(t, result.TextContent)
	require.Len(t, result.Images, 1)
	assert.Equal(t, model.ImageOriginal, result.Images[0].Type)
	assert.Equal(t, true, result.Metadata["recognizer_unavailable"])
}

func TestPipelineTextRoundTrip(t *testing.T) {
	input := "Meeting notes\nAll action items were assigned.\nBudget: 1,250 EUR (approved)"
	path := writeFile(t, t.TempDir(), "notes.txt", input)
	p := newTestPipeline(t, absentMineru(t))

	result, err := p.Process(context.Background(), model.Task{ID: "t1", FilePath: path, Options: model.DefaultProcessOptions()})
	require.NoError(t, err)

	text := pageMarker.ReplaceAllString(result.TextContent, "")
	assert.Equal(t, nonSpace(input), nonSpace(text))
	assert.Equal(t, ".txt", result.Metadata["original_format"])
	assert.Equal(t, "pdf", result.Metadata["converted_to"])
	assert.Equal(t, MethodTextLayout, result.Metadata["conversion_method"])
}

const cjkReport = "项目报告\n本季度收入增长百分之十。"

func TestPipelineCJKRoundTrip(t *testing.T) {
	font := cjkFont(t)

	tests := []struct {
		name string
		data string
	}{
		{"utf-8", cjkReport},
		{"gbk", gbk(t, cjkReport)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "report.txt", tt.data)
			convs := NewConverters(&config.OfficeConfig{Binary: missingBinary(t), Timeout: time.Second}, &config.LayoutConfig{FontPath: font})
			p := NewPipeline(convs, absentMineru(t), t.TempDir())

			result, err := p.Process(context.Background(), model.Task{ID: "t1", FilePath: path, Options: model.DefaultProcessOptions()})
			require.NoError(t, err)

			text := pageMarker.ReplaceAllString(result.TextContent, "")
			assert.Equal(t, nonSpace(cjkReport), nonSpace(text))
			assert.NotContains(t, result.Metadata, "dropped_characters")
		})
	}
}

func TestPipelineCJKWithoutFontRecordsDroppedCharacters(t *testing.T) {
	path := writeFile(t, t.TempDir(), "report.txt", gbk(t, cjkReport))
	p := newTestPipeline(t, absentMineru(t))

	result, err := p.Process(context.Background(), model.Task{ID: "t1", FilePath: path, Options: model.DefaultProcessOptions()})
	require.NoError(t, err)

	assert.Equal(t, model.ProvenanceFallbackText, result.Provenance)
	assert.Equal(t, 16, result.Metadata["dropped_characters"])
}

func gbk(t *testing.T, s string) string {
	t.Helper()
	encoded, err := simplifiedchinese.GBK.NewEncoder().String(s)
	require.NoError(t, err)
	return encoded
}

func TestPipelineConvertedDocumentViaMineru(t *testing.T) {
	rec := &stubRecognizer{result: &model.ExtractionResult{
		TextContent: "ok",
		Provenance:  model.ProvenanceMineru,
		Metadata:    map[string]any{"processor": "MinerU"},
	}}
	path := writeFile(t, t.TempDir(), "data.xml", "<root><item>1</item></root>")
	p := newTestPipeline(t, rec)

	result, err := p.Process(context.Background(), model.Task{ID: "t1", FilePath: path, Options: model.DefaultProcessOptions()})
	require.NoError(t, err)

	assert.Equal(t, model.ProvenanceMineruConverted, result.Provenance)
	assert.Equal(t, "MinerU (via conversion)", result.Metadata["processor"])
	assert.Equal(t, MethodXMLLayout, result.Metadata["conversion_method"])

	require.Len(t, rec.inputs, 1)
	assert.True(t, strings.HasSuffix(rec.inputs[0], "data.pdf"))
	assert.NoFileExists(t, rec.inputs[0], "intermediate pdf must be removed")
}

func TestPipelineDirectDocumentViaMineru(t *testing.T) {
	rec := &stubRecognizer{result: &model.ExtractionResult{Provenance: model.ProvenanceMineru}}
	p := newTestPipeline(t, rec)

	result, err := p.Process(context.Background(), model.Task{ID: "t1", FilePath: "/uploads/scan.pdf"})
	require.NoError(t, err)
	assert.Equal(t, model.ProvenanceMineru, result.Provenance)
	assert.Equal(t, []string{"/uploads/scan.pdf"}, rec.inputs)
}

func TestPipelineConversionFailure(t *testing.T) {
	rec := &stubRecognizer{result: &model.ExtractionResult{}}
	path := writeFile(t, t.TempDir(), "legacy.doc", "old binary format")
	p := newTestPipeline(t, rec)

	_, err := p.Process(context.Background(), model.Task{ID: "t1", FilePath: path})
	assert.ErrorIs(t, err, ErrConversionFailed)
	assert.Empty(t, rec.inputs)
}

func TestPipelineFallbackFailureJoinsErrors(t *testing.T) {
	rec := &stubRecognizer{err: &RecognitionError{Err: errors.New("exit status 2")}}
	path := writeFile(t, t.TempDir(), "broken.pdf", "garbage")
	p := newTestPipeline(t, rec)

	_, err := p.Process(context.Background(), model.Task{ID: "t1", FilePath: path})
	assert.ErrorIs(t, err, ErrRecognitionFailed)
	assert.ErrorIs(t, err, ErrFallbackUnavailable)
}

func TestPipelineUnsupportedFormat(t *testing.T) {
	p := newTestPipeline(t, &stubRecognizer{})
	_, err := p.Process(context.Background(), model.Task{ID: "t1", FilePath: "a.zip"})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
