package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/South-Winder12138/mineru-service/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		path     string
		wantType model.DocumentType
		route    Route
	}{
		{"report.pdf", model.DocPDF, RouteDirect},
		{"scan.PNG", model.DocImage, RouteDirect},
		{"photo.jpeg", model.DocImage, RouteDirect},
		{"photo.JPG", model.DocImage, RouteDirect},
		{"fax.tiff", model.DocImage, RouteDirect},
		{"legacy.bmp", model.DocImage, RouteDirect},
		{"contract.Docx", model.DocDOCX, RouteConvertFirst},
		{"old.doc", model.DocDOC, RouteConvertFirst},
		{"notes.txt", model.DocTXT, RouteConvertFirst},
		{"README.md", model.DocTXT, RouteConvertFirst},
		{"feed.XML", model.DocXML, RouteConvertFirst},
		{"/abs/path/with.dots/file.pdf", model.DocPDF, RouteDirect},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			f, err := Classify(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, f.Type)
			assert.Equal(t, tt.route, f.Route)
		})
	}
}

func TestClassifyUnsupported(t *testing.T) {
	for _, path := range []string{"archive.zip", "sheet.xlsx", "noext", "image.gif"} {
		t.Run(path, func(t *testing.T) {
			_, err := Classify(path)
			assert.ErrorIs(t, err, ErrUnsupportedFormat)
		})
	}
}

func TestSupportedFormats(t *testing.T) {
	formats := SupportedFormats()
	assert.Len(t, formats, 11)
	assert.IsIncreasing(t, formats)
	assert.Contains(t, formats, ".md")
	assert.Contains(t, formats, ".tiff")
}

func TestRouteString(t *testing.T) {
	assert.Equal(t, "direct", RouteDirect.String())
	assert.Equal(t, "convert_first", RouteConvertFirst.String())
}
