package service

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeScript drops an executable shell script into a temp dir and returns its path
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-tool")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

// writeFile creates name under dir with content and returns its path
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// samplePDF lays lines out into a real PDF under dir
func samplePDF(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	w := NewPageWriter()
	for _, line := range lines {
		w.WriteLine(line)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, w.Save(path))
	return path
}

// missingBinary is a path that never resolves to an executable
func missingBinary(t *testing.T) string {
	return filepath.Join(t.TempDir(), "does-not-exist")
}

// cjkFont locates a TrueType font with CJK glyphs, from MINERU_SERVICE_TEST_FONT
// or a few well-known system locations. Collections (.ttc) and CFF fonts are not
// usable by the PDF writer.
func cjkFont(t *testing.T) string {
	t.Helper()
	candidates := []string{
		os.Getenv("MINERU_SERVICE_TEST_FONT"),
		"/usr/share/fonts/truetype/droid/DroidSansFallbackFull.ttf",
		"/usr/share/fonts/truetype/arphic-gkai00mp/gkai00mp.ttf",
		"/usr/share/fonts/truetype/arphic-bsmi00lp/bsmi00lp.ttf",
		"/usr/share/fonts/truetype/unifont/unifont.ttf",
		"/Library/Fonts/Arial Unicode.ttf",
		"/System/Library/Fonts/Supplemental/Arial Unicode.ttf",
	}
	for _, path := range candidates {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	t.Skip("no CJK TrueType font available; set MINERU_SERVICE_TEST_FONT")
	return ""
}
