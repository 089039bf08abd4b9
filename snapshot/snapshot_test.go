package snapshot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jersey-dashboard/utils"
)

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"out/dashboard.png", FormatPNG, false},
		{"DASHBOARD.PDF", FormatPDF, false},
		{"dashboard.jpg", "", true},
		{"dashboard", "", true},
	}
	for _, tt := range tests {
		got, err := FormatFor(tt.path)
		if tt.wantErr {
			assert.Error(t, err, tt.path)
			continue
		}
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got)
	}
}

func TestFindChromeBinaryPrefersEnv(t *testing.T) {
	t.Setenv("CHROME_BIN", "/opt/custom/chrome")
	assert.Equal(t, "/opt/custom/chrome", findChromeBinary())
}

func TestCaptureRejectsUnknownFormat(t *testing.T) {
	c := New("", time.Second, 1, utils.NewDiscardLogger())
	err := c.Capture(context.Background(), "http://127.0.0.1:1/", filepath.Join(t.TempDir(), "x.gif"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output")
}
