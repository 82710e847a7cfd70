package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/form-extractor/internal/domain"
)

func TestRasterize_UnreadableDocumentAborts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf at all"), 0644))

	r := NewRasterizer(Options{JPEGQuality: 85}, nil)
	_, err := r.Rasterize(context.Background(), domain.NewDocument(path), dir)
	require.Error(t, err)

	var de *domain.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.ErrorTypeDocument, de.Type)
}

// Requires a real multi-page fixture; page-count and ordering assertions run
// only when one is present.
func TestRasterize_OnePagePerImageInOrder(t *testing.T) {
	fixture := filepath.Join("testdata", "sample.pdf")
	if _, err := os.Stat(fixture); os.IsNotExist(err) {
		t.Skipf("fixture not found at %s", fixture)
	}

	staging := t.TempDir()
	r := NewRasterizer(Options{JPEGQuality: 85, MaxWidth: 1024}, nil)

	pages, err := r.Rasterize(context.Background(), domain.NewDocument(fixture), staging)
	require.NoError(t, err)
	require.NotEmpty(t, pages)

	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	assert.Len(t, entries, len(pages), "exactly one image per page")

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.True(t, sort.StringsAreSorted(names), "directory listing must reproduce page order")

	for i, p := range pages {
		assert.Equal(t, i+1, p.Index, "1-based contiguous indexes")
		assert.Equal(t, fmt.Sprintf("page_%03d.jpg", i+1), filepath.Base(p.ImagePath))
		assert.Equal(t, domain.StatusPending, p.Status)

		info, err := os.Stat(p.ImagePath)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}

func TestRasterize_CancelledContext(t *testing.T) {
	fixture := filepath.Join("testdata", "sample.pdf")
	if _, err := os.Stat(fixture); os.IsNotExist(err) {
		t.Skipf("fixture not found at %s", fixture)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRasterizer(Options{JPEGQuality: 85}, nil)
	_, err := r.Rasterize(ctx, domain.NewDocument(fixture), t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRasterizer_ClampsBadQuality(t *testing.T) {
	r := NewRasterizer(Options{JPEGQuality: 0}, nil)
	assert.Equal(t, 85, r.quality)

	r = NewRasterizer(Options{JPEGQuality: 101}, nil)
	assert.Equal(t, 85, r.quality)

	r = NewRasterizer(Options{JPEGQuality: 60}, nil)
	assert.Equal(t, 60, r.quality)
}
