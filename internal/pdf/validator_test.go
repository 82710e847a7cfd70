package pdf

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/form-extractor/internal/domain"
)

func TestValidatePath(t *testing.T) {
	dir := t.TempDir()

	pdfPath := filepath.Join(dir, "form.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-1.4\n"), 0644))

	txtPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("hello"), 0644))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{
			name: "pdf file accepted",
			path: pdfPath,
		},
		{
			name:    "empty path rejected",
			path:    "   ",
			wantErr: true,
		},
		{
			name:    "missing file rejected",
			path:    filepath.Join(dir, "absent.pdf"),
			wantErr: true,
		},
		{
			name:    "directory rejected",
			path:    dir,
			wantErr: true,
		},
		{
			name:    "wrong extension rejected",
			path:    txtPath,
			wantErr: true,
		},
	}

	v := NewValidator(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidatePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)

				var de *domain.DomainError
				require.True(t, errors.As(err, &de))
				assert.Equal(t, domain.ErrorTypeValidation, de.Type)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_CorruptDocumentIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\nnot really a pdf"), 0644))

	v := NewValidator(nil)
	_, err := v.Validate(path)
	require.Error(t, err)

	var de *domain.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.ErrorTypeDocument, de.Type)
}

func TestValidate_RealDocument(t *testing.T) {
	fixture := filepath.Join("testdata", "sample.pdf")
	if _, err := os.Stat(fixture); os.IsNotExist(err) {
		t.Skipf("fixture not found at %s", fixture)
	}

	v := NewValidator(nil)
	count, err := v.Validate(fixture)
	require.NoError(t, err)
	assert.Greater(t, count, 0)
}
