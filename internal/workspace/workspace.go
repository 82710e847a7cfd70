// Package workspace owns the directory lifecycle for a run: a staging
// directory for page images and raw artifacts, and the final output
// directory. Pre-existing directories are renamed aside, never deleted, so
// no run can destroy a previous run's results.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/form-extractor/internal/domain"
	"github.com/spherical/form-extractor/internal/observability"
)

const (
	stagingSuffix = "_staging"
	outputSuffix  = "_final_folders"

	dirPerm = 0755
)

// Workspace holds the directories of one run.
type Workspace struct {
	StagingDir string
	OutputDir  string

	// RenamedPrevious is where a colliding output directory was moved, empty
	// when there was no collision.
	RenamedPrevious string

	// Resumed is true when an existing staging directory was kept so pages
	// with artifacts can be skipped.
	Resumed bool
}

// Manager creates and tears down run workspaces.
type Manager struct {
	workDir string
	resume  bool
	logger  *observability.Logger
}

// NewManager creates a workspace manager rooted at workDir. With resume set,
// an existing staging directory is reused instead of renamed aside.
func NewManager(workDir string, resume bool, logger *observability.Logger) *Manager {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Manager{
		workDir: workDir,
		resume:  resume,
		logger:  logger.WithComponent("workspace"),
	}
}

// Prepare creates the staging and output directories for a document. A
// pre-existing output directory is renamed with a non-colliding suffix
// before the fresh one is created; the collision is logged, never surfaced
// as an error. Calling Prepare twice in sequence therefore never loses the
// first call's output.
func (m *Manager) Prepare(baseName string) (*Workspace, error) {
	if strings.TrimSpace(baseName) == "" {
		return nil, domain.WorkspaceError("document base name cannot be empty", nil)
	}

	if err := os.MkdirAll(m.workDir, dirPerm); err != nil {
		return nil, domain.WorkspaceError(fmt.Sprintf("cannot create work root: %s", m.workDir), err)
	}

	ws := &Workspace{
		StagingDir: filepath.Join(m.workDir, baseName+stagingSuffix),
		OutputDir:  filepath.Join(m.workDir, baseName+outputSuffix),
	}

	if dirExists(ws.OutputDir) {
		renamed, err := renameAside(ws.OutputDir)
		if err != nil {
			return nil, domain.WorkspaceError(fmt.Sprintf("cannot move existing output directory: %s", ws.OutputDir), err)
		}
		ws.RenamedPrevious = renamed
		m.logger.Warn().Str("dir", ws.OutputDir).Str("renamed_to", renamed).
			Msg("output directory already existed, renamed previous run aside")
	}

	if dirExists(ws.StagingDir) {
		if m.resume {
			ws.Resumed = true
			m.logger.Info().Str("dir", ws.StagingDir).Msg("reusing staging directory for resume")
		} else {
			renamed, err := renameAside(ws.StagingDir)
			if err != nil {
				return nil, domain.WorkspaceError(fmt.Sprintf("cannot move existing staging directory: %s", ws.StagingDir), err)
			}
			m.logger.Warn().Str("dir", ws.StagingDir).Str("renamed_to", renamed).
				Msg("staging directory already existed, renamed previous run aside")
		}
	}

	if err := os.MkdirAll(ws.StagingDir, dirPerm); err != nil {
		return nil, domain.WorkspaceError(fmt.Sprintf("cannot create staging directory: %s", ws.StagingDir), err)
	}
	if err := os.MkdirAll(ws.OutputDir, dirPerm); err != nil {
		return nil, domain.WorkspaceError(fmt.Sprintf("cannot create output directory: %s", ws.OutputDir), err)
	}

	m.logger.Debug().Str("staging", ws.StagingDir).Str("output", ws.OutputDir).Msg("workspace prepared")
	return ws, nil
}

// Teardown removes the staging directory unless keep is set, in which case
// it is a no-op. Only paths created by Prepare are accepted.
func (m *Manager) Teardown(stagingDir string, keep bool) error {
	if keep {
		m.logger.Debug().Str("dir", stagingDir).Msg("keeping staging directory")
		return nil
	}

	if !strings.HasSuffix(stagingDir, stagingSuffix) {
		return domain.WorkspaceError(fmt.Sprintf("refusing to remove non-staging path: %s", stagingDir), nil)
	}

	if err := os.RemoveAll(stagingDir); err != nil {
		return domain.WorkspaceError(fmt.Sprintf("cannot remove staging directory: %s", stagingDir), err)
	}

	m.logger.Info().Str("dir", stagingDir).Msg("staging directory removed")
	return nil
}

// renameAside moves path to the first free "<path>_prev[N]" name and
// returns the new location.
func renameAside(path string) (string, error) {
	for i := 1; i < 1000; i++ {
		candidate := path + "_prev"
		if i > 1 {
			candidate = fmt.Sprintf("%s_prev%d", path, i)
		}
		if dirExists(candidate) {
			continue
		}
		if err := os.Rename(path, candidate); err != nil {
			return "", err
		}
		return candidate, nil
	}
	return "", fmt.Errorf("no free rename target for %s", path)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
