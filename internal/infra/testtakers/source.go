package testtakers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
	"github.com/iqb-berlin/testcenter/internal/core/port"
)

// workspaceDirPrefix names per-workspace directories, e.g. ws_1.
const workspaceDirPrefix = "ws_"

// FileSource loads group definitions from testtakers XML files under a data
// directory laid out as <dataDir>/ws_<id>/Testtakers/*.xml. The load order
// is stable: workspaces by id, files by name, groups in document order. The
// credential matcher's first-match rule depends on that order.
type FileSource struct {
	dataDir string
	logger  *zap.Logger

	mu     sync.RWMutex
	cached []domain.GroupDefinition
	loaded bool
}

// NewFileSource constructs a FileSource over the given data directory.
func NewFileSource(dataDir string, logger *zap.Logger) *FileSource {
	return &FileSource{
		dataDir: dataDir,
		logger:  logger,
	}
}

// Groups returns the loaded group definitions, loading them on first use.
func (s *FileSource) Groups(ctx context.Context) ([]domain.GroupDefinition, error) {
	s.mu.RLock()
	if s.loaded {
		defer s.mu.RUnlock()
		return s.cached, nil
	}
	s.mu.RUnlock()

	return s.Reload(ctx)
}

// Reload re-reads all testtakers files from disk. Called on startup and
// whenever workspace files change.
func (s *FileSource) Reload(_ context.Context) ([]domain.GroupDefinition, error) {
	groups, issues, err := s.loadAll()
	if err != nil {
		return nil, err
	}

	for _, issue := range issues {
		if issue.Fatal {
			s.logger.Warn("testtakers group skipped", zap.String("issue", issue.String()))
		} else {
			s.logger.Warn("testtakers validation issue", zap.String("issue", issue.String()))
		}
	}
	s.warnDuplicateLogins(groups)

	s.mu.Lock()
	s.cached = groups
	s.loaded = true
	s.mu.Unlock()

	return groups, nil
}

func (s *FileSource) loadAll() ([]domain.GroupDefinition, []ValidationIssue, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read data dir: %w", err)
	}

	type workspaceDir struct {
		id   int
		path string
	}
	var workspaces []workspaceDir
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), workspaceDirPrefix) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimPrefix(entry.Name(), workspaceDirPrefix))
		if err != nil {
			continue
		}
		workspaces = append(workspaces, workspaceDir{id: id, path: filepath.Join(s.dataDir, entry.Name())})
	}
	sort.Slice(workspaces, func(i, j int) bool { return workspaces[i].id < workspaces[j].id })

	var groups []domain.GroupDefinition
	var issues []ValidationIssue
	for _, workspace := range workspaces {
		files, err := filepath.Glob(filepath.Join(workspace.path, "Testtakers", "*.xml"))
		if err != nil {
			return nil, nil, fmt.Errorf("glob testtakers files: %w", err)
		}
		sort.Strings(files)

		for _, file := range files {
			data, err := os.ReadFile(file)
			if err != nil {
				return nil, nil, fmt.Errorf("read testtakers file %s: %w", file, err)
			}

			fileGroups, fileIssues, err := Parse(data, filepath.Base(file), workspace.id)
			if err != nil {
				issues = append(issues, ValidationIssue{
					File: filepath.Base(file), Message: err.Error(), Fatal: true,
				})
				continue
			}
			groups = append(groups, fileGroups...)
			issues = append(issues, fileIssues...)
		}
	}

	return groups, issues, nil
}

// warnDuplicateLogins flags login names appearing in more than one group.
// The earlier-loaded group wins at match time; the duplicate stays dormant.
func (s *FileSource) warnDuplicateLogins(groups []domain.GroupDefinition) {
	seen := map[string]string{}
	for _, group := range groups {
		for _, login := range group.Logins {
			if firstGroup, ok := seen[login.Name]; ok {
				s.logger.Warn("duplicate login name, earlier group wins",
					zap.String("login", login.Name),
					zap.String("active_group", firstGroup),
					zap.String("shadowed_group", group.Name),
				)
				continue
			}
			seen[login.Name] = group.Name
		}
	}
}

var _ port.CredentialSource = (*FileSource)(nil)
