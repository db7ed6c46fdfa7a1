package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/feichai0017/tender-ingest/pkg/logger"
)

// run is one folder walk that CancelProject can stop.
type run struct {
	cancel context.CancelFunc
}

func (s *Service) register(ctx context.Context, projectID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel}

	s.mu.Lock()
	if s.runs[projectID] == nil {
		s.runs[projectID] = make(map[*run]struct{})
	}
	s.runs[projectID][r] = struct{}{}
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		delete(s.runs[projectID], r)
		if len(s.runs[projectID]) == 0 {
			delete(s.runs, projectID)
		}
		s.mu.Unlock()
		cancel()
	}
}

// CancelProject stops scheduling for every running folder walk of the project
// and returns how many were signalled. Files already in flight still finish.
func (s *Service) CancelProject(projectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for r := range s.runs[projectID] {
		r.cancel()
		n++
	}
	if n > 0 {
		s.logger.Info("Cancelled project ingestion",
			logger.String("projectId", projectID),
			logger.Int("runs", n),
		)
	}
	return n
}

// IngestFolder walks root and ingests every regular, non-hidden file over a
// bounded pool. Only a failed walk is returned as an error; per-file failures
// are tagged outcomes.
func (s *Service) IngestFolder(ctx context.Context, req FolderRequest) (*BatchResult, error) {
	start := time.Now()
	log := logger.FromContext(ctx, s.logger).With(
		logger.String("projectId", req.ProjectID),
		logger.String("root", req.Root),
	)

	files, err := walk(req.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", req.Root, err)
	}

	result := &BatchResult{
		ProjectID: req.ProjectID,
		Total:     len(files),
		Outcomes:  make([]Outcome, len(files)),
		Workers:   s.poolSize(files),
	}
	if len(files) == 0 {
		return result, nil
	}

	runCtx, release := s.register(ctx, req.ProjectID)
	defer release()
	// 已调度的文件不受取消影响
	work := context.WithoutCancel(ctx)

	pool, err := ants.NewPool(result.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	log.Info("Starting folder ingestion",
		logger.Int("files", len(files)),
		logger.Int("workers", result.Workers),
	)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		finished int
	)
	report := func(i int, o Outcome) {
		result.Outcomes[i] = o
		mu.Lock()
		finished++
		n := finished
		mu.Unlock()
		if req.OnProgress != nil {
			req.OnProgress(n, len(files), o.Path, o.Status)
		}
	}

	for i, f := range files {
		if runCtx.Err() != nil {
			for j := i; j < len(files); j++ {
				report(j, Outcome{Path: files[j].rel, Status: OutcomeCancelled})
			}
			break
		}

		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if runCtx.Err() != nil {
				report(i, Outcome{Path: f.rel, Status: OutcomeCancelled})
				return
			}
			report(i, s.IngestFile(work, FileRequest{
				ProjectID:     req.ProjectID,
				Filename:      f.rel,
				Path:          f.abs,
				LanguageHints: req.LanguageHints,
				Force:         req.Force,
			}))
		})
		if err != nil {
			wg.Done()
			report(i, Outcome{Path: f.rel, Status: OutcomeFailed, Error: err.Error()})
		}
	}
	wg.Wait()

	mu.Lock()
	for _, o := range result.Outcomes {
		result.count(o)
	}
	mu.Unlock()
	result.Duration = time.Since(start)

	log.Info("Folder ingestion finished",
		logger.Int("indexed", result.Indexed),
		logger.Int("skipped", result.Skipped),
		logger.Int("failed", result.Failed),
		logger.Int("cancelled", result.Cancelled),
		logger.Duration("took", result.Duration),
	)
	return result, nil
}

// poolSize lowers the pool to HeavyWorkers when drawings and models dominate
// the batch.
func (s *Service) poolSize(files []walkedFile) int {
	if len(files) == 0 {
		return s.config.Workers
	}
	heavy := 0
	for _, f := range files {
		if s.detector.FamilyForExtension(f.rel).Heavy() {
			heavy++
		}
	}
	if float64(heavy)/float64(len(files)) >= s.config.HeavyShare {
		return s.config.HeavyWorkers
	}
	return s.config.Workers
}

type walkedFile struct {
	abs string
	// rel is slash separated and relative to the walked root
	rel string
}

func walk(root string) ([]walkedFile, error) {
	var files []walkedFile
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, walkedFile{abs: p, rel: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, nil
}
