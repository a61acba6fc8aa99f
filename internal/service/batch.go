package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/locvowork/appendsheet/internal/domain"
	"github.com/locvowork/appendsheet/internal/logger"
	"github.com/locvowork/appendsheet/pkg/dataflow"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

type batchTask struct {
	index int
	job   *domain.ExportJob
	path  string
}

// ExportBatch runs jobs on up to workers goroutines and writes each workbook
// into dir. A failing job is reported in its item and does not stop the
// others. Items come back in job order.
func (s *ExportService) ExportBatch(ctx context.Context, jobs []*domain.ExportJob, dir string, workers int) ([]domain.BatchItem, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	tasks := make([]batchTask, len(jobs))
	used := make(map[string]int, len(jobs))
	for i, job := range jobs {
		tasks[i] = batchTask{index: i, job: job, path: filepath.Join(dir, outputName(job, i, used))}
	}

	results := dataflow.Map(ctx, dataflow.From(ctx, tasks...), func(ctx context.Context, t batchTask) (domain.BatchItem, error) {
		item := domain.BatchItem{Index: t.index, Path: t.path}
		if t.job != nil {
			item.Job = t.job.Name
		}
		res, err := s.ExportToFile(ctx, t.job, t.path)
		if err != nil {
			item.Error = err.Error()
			return item, nil
		}
		item.Result = res
		return item, nil
	}, dataflow.WithWorkers(workers))

	items := make([]domain.BatchItem, 0, len(tasks))
	err := dataflow.ForEach(ctx, results, func(_ context.Context, item domain.BatchItem) error {
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Index < items[j].Index })

	failed := 0
	for _, it := range items {
		if it.Error != "" {
			failed++
		}
	}
	logger.InfoLog(ctx, "batch finished: %d jobs, %d failed", len(items), failed)
	return items, nil
}

// outputName derives a file name from the job name, suffixing repeats.
func outputName(job *domain.ExportJob, i int, used map[string]int) string {
	base := ""
	if job != nil {
		base = unsafeFileChars.ReplaceAllString(job.Name, "_")
	}
	if base == "" || base == "_" {
		base = fmt.Sprintf("job-%d", i+1)
	}
	used[base]++
	if n := used[base]; n > 1 {
		base = fmt.Sprintf("%s-%d", base, n)
	}
	return base + ".xlsx"
}
