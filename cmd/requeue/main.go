// Command requeue moves FAILED jobs back to NEW so the processor picks
// them up again, optionally narrowed by sku or error kind. Intended for
// operators after a provider outage; the HTTP retry route does the same
// thing one job at a time.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/darkroomhq/darkroom-backend/internal/app"
	"github.com/darkroomhq/darkroom-backend/internal/data/repos"
	types "github.com/darkroomhq/darkroom-backend/internal/domain"
	"github.com/darkroomhq/darkroom-backend/internal/pkg/dbctx"
)

type skuList []string

func (l *skuList) String() string { return strings.Join(*l, ",") }
func (l *skuList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v != "" {
		*l = append(*l, v)
	}
	return nil
}

func main() {
	var skus skuList
	var kind string
	var dryRun bool
	var limit int
	flag.Var(&skus, "sku", "sku to requeue (repeatable; default all)")
	flag.StringVar(&kind, "kind", "", "only jobs that failed with this error kind")
	flag.BoolVar(&dryRun, "dry-run", false, "print planned requeues without writing")
	flag.IntVar(&limit, "limit", 0, "limit number of jobs requeued")
	flag.Parse()

	kind = strings.ToUpper(strings.TrimSpace(kind))
	if kind != "" && !types.KnownErrorKind(types.ErrorKind(kind)) {
		fmt.Printf("unknown error kind %q\n", kind)
		os.Exit(1)
	}

	application, err := app.New()
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}

	wanted := make(map[string]bool, len(skus))
	for _, s := range skus {
		wanted[s] = true
	}

	// Collect every FAILED row first; retrying while paging would shift
	// the offset window under us.
	filter := repos.JobFilter{Status: types.StatusFailed, Limit: 500}
	var rows []*types.Job
	for {
		page, total, err := application.Repos.Jobs.List(dbc, filter)
		if err != nil {
			fmt.Printf("list failed jobs: %v\n", err)
			os.Exit(1)
		}
		rows = append(rows, page...)
		if len(page) == 0 || int64(len(rows)) >= total {
			break
		}
		filter.Offset += len(page)
	}

	requeued := 0
	skipped := 0
	for _, job := range rows {
		if job == nil {
			continue
		}
		if len(wanted) > 0 && !wanted[job.SKU] {
			skipped++
			continue
		}
		if kind != "" && string(job.ErrorCode) != kind {
			skipped++
			continue
		}
		if limit > 0 && requeued >= limit {
			skipped++
			continue
		}
		if dryRun {
			fmt.Printf("[dry-run] requeue job id=%s sku=%s kind=%s attempt=%d\n", job.ID, job.SKU, job.ErrorCode, job.Attempt)
			requeued++
			continue
		}
		if _, err := application.Repos.Jobs.Retry(dbc, job.ID); err != nil {
			fmt.Printf("requeue failed for job %s: %v\n", job.ID, err)
			continue
		}
		requeued++
		fmt.Printf("requeued job id=%s sku=%s\n", job.ID, job.SKU)
	}

	fmt.Printf("done; requeued=%d skipped=%d\n", requeued, skipped)
}
