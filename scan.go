package main

import (
	"context"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/phobologic/procdebug/internal/lang"
	"github.com/phobologic/procdebug/internal/model"
	"github.com/phobologic/procdebug/internal/parse"
)

// scanProviders reads every library entry point concurrently and returns the
// provider declarations of each, indexed like files. Unreadable files and
// empty paths yield no providers.
func scanProviders(ctx context.Context, files []string, log *zap.Logger) [][]model.Provider {
	found := make([][]model.Provider, len(files))
	if len(files) == 0 {
		return found
	}

	rust := lang.Rust()
	query, err := rust.GetTagQuery()
	if err != nil {
		log.Warn("provider query unavailable", zap.Error(err))
		return found
	}

	type result struct {
		index     int
		providers []model.Provider
	}

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > len(files) {
		numWorkers = len(files)
	}

	work := make(chan int, len(files))
	results := make(chan result, len(files))

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Each goroutine gets its own parser
			parser := rust.NewParser()

			for idx := range work {
				path := files[idx]
				if path == "" || ctx.Err() != nil {
					continue
				}
				if l, ok := lang.ForPath(path); !ok || l != rust {
					log.Debug("skipping non-Rust library source", zap.String("path", path))
					continue
				}
				source, err := os.ReadFile(path)
				if err != nil {
					log.Warn("skipping unreadable source", zap.String("path", path), zap.Error(err))
					continue
				}
				results <- result{
					index:     idx,
					providers: parse.ExtractProviders(rust, parser, query, source, path),
				}
			}
		}()
	}

	for i := range files {
		work <- i
	}
	close(work)

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		found[r.index] = r.providers
	}
	return found
}
