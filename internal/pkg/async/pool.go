// Package async runs independent query tasks concurrently with a bounded
// degree of parallelism. Used to fan dashboard queries out over the
// connection pool.
package async

import (
	"context"
	"fmt"
	"sync"
)

type Task struct {
	Name    string
	Execute func() (interface{}, error)
}

type Result struct {
	Name string
	Data interface{}
	Err  error
}

type Pool struct {
	workerCount int
}

func NewPool(workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{workerCount: workerCount}
}

// Execute runs all tasks, at most workerCount at a time, and returns their
// results keyed by task name. A cancelled context stops dispatching new
// tasks; results gathered so far are returned.
func (p *Pool) Execute(ctx context.Context, tasks []Task) map[string]Result {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]Result, len(tasks))
	)

	sem := make(chan struct{}, p.workerCount)

	for _, task := range tasks {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return results
		}

		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			defer func() { <-sem }()
			// A panicking task must not take the process down; it runs
			// outside any HTTP recover middleware.
			defer func() {
				if rec := recover(); rec != nil {
					mu.Lock()
					results[task.Name] = Result{Name: task.Name, Err: fmt.Errorf("task %s panicked: %v", task.Name, rec)}
					mu.Unlock()
				}
			}()

			data, err := task.Execute()
			mu.Lock()
			results[task.Name] = Result{Name: task.Name, Data: data, Err: err}
			mu.Unlock()
		}(task)
	}

	wg.Wait()
	return results
}
