package health

import (
	"fmt"
	"runtime"
)

func numGoroutine() int {
	return runtime.NumGoroutine()
}

type countError struct {
	count int
	limit int
}

func (e *countError) Error() string {
	return fmt.Sprintf("%d goroutines (limit %d)", e.count, e.limit)
}
