package workerPool

import (
	"errors"
	"runtime"
	"sync"
)

var ErrClosed = errors.New("workerPool: closed")

type WorkerPool struct {
	config    Config
	taskQueue chan task
	closeOnce sync.Once
	closeMu   sync.RWMutex
	closed    bool
}

type Config struct {
	WorkerCount  int
	GlobalBuffer int
}

// Room groups tasks whose results are collected together.
type Room struct {
	wp      *WorkerPool
	wg      sync.WaitGroup
	mu      sync.Mutex
	results []interface{}
	errs    []error
}

type task struct {
	run   func() (interface{}, error)
	room  *Room
	index int
}

func NewWorkerPool(config Config) *WorkerPool {
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU() * 3
	}

	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = 10000
	}

	wp := &WorkerPool{
		config:    config,
		taskQueue: make(chan task, config.GlobalBuffer),
	}

	for i := 0; i < config.WorkerCount; i++ {
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	for t := range wp.taskQueue {
		result, err := t.run()

		t.room.mu.Lock()
		t.room.results[t.index] = result
		t.room.errs[t.index] = err
		t.room.mu.Unlock()

		t.room.wg.Done()
	}
}

// Close stops the workers once the queued tasks are done.
func (wp *WorkerPool) Close() {
	wp.closeOnce.Do(func() {
		wp.closeMu.Lock()
		wp.closed = true
		close(wp.taskQueue)
		wp.closeMu.Unlock()
	})
}

func (wp *WorkerPool) CreateRoom() *Room {
	return &Room{wp: wp}
}

// NewTask queues job and blocks while the global buffer is full.
func (ro *Room) NewTask(job func() (interface{}, error)) error {
	ro.wp.closeMu.RLock()
	defer ro.wp.closeMu.RUnlock()

	if ro.wp.closed {
		return ErrClosed
	}

	ro.mu.Lock()
	index := len(ro.results)
	ro.results = append(ro.results, nil)
	ro.errs = append(ro.errs, nil)
	ro.mu.Unlock()

	ro.wg.Add(1)
	ro.wp.taskQueue <- task{run: job, room: ro, index: index}
	return nil
}

// Wait blocks until every task of the room finished and returns the results
// in the order the tasks were added, together with the first error.
func (ro *Room) Wait() ([]interface{}, error) {
	ro.wg.Wait()

	ro.mu.Lock()
	defer ro.mu.Unlock()

	for _, err := range ro.errs {
		if err != nil {
			return ro.results, err
		}
	}
	return ro.results, nil
}
