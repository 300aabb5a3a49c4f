// Package utils holds small pieces of supporting infrastructure shared
// across the net transport: currently just the supervised worker pool.
package utils

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const taskChanSize = 100

// WorkerFunction is the unit of work a WorkerPool runs per task.
type WorkerFunction = func(t *tomb.Tomb, task any) error

// WorkerPool runs a bounded number of goroutines draining a shared task
// channel, each executing the pool's WorkerFunction, supervised by a
// tomb.Tomb so the whole pool tears down together on shutdown.
type WorkerPool struct {
	n     int
	tasks chan any
}

// NewWorkerPool constructs a pool of the given size.
func NewWorkerPool(size int) WorkerPool {
	return WorkerPool{
		tasks: make(chan any, taskChanSize),
		n:     size,
	}
}

// AddTask enqueues a task for the next free worker. Blocks if every
// worker is busy and the task channel is full.
func (pool *WorkerPool) AddTask(task any) {
	pool.tasks <- task
}

// Setup keeps exactly pool.n workers running work against pool.tasks
// until the tomb starts dying.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	log.Info().Int("workers", pool.n).Msg("utils: starting worker pool")
	activeWorkers := 0
	for {
		select {
		case <-t.Dying():
			return
		default:
			if activeWorkers < pool.n {
				t.Go(func() error {
					err := pool.worker(t, work)
					activeWorkers--
					return err
				})
				activeWorkers++
			}
		}
	}
}

// worker waits for one task and runs it, then returns so Setup can
// replace it — a fresh goroutine per task keeps a single slow or stuck
// task from starving the rest of the pool.
func (pool *WorkerPool) worker(t *tomb.Tomb, work WorkerFunction) error {
	select {
	case <-t.Dying():
		return nil
	case task := <-pool.tasks:
		if err := work(t, task); err != nil {
			log.Error().Err(err).Msg("utils: worker exiting on error")
			return err
		}
	}
	return nil
}
