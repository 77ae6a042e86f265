package netproto

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const taskChanSize = 100

// WorkerFunction is one unit of work a pool worker performs.
type WorkerFunction = func(t *tomb.Tomb, task any) error

// WorkerPool runs a fixed number of tomb-supervised goroutines pulling
// tasks off a shared channel. It is the merged shape of the teacher's two
// independent, slightly divergent worker-pool definitions (internal
// package-level and the net package's own copy).
type WorkerPool struct {
	n     int
	tasks chan any
	work  WorkerFunction
}

// NewWorkerPool creates a pool of size workers, none started yet.
func NewWorkerPool(size int) WorkerPool {
	return WorkerPool{
		tasks: make(chan any, taskChanSize),
		n:     size,
	}
}

// AddTask enqueues a task for the next free worker to pick up.
func (pool *WorkerPool) AddTask(task any) {
	pool.tasks <- task
}

// Setup maintains a full pool of workers for the lifetime of t.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	pool.work = work
	log.Info().Int("workers", pool.n).Msg("netproto: starting worker pool")
	activeWorkers := 0
	for {
		select {
		case <-t.Dying():
			return
		default:
			if activeWorkers < pool.n {
				t.Go(func() error {
					err := pool.worker(t)
					activeWorkers--
					return err
				})
				activeWorkers++
			}
		}
	}
}

func (pool *WorkerPool) worker(t *tomb.Tomb) error {
	select {
	case <-t.Dying():
		return nil
	case task := <-pool.tasks:
		if err := pool.work(t, task); err != nil {
			log.Error().Err(err).Msg("netproto: worker exiting")
			return err
		}
	}
	return nil
}
