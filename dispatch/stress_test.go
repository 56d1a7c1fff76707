package dispatch

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/tsawler/metalkernel/config"
	"github.com/tsawler/metalkernel/kernels"
)

func TestDispatchLifecycleStress(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	for _, cache := range []bool{true, false} {
		d := gpuDispatcher(t, func(c *config.Dispatch) { c.CachePipelines = cache })

		// Frequent GC so finalizers run while command buffers are in flight.
		stop := make(chan struct{})
		gcDone := make(chan struct{})
		go func() {
			defer close(gcDone)
			for {
				select {
				case <-stop:
					return
				case <-time.After(10 * time.Millisecond):
					runtime.GC()
				}
			}
		}()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					input := []float32{float32(id), float32(j), 1, -2}
					name := kernels.Names()[(id+j)%2]

					ctx, cancel := context.Background(), context.CancelFunc(func() {})
					if j%7 == 0 {
						// Abandon some runs mid-flight.
						ctx, cancel = context.WithTimeout(ctx, time.Microsecond)
					}

					out, err := d.Run(ctx, name, input, len(input))
					cancel()
					if err != nil {
						assert.ErrorIs(t, err, context.DeadlineExceeded, "run %d-%d", id, j)
						continue
					}
					want, _ := kernels.Apply(name, input, len(input))
					assert.Empty(t, cmp.Diff(want, out, approx), "run %d-%d", id, j)

					if j%10 == 0 {
						runtime.GC()
					}
				}
			}(i)
		}
		wg.Wait()

		close(stop)
		<-gcDone

		// Let abandoned command buffers finish and release.
		for i := 0; i < 5; i++ {
			runtime.GC()
			time.Sleep(100 * time.Millisecond)
		}
	}
}
