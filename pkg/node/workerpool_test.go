package node_test

import (
	"sync/atomic"
	"testing"

	"github.com/cynic-protocol/cynic-node/pkg/node"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsAllSubmittedJobs(t *testing.T) {
	p := node.NewWorkerPool(4)
	p.Start()

	var count int64
	const n = 50
	for i := 0; i < n; i++ {
		p.Submit(func() { atomic.AddInt64(&count, 1) })
	}
	p.Stop()

	require.Equal(t, int64(n), atomic.LoadInt64(&count))
}

func TestWorkerPoolSizeLessThanOneDefaultsToOne(t *testing.T) {
	p := node.NewWorkerPool(0)
	p.Start()
	defer p.Stop()

	done := make(chan struct{})
	p.Submit(func() { close(done) })
	<-done
}
