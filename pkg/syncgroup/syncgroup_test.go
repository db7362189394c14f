package syncgroup

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncGroup_RunAndWait(t *testing.T) {
	g := NewSyncGroup()
	var n atomic.Int32
	for i := 0; i < 4; i++ {
		g.Add(func() { n.Add(1) })
	}
	g.Add(nil)
	g.RunAndWait()
	assert.EqualValues(t, 4, n.Load())

	// 登记列表已清空，再次运行不会重复执行
	g.RunAndWait()
	assert.EqualValues(t, 4, n.Load())
}

func TestSyncGroup_Go(t *testing.T) {
	g := NewSyncGroup()
	var n atomic.Int32
	g.Go(func() { n.Add(1) })
	g.Go(func() { n.Add(2) })
	g.Wait()
	assert.EqualValues(t, 3, n.Load())
}
