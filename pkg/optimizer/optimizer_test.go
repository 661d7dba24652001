package optimizer

import (
	"testing"

	"github.com/elasticjob/master/pkg/node"
	"github.com/stretchr/testify/assert"
)

func TestDefaultOptimizerAdjustOOMResource(t *testing.T) {
	o := NewDefaultOptimizer(nil)
	n := node.Node{Resource: node.ResourceSpec{MemoryMB: 1000}}

	bumped := o.AdjustOOMResource(n)
	assert.Equal(t, int64(1500), bumped.MemoryMB)
}

func TestDefaultOptimizerInitJobResource(t *testing.T) {
	baseline := map[node.Type]node.GroupResource{
		node.TypeWorker: {Count: 3, Resource: node.ResourceSpec{MemoryMB: 2048}},
	}
	o := NewDefaultOptimizer(baseline)

	plan := o.InitJobResource(node.StrategyParameterServer)
	assert.Equal(t, int32(3), plan[node.TypeWorker].Count)

	plan[node.TypeWorker] = node.GroupResource{Count: 99}
	assert.Equal(t, int32(3), o.BaselineResources[node.TypeWorker].Count, "InitJobResource must return a copy")
}

func TestUpdateJobUUID(t *testing.T) {
	o := NewDefaultOptimizer(nil)
	o.UpdateJobUUID("job-1")
	assert.Equal(t, "job-1", o.jobUUID)
}
