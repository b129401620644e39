package cmmn

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

var globalIdGenerator *snowflake.Node

// generateKey produces the unique identifier for a new runtime entity.
// Snowflake keys are monotonic per node, so the creation order of plan item
// instances is recoverable by sorting on the key.
func (engine *Engine) generateKey() int64 {
	return engine.snowflake.Generate().Int64()
}

// getGlobalSnowflakeIdGenerator returns the process wide generator, shared by
// every engine so keys never collide between engines on the same storage.
func getGlobalSnowflakeIdGenerator() *snowflake.Node {
	if globalIdGenerator == nil {
		node, err := snowflake.NewNode(1)
		if err != nil {
			// node id 1 is always in range, NewNode only fails on invalid ids
			panic(fmt.Sprintf("failed to create snowflake node: %s", err))
		}
		globalIdGenerator = node
	}
	return globalIdGenerator
}
