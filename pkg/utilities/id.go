package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a globally unique, sortable id string. Period and
// symptom records use these.
func NewKSUID() string {
	return ksuid.New().String()
}

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewSnowflakeID generates a snowflake id string for notification events.
// The node id comes from SNOWFLAKE_NODE (default 1); if node initialization
// fails a KSUID is returned so callers always get a unique id.
func NewSnowflakeID() string {
	nodeOnce.Do(func() {
		nodeID := int64(1)
		if v := os.Getenv("SNOWFLAKE_NODE"); v != "" {
			if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
				nodeID = parsed
			}
		}
		node, _ = snowflake.NewNode(nodeID)
	})
	if node == nil {
		return NewKSUID()
	}
	return node.Generate().String()
}
