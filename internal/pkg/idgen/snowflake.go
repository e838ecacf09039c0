package idgen

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
	err  error
)

// Initialize sets up the Snowflake ID generator with a node ID.
// Only the first call has an effect.
func Initialize(nodeID int64) error {
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// NewID generates a new Snowflake ID for a database row
func NewID() int64 {
	if Initialize(1) != nil {
		panic("idgen: snowflake node not initialized: " + err.Error())
	}
	return node.Generate().Int64()
}

// GenerateID generates a new Snowflake ID as a string
func GenerateID() string {
	if Initialize(1) != nil {
		panic("idgen: snowflake node not initialized: " + err.Error())
	}
	return node.Generate().String()
}
