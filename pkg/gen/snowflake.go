package gen

import (
	"cleanops/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("gen", fx.Provide(ProvideSnowflakeNode))

// ProvideSnowflakeNode builds the ID generator for NODE_ID. Every replica
// needs its own NODE_ID in [0, 1023].
func ProvideSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
