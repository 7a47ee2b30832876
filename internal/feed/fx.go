// Package feed builds a user's feed from the accounts they follow.
//
// A feed request reads the caller's following list from the followers
// service, fans out to the posts service once per followed account, drops
// replies and hands what's left to a ranking [Strategy].
package feed

import (
	"go.uber.org/fx"
)

var Module = fx.Module("feed",
	fx.Provide(
		NewService,
		NewServer,
	),
)
