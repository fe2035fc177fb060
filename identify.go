package crust

import (
	"context"
	"time"
)

var (
	StandardIdentifyLimit = 5 * time.Second
	IdentifyRateLimit     = StandardIdentifyLimit + (time.Millisecond * 500)
)

// IdentifyProvider decides when a shard may send Identify.
type IdentifyProvider interface {
	Identify(ctx context.Context, shard *Shard) error
}

// IdentifyProviderFunc adapts a function to IdentifyProvider.
type IdentifyProviderFunc func(ctx context.Context, shard *Shard) error

func (f IdentifyProviderFunc) Identify(ctx context.Context, shard *Shard) error {
	return f(ctx, shard)
}

// IdentifyImmediately lets every shard identify straight away.
var IdentifyImmediately = IdentifyProviderFunc(func(context.Context, *Shard) error { return nil })
