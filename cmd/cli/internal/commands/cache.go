package commands

import (
	"context"
	"fmt"
)

type CacheCmd struct {
	Stats CacheStatsCmd `cmd:"" help:"Show image cache contents"`
	Clear CacheClearCmd `cmd:"" help:"Clear all local caches"`
	Sweep CacheSweepCmd `cmd:"" help:"Evict expired cache entries"`
}

type CacheStatsCmd struct{}

func (c *CacheStatsCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}

	size, keys := a.images.CacheStats()
	fmt.Printf("%d cached images\n", size)
	for _, k := range keys {
		fmt.Println(" ", k)
	}

	return nil
}

type CacheClearCmd struct{}

func (c *CacheClearCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}

	a.cache.ClearAll()
	a.images.ClearCache()
	fmt.Println("Caches cleared")

	return nil
}

type CacheSweepCmd struct{}

func (c *CacheSweepCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}

	a.cache.ClearOldEntries()
	fmt.Println("Sweep complete")

	return nil
}
