package commands

import (
	"fmt"
	"os"

	"github.com/nutriplan/client-go/internal/api"
	"github.com/nutriplan/client-go/internal/cache"
	"github.com/nutriplan/client-go/internal/config"
	"github.com/nutriplan/client-go/internal/imagecache"
	"github.com/nutriplan/client-go/internal/logger"
	"github.com/nutriplan/client-go/internal/session"
	"github.com/nutriplan/client-go/internal/store"
)

type Globals struct {
	Debug   bool
	Version string
}

// app bundles the client components a command needs. Everything is
// constructed once here and injected; commands never build their own.
type app struct {
	cfg     config.Config
	store   *store.FileStore
	cache   *cache.Cache
	client  *api.Client
	session *session.Controller
	images  *imagecache.Cache
}

func newApp(g *Globals) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logger.Setup(g.Debug || cfg.Debug)

	st := store.New(cfg.Dir, log)
	c := cache.New(st, log)

	client := api.New(api.Config{
		BaseURL:       cfg.ServerURL,
		Timeout:       cfg.Timeout,
		ImageCacheDir: cfg.CacheDir,
	}, log)

	ctrl := session.NewController(st, client, c, log)
	ctrl.OnSessionEnded(func(ev session.Event) {
		if ev.Reason == session.ReasonAccountDeleted {
			fmt.Fprintln(os.Stderr, "This account no longer exists. You have been signed out.")
		}
	})

	return &app{
		cfg:     cfg,
		store:   st,
		cache:   c,
		client:  client,
		session: ctrl,
		images:  imagecache.New(client, st, log),
	}, nil
}
