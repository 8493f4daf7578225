package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/group"
	"gorm.io/gorm"

	"github.com/shelfpub/shelfpub/activitypub"
	"github.com/shelfpub/shelfpub/internal/httpx"
	"github.com/shelfpub/shelfpub/media"
	"github.com/shelfpub/shelfpub/workers"
)

type ServeCmd struct {
	Addr   string `help:"address to listen" default:":8080"`
	Domain string `required:"" help:"domain name of the instance"`
}

func (s *ServeCmd) Run(ctx *Context) error {
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}
	if err := configureDB(db); err != nil {
		return err
	}

	svc := activitypub.NewService(db, s.Domain)
	mediaEnv := &media.Env{DB: db}

	svcFn := func(r *http.Request) *activitypub.Service { return svc }
	mediaFn := func(r *http.Request) *media.Env { return mediaEnv }

	c := chi.NewRouter()
	c.Use(middleware.RequestID)
	c.Use(middleware.RealIP)
	c.Use(middleware.Logger)
	c.Use(middleware.Recoverer)

	c.Post("/inbox", httpx.HandlerFunc(svcFn, (*activitypub.Service).SharedInbox))
	c.Route("/user/{name}", func(r chi.Router) {
		r.Get("/", httpx.HandlerFunc(svcFn, (*activitypub.Service).ShowActor))
		r.Post("/inbox", httpx.HandlerFunc(svcFn, (*activitypub.Service).UserInbox))
		r.Get("/outbox", httpx.HandlerFunc(svcFn, (*activitypub.Service).ShowOutbox))
		r.Get("/followers", httpx.HandlerFunc(svcFn, (*activitypub.Service).ShowFollowers))
		r.Get("/shelf/{identifier}", httpx.HandlerFunc(svcFn, (*activitypub.Service).ShowShelf))
		r.Get("/status/{id}", httpx.HandlerFunc(svcFn, (*activitypub.Service).ShowStatus))
	})
	c.Get("/media/cover/{id}", httpx.HandlerFunc(mediaFn, (*media.Env).ShowCover))
	c.Get("/.well-known/webfinger", httpx.HandlerFunc(svcFn, (*activitypub.Service).Webfinger))
	c.Get("/nodeinfo/2.0", httpx.HandlerFunc(svcFn, (*activitypub.Service).NodeInfo))

	g := group.New(context.Background())
	g.Add(workers.NewDeliveryProcessor(db, svc))
	g.Add(workers.NewInboundProcessor(db, svc))
	g.Add(func(ctx context.Context) error {
		svr := &http.Server{
			Addr:         s.Addr,
			Handler:      c,
			WriteTimeout: 15 * time.Second,
			ReadTimeout:  15 * time.Second,
		}
		go func() {
			<-ctx.Done()
			svr.Shutdown(context.Background())
		}()
		return svr.ListenAndServe()
	})
	return g.Wait()
}
