package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"canvas-collab/blob"
	"canvas-collab/collab"
	"canvas-collab/core"
	"canvas-collab/handlers/api/media"
	"canvas-collab/handlers/api/ops"
	"canvas-collab/handlers/api/projects"
	"canvas-collab/handlers/api/snapshots"
	"canvas-collab/handlers/auth"
	authMiddleware "canvas-collab/middleware"
	"canvas-collab/realtime"
	"canvas-collab/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func setupRouter(store stores.Store, blobs blob.Storage, svc *collab.Service, clock core.Clock) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "X-CSRF-Token", "Token", "session", "Origin", "Host", "Connection", "Accept-Encoding", "Accept-Language", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.AuthJWT)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", projects.HandleList(store))
			r.Post("/", projects.HandleCreate(store, clock))

			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", projects.HandleGet(store))
				r.Patch("/", projects.HandleUpdate(store, clock))
				r.Delete("/", projects.HandleDelete(store))

				r.Put("/collaborators", projects.HandleUpsertMember(store, clock))
				r.Delete("/collaborators/{userID}", projects.HandleRemoveMember(store, clock))

				r.Route("/ops", func(r chi.Router) {
					r.Get("/", ops.HandleList(svc))
					r.Post("/", ops.HandleAppend(svc))
					r.Post("/{opID}/undo", ops.HandleUndo(svc))
				})

				r.Route("/snapshots", func(r chi.Router) {
					r.Post("/", snapshots.HandleSave(svc))
					r.Get("/latest", snapshots.HandleGetLatest(svc))
				})
				r.Get("/bootstrap", snapshots.HandleBootstrap(svc))

				r.Post("/media", media.HandleUpload(store, blobs, svc, clock))
			})
		})

		r.Route("/media/{mediaID}", func(r chi.Router) {
			r.Get("/", media.HandleGet(store, svc))
			r.Get("/content", media.HandleDownload(store, blobs, svc))
		})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", auth.HandleLogin)
		r.Get("/callback", auth.HandleCallback)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"key":   key,
			"value": v,
		}).Warnf("Invalid duration, using %s", fallback)
		return fallback
	}
	return d
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"key":   key,
			"value": v,
		}).Warnf("Invalid integer, using %d", fallback)
		return fallback
	}
	return n
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	auth.InitAuth()
	store := stores.GetStore()
	blobs := blob.GetStorage()
	clock := core.SystemClock

	guard := collab.NewGuard(store)
	sequencer := collab.NewSequencer(store, clock)
	mat := collab.NewMaterializer(store, store, clock)
	snapshotter := collab.NewSnapshotter(store, store, store, store, clock, envInt64("SNAPSHOT_EVERY", collab.DefaultCheckpointEvery))
	hub := realtime.NewHub()
	svc := collab.NewService(guard, sequencer, mat, snapshotter, store, hub)

	collector := collab.NewCollector(
		store,
		blobs,
		clock,
		envDuration("MEDIA_GRACE_PERIOD", collab.DefaultGracePeriod),
		envDuration("MEDIA_SWEEP_INTERVAL", time.Hour),
	)

	r := setupRouter(store, blobs, svc, clock)
	r.Mount("/socket.io/", hub.ServeHandler())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	srv := &http.Server{Addr: *listenAddress, Handler: r}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.WithField("addr", *listenAddress).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := collector.Run(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logrus.WithField("event", "shutdown").Fatal(err)
	}
	logrus.Info("Shutting down...")
}
