package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"cloudgate.io/internal/authcache"
	"cloudgate.io/internal/httpapi"
	"cloudgate.io/internal/identity"
	"cloudgate.io/internal/obs"
	"cloudgate.io/internal/rbac"
	"cloudgate.io/internal/store/pg"
	"cloudgate.io/internal/workflow"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("CLOUDGATE_PG_DSN")
	if dsn == "" {
		log.Fatal("missing CLOUDGATE_PG_DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	dir := pg.New(db)

	var verifierOpts []identity.VerifierOption
	if secret := os.Getenv("CLOUDGATE_TOKEN_SECRET"); secret != "" {
		tokens, err := identity.NewTokenVerifier([]byte(secret), identity.DefaultApplication)
		if err != nil {
			log.Fatalf("token verifier: %v", err)
		}
		verifierOpts = append(verifierOpts, identity.WithTokenVerifier(tokens))
	}
	verifier, err := identity.NewVerifier(dir, verifierOpts...)
	if err != nil {
		log.Fatalf("verifier: %v", err)
	}

	var resolverOpts []rbac.Option
	if cacheURL := os.Getenv("CLOUDGATE_AUTHCACHE_URL"); cacheURL != "" {
		src, err := authcache.NewHTTPSource(cacheURL, nil)
		if err != nil {
			log.Fatalf("authcache source: %v", err)
		}
		cache, err := authcache.New(src)
		if err != nil {
			log.Fatalf("authcache client: %v", err)
		}
		resolverOpts = append(resolverOpts, rbac.WithCache(cache))
	}
	resolver, err := rbac.NewResolver(dir, resolverOpts...)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}

	var jobs httpapi.JobLister
	if wfURL := os.Getenv("CLOUDGATE_WORKFLOW_URL"); wfURL != "" {
		wf, err := workflow.New(wfURL)
		if err != nil {
			log.Fatalf("workflow client: %v", err)
		}
		jobs = wf
	}

	api := httpapi.New(httpapi.Config{
		Verifier:      verifier,
		Resolver:      resolver,
		Directory:     dir,
		Jobs:          jobs,
		ReadyProbe:    httpapi.ReadyProbe{DB: db},
		Version:       version,
		RateBurst:     envInt("CLOUDGATE_RATE_BURST"),
		RatePerSecond: envInt("CLOUDGATE_RATE_PER_SECOND"),
	})

	addr := os.Getenv("CLOUDGATE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting cloudgate-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = db.Close()
	log.Println("Stopped")
}

func envInt(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	return n
}
