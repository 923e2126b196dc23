package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"clubgate.org/internal/auth"
	"clubgate.org/internal/httpapi"
	"clubgate.org/internal/obs"
	"clubgate.org/internal/perm"
	"clubgate.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("CLUBGATE_AUTH_SECRET")
	if secret == "" {
		log.Fatal("CLUBGATE_AUTH_SECRET is required")
	}
	dsn := os.Getenv("CLUBGATE_PG_DSN")
	if dsn == "" {
		log.Fatal("CLUBGATE_PG_DSN is required")
	}

	db, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	authSvc, err := auth.NewService(pg.NewCredentialStore(db), []byte(secret),
		auth.WithTokenTTL(envDuration("CLUBGATE_JWT_EXPIRY", 15*time.Minute)),
		auth.WithRefreshTTL(envDuration("CLUBGATE_REFRESH_EXPIRY", 7*24*time.Hour)),
		auth.WithRotationInterval(time.Duration(envInt("CLUBGATE_SERVICE_KEY_ROTATION_DAYS", 30))*24*time.Hour),
		auth.WithGracePeriod(time.Duration(envInt("CLUBGATE_SERVICE_KEY_GRACE_HOURS", 24))*time.Hour),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	engine := perm.NewEngine(pg.NewPermissionStore(db))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := authSvc.EnsureServiceKey(ctx); err != nil {
		log.Fatalf("service key: %v", err)
	}
	go maintenanceLoop(ctx, authSvc, engine)

	api := httpapi.New(authSvc, engine, httpapi.ReadyProbe{DB: db}, version)

	handler := httpapi.RequestID(
		httpapi.LoggingJSON(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.MaxBodyBytes(
						httpapi.RateLimit(api.Handler(), 20, 10),
						1<<20,
					),
				),
			),
		),
	)

	srv := &http.Server{
		Addr:              envString("CLUBGATE_LISTEN_ADDR", ":8080"),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting clubgate-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}

// maintenanceLoop runs the periodic jobs: service key rotation check,
// credential expiry cleanup, and the override sweep.
func maintenanceLoop(ctx context.Context, authSvc *auth.Service, engine *perm.Engine) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if rotated, err := authSvc.CheckRotationDue(ctx); err != nil {
			log.Printf("rotation check: %v", err)
		} else if rotated {
			log.Print("service key rotated")
		}
		if refresh, keys, err := authSvc.CleanupExpired(ctx); err != nil {
			log.Printf("credential cleanup: %v", err)
		} else if refresh > 0 || keys > 0 {
			log.Printf("credential cleanup: %d refresh tokens, %d api keys", refresh, keys)
		}
		if n, err := engine.SweepExpiredOverrides(ctx); err != nil {
			log.Printf("override sweep: %v", err)
		} else if n > 0 {
			log.Printf("override sweep: removed %d", n)
		}
	}
}

func envString(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	return d
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	return n
}
