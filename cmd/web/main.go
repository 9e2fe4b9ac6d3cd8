package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"examprep/internal/app"
	"examprep/internal/db"
)

func main() {
	cfg := app.LoadConfig()

	conn, err := db.OpenWithConfig(context.Background(), db.Driver(cfg.DBDriver), cfg.DBDSN, db.Config{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifeMins) * time.Minute,
	})
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer conn.Close()

	handler := app.NewRouter(cfg, conn)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("listening on %s (env=%s, driver=%s)", cfg.HTTPAddr, cfg.AppEnv, cfg.DBDriver)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("server: %v", err)
	}
}
