package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mnohosten/marlin-db/pkg/server"
)

func main() {
	config := server.DefaultConfig()
	flag.StringVar(&config.Host, "host", config.Host, "Host to listen on")
	flag.IntVar(&config.Port, "port", config.Port, "Port to listen on")
	flag.StringVar(&config.DataDir, "data-dir", "", "Directory for snapshot persistence (empty keeps data in memory)")
	flag.StringVar(&config.BadgerDir, "badger-dir", "", "Directory for BadgerDB persistence (overrides -data-dir)")
	flag.BoolVar(&config.OplogEnabled, "oplog", config.OplogEnabled, "Enable oplog emission and the tail endpoint")
	flag.Parse()

	srv, err := server.New(config)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Println("marlin-db stopped")
}
