package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/config"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/server"
)

func main() {
	cfg := config.LoadOrDefault()
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, err := range errs {
			log.Printf("config: %v", err)
		}
		log.Fatal("invalid configuration")
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		log.Println("Shutting down gracefully...")
		if err := srv.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	}
}
