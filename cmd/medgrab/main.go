package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/teyyyyy/MedGrab/internal/cli"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[medgrab] .env not loaded: %v", err)
	}
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
