package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/rcliao/persona-memory/internal/cli"
)

func main() {
	// Optional .env with OPENAI_API_KEY and PERSONA_MEMORY_* overrides.
	_ = godotenv.Load()

	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
