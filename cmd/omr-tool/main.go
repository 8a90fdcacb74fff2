package main

import (
	"os"

	"omr-grader/internal/logger"
)

func main() {
	cli := NewCLI()
	if err := cli.Run(os.Args[1:]); err != nil {
		logger.Fatalf("Error: %v", err)
	}
}
