package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"PromptForge-MCP/sdk/go/promptforge"
)

// This example spawns a promptforged process over stdio, refines a prompt,
// breaks a task into sub-tasks and prints the configured providers.
func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client, err := promptforge.Connect(ctx, "promptforged", os.Environ(), "-transport", "stdio")
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer client.Close()

	providers, err := client.ListProviders(ctx)
	if err != nil {
		log.Fatalf("list providers: %v", err)
	}
	fmt.Println(providers)

	refined, err := client.RefinePrompt(ctx, "write a YAML config loader in Go", promptforge.RefineOptions{
		RefinementType: "code",
	})
	if err != nil {
		var toolErr *promptforge.ToolError
		if errors.As(err, &toolErr) {
			log.Fatalf("server rejected the call with code %s: %s", toolErr.Code, toolErr.Message)
		}
		log.Fatalf("refine: %v", err)
	}
	fmt.Println("refined prompt:")
	fmt.Println(refined)

	tasks, err := client.BreakdownTask(ctx, "add structured audit logging to a web service", promptforge.BreakdownOptions{})
	if err != nil {
		log.Fatalf("breakdown: %v", err)
	}
	for i, task := range tasks {
		fmt.Printf("%d. %s (complexity: %d)\n", i+1, task.Description, task.Complexity)
	}
}
