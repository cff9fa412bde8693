// Standalone smoke tool: probes a YouTube URL and prints the format menu
// the bot would offer. Run with: go run scripts/probe.go <url>
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/vgrab/vgrab/internal/services/extractor"
	"github.com/vgrab/vgrab/internal/services/formats"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: probe <youtube-url>")
		os.Exit(2)
	}
	url := os.Args[1]

	client := extractor.NewYouTubeClient(50 * 1024 * 1024)
	if !client.IsSupportedURL(url) {
		log.Fatalf("unsupported URL: %s", url)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resolver := formats.NewResolver(client)
	menu, err := resolver.Resolve(ctx, url)
	if err != nil {
		log.Fatalf("probe failed: %v", err)
	}

	fmt.Printf("Title: %s\n", menu.Title)
	for _, opt := range menu.Options {
		fmt.Printf("  %-16s %s\n", opt.ID, opt.Label)
	}
}
