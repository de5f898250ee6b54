// Command upload pushes a local video file through the multipart upload
// protocol and optionally queues it for processing.
package main

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/clipvault/clipvault/pkg/clipvault/transfer"
)

func main() {
	var (
		file        = flag.String("file", "", "path of the video file to upload")
		server      = flag.String("server", "http://localhost:8080", "coordinator base URL")
		token       = flag.String("token", "", "bearer token")
		mimeType    = flag.String("mime", "", "MIME type (default: derived from the file extension)")
		concurrency = flag.Int("concurrency", 4, "parts uploaded in parallel")
		process     = flag.Bool("process", true, "queue the video for processing after upload")
	)
	flag.Parse()

	if *file == "" || *token == "" {
		fmt.Fprintln(os.Stderr, "usage: upload -file <path> -token <token> [-server url]")
		os.Exit(2)
	}

	mt := *mimeType
	if mt == "" {
		mt = mime.TypeByExtension(filepath.Ext(*file))
	}
	if !strings.HasPrefix(mt, "video/") {
		fmt.Fprintf(os.Stderr, "cannot determine a video MIME type for %s; pass -mime\n", *file)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The part size is fixed: the coordinator validates completions against
	// the same chunk size.
	uploader := transfer.NewUploader(
		transfer.WithConcurrency(*concurrency),
		transfer.WithProgress(printProgress),
	)
	client := transfer.NewClient(*server, *token, transfer.WithUploader(uploader))

	start := time.Now()
	videoID, err := client.UploadFile(ctx, *file, mt)
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "upload failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("uploaded %s in %s (video %s)\n", filepath.Base(*file), time.Since(start).Round(time.Millisecond), videoID)

	if *process {
		if err := client.EnqueueProcessing(ctx, videoID); err != nil {
			fmt.Fprintf(os.Stderr, "failed to queue processing: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("processing queued")
	}
}

func printProgress(bytesSent, totalBytes int64) {
	if totalBytes <= 0 {
		return
	}
	percent := float64(bytesSent) / float64(totalBytes) * 100
	fmt.Printf("\r%6.2f%% (%d/%d bytes)", percent, bytesSent, totalBytes)
}
