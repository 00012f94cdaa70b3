package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"securelink/internal/client"
)

func main() {
	var (
		server      = flag.String("server", envOr("SECURELINK_SERVER", "http://localhost:8080"), "server base URL")
		user        = flag.String("user", os.Getenv("SECURELINK_USER"), "user id sent to the server")
		parent      = flag.String("parent", "", "id of the remote folder to upload into")
		days        = flag.Int("expires-days", 0, "delete uploaded files after this many days")
		pin         = flag.String("pin", "", "PIN required to download each file")
		burn        = flag.Bool("burn", false, "delete each file after its first download")
		share       = flag.Bool("share", false, "create a view+download share link for the uploaded folder")
		concurrency = flag.Int("concurrency", 4, "parallel file uploads")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <path>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	parsedPaths, err := client.ParseArgs(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	var parentID *uuid.UUID
	if *parent != "" {
		id, err := uuid.Parse(*parent)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid -parent: %v\n", err)
			os.Exit(2)
		}
		parentID = &id
	}

	tree, err := client.BuildTree(parsedPaths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building file tree: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(client.Options{BaseURL: *server, UserID: *user, RetryCount: 2})
	report, err := client.Mirror(ctx, c, tree, client.MirrorOptions{
		ParentID: parentID,
		Upload: client.UploadOptions{
			ExpiresInDays:     *days,
			PIN:               *pin,
			BurnAfterDownload: *burn,
		},
		Concurrency: *concurrency,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error uploading: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Uploaded %d files in %d folders (%d bytes)\n", report.Files, report.Folders, report.Bytes)
	fmt.Printf("  %s %s\n", report.Root.Type, report.Root.ID)

	if *share {
		if report.Root.Type != "folder" {
			fmt.Fprintln(os.Stderr, "Error: only folders can be shared")
			os.Exit(1)
		}
		link, err := c.ShareFolder(ctx, report.Root.ID, client.ShareOptions{AllowView: true, AllowDownload: true})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error sharing: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nShare link: %s\n", link.URL)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
