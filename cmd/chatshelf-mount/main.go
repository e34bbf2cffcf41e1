package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/agentworkforce/chatshelf/internal/shelfapi"
)

func main() {
	baseURL := flag.String("base-url", envOrDefault("CHATSHELF_BASE_URL", "http://127.0.0.1:8080"), "chatshelf base URL")
	token := flag.String("token", strings.TrimSpace(os.Getenv("CHATSHELF_TOKEN")), "bearer token")
	namespace := flag.String("namespace", strings.TrimSpace(os.Getenv("CHATSHELF_NAMESPACE")), "namespace (defaults to the server's active namespace)")
	mountpoint := flag.String("mountpoint", strings.TrimSpace(os.Getenv("CHATSHELF_MOUNTPOINT")), "directory to mount the shelf at")
	refresh := flag.Duration("refresh", durationEnv("CHATSHELF_MOUNT_REFRESH", 5*time.Second), "refresh interval")
	timeout := flag.Duration("timeout", durationEnv("CHATSHELF_MOUNT_TIMEOUT", 15*time.Second), "per-request timeout")
	flag.Parse()

	if strings.TrimSpace(*token) == "" {
		log.Fatalf("token is required (--token or CHATSHELF_TOKEN)")
	}
	if strings.TrimSpace(*mountpoint) == "" {
		log.Fatalf("mountpoint is required (--mountpoint or CHATSHELF_MOUNTPOINT)")
	}
	if *refresh <= 0 {
		*refresh = 5 * time.Second
	}
	if *timeout <= 0 {
		*timeout = 15 * time.Second
	}

	client := shelfapi.NewHTTPClient(*baseURL, *token, &http.Client{Timeout: *timeout})
	idx := &shelfIndex{}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	refreshOnce := func() {
		ctx, cancel := context.WithTimeout(rootCtx, *timeout)
		defer cancel()
		if err := idx.refresh(ctx, client, strings.TrimSpace(*namespace)); err != nil {
			log.Printf("shelf refresh failed: %v", err)
		}
	}
	refreshOnce()

	server, err := fs.Mount(*mountpoint, &shelfRoot{idx: idx}, &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName: "chatshelf",
			Name:   "chatshelf",
		},
	})
	if err != nil {
		log.Fatalf("failed to mount %s: %v", *mountpoint, err)
	}
	log.Printf("shelf mounted at %s", *mountpoint)

	go func() {
		ticker := time.NewTicker(*refresh)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				refreshOnce()
			}
		}
	}()

	go func() {
		<-rootCtx.Done()
		if err := server.Unmount(); err != nil {
			log.Printf("unmount failed: %v", err)
		}
	}()

	server.Wait()
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
