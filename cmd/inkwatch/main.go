// Command inkwatch follows the caller's reservations from a terminal. It loads
// them once, subscribes to the event stream and prints the grouped views every
// time the cache changes.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"inkediin-backend/internal/client"
	"inkediin-backend/internal/model"
	"inkediin-backend/internal/parse"
	"inkediin-backend/internal/viewmodel"
)

const reconnectDelay = 3 * time.Second

func main() {
	logger := log.New(os.Stderr, "inkwatch ", log.LstdFlags)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Printf("could not load .env file: %v", err)
	}

	baseURL := os.Getenv("INKWATCH_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	token := os.Getenv("INKWATCH_TOKEN")
	if token == "" {
		logger.Fatalf("INKWATCH_TOKEN must be set to a bearer token")
	}
	userID, err := client.Subject(token)
	if err != nil {
		logger.Fatalf("invalid INKWATCH_TOKEN: %v", err)
	}
	loc, err := parse.Location(os.Getenv("INKWATCH_TIMEZONE"))
	if err != nil {
		logger.Fatalf("invalid INKWATCH_TIMEZONE: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.New(baseURL, token)
	cache := viewmodel.New(userID, api, viewmodel.WithLocation(loc))

	var mu sync.Mutex
	cache.OnChange(func() {
		mu.Lock()
		defer mu.Unlock()
		render(os.Stdout, cache, loc)
	})

	for ctx.Err() == nil {
		if err := follow(ctx, api, cache); err != nil {
			if client.IsUnauthorized(err) {
				logger.Fatalf("token rejected: %v", err)
			}
			logger.Printf("disconnected: %v", err)
		}
		select {
		case <-ctx.Done():
		case <-time.After(reconnectDelay):
		}
	}
	logger.Println("bye")
}

// follow subscribes first and loads second so no update between the two is
// lost; stale pushes are dropped by the cache.
func follow(ctx context.Context, api *client.Client, cache *viewmodel.Cache) error {
	feed, err := api.Events(ctx)
	if err != nil {
		return err
	}
	if err := cache.Load(ctx); err != nil {
		return err
	}
	cache.Run(ctx, feed)
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("event stream closed")
}

func render(out *os.File, cache *viewmodel.Cache, loc *time.Location) {
	now := time.Now()
	var b strings.Builder

	fmt.Fprintf(&b, "\n== %s ==\n", now.In(loc).Format("Mon 2 Jan 15:04:05"))
	counts := cache.Counts()
	parts := make([]string, 0, len(model.Statuses))
	for _, s := range model.Statuses {
		parts = append(parts, fmt.Sprintf("%s %d", s, counts[s]))
	}
	fmt.Fprintln(&b, strings.Join(parts, " | "))

	section(&b, "Awaiting my response", cache.AwaitingMyResponse(), loc)
	section(&b, "Awaiting their response", cache.AwaitingTheirResponse(), loc)
	section(&b, "Upcoming", cache.Upcoming(now), loc)

	fmt.Fprint(out, b.String())
}

func section(b *strings.Builder, title string, items []model.Reservation, loc *time.Location) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s (%d)\n", title, len(items))
	for _, r := range items {
		when := "no date"
		if r.AppointmentAt != nil {
			when = r.AppointmentAt.In(loc).Format("Mon 2 Jan 2006 15:04")
		}
		fmt.Fprintf(b, "  %-36s  %-9s  %-16s  %s\n", r.ID, r.Status, when, r.Title())
	}
}
