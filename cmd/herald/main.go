package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/heraldapp/herald/internal/database"
	"github.com/heraldapp/herald/internal/email"
	"github.com/heraldapp/herald/internal/logging"
	"github.com/heraldapp/herald/internal/push"
	"github.com/heraldapp/herald/internal/reminder"
	"github.com/heraldapp/herald/internal/social"
	"github.com/heraldapp/herald/internal/store"
	calsync "github.com/heraldapp/herald/internal/sync"

	"github.com/robfig/cron/v3"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "generate-vapid-keys" {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			log.Fatalf("failed to generate VAPID keys: %v", err)
		}
		fmt.Printf("HERALD_VAPID_PUBLIC_KEY=%s\nHERALD_VAPID_PRIVATE_KEY=%s\n", pub, priv)
		return
	}

	logger := logging.Setup(os.Getenv("HERALD_LOG_LEVEL"))

	dbPath := os.Getenv("HERALD_DB_PATH")
	if dbPath == "" {
		dbPath = "herald.db"
	}

	feedURL := os.Getenv("HERALD_FEED_URL")
	if feedURL == "" {
		log.Fatal("HERALD_FEED_URL is required")
	}

	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	events := store.NewEventStore(db)
	users := store.NewUserStore(db)
	prefs := store.NewPreferenceStore(db)
	pushSubs := store.NewPushStore(db)
	reminders := store.NewReminderStore(db)
	syncLogs := store.NewSyncLogStore(db)

	resolver := reminder.NewResolver(users, prefs, pushSubs)

	dispatchLog := logging.Component("dispatch")

	var emailDispatcher *reminder.EmailDispatcher
	mailer := email.NewClient(os.Getenv("HERALD_SENDGRID_API_KEY"), os.Getenv("HERALD_FROM_EMAIL"), os.Getenv("HERALD_BASE_URL"))
	if mailer.Configured() {
		emailDispatcher = reminder.NewEmailDispatcher(mailer, dispatchLog)
	} else {
		logger.Warn("email disabled: HERALD_SENDGRID_API_KEY not set")
	}

	var pushDispatcher *reminder.PushDispatcher
	pushSvc := push.NewService(push.Config{
		VAPIDPublicKey:  os.Getenv("HERALD_VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("HERALD_VAPID_PRIVATE_KEY"),
		Subscriber:      os.Getenv("HERALD_VAPID_SUBSCRIBER"),
	})
	if pushSvc.Configured() {
		pushDispatcher = reminder.NewPushDispatcher(pushSvc, pushSubs, dispatchLog)
	} else {
		logger.Warn("browser push disabled: VAPID keys not set, run `herald generate-vapid-keys`")
	}

	var socialDispatcher *reminder.SocialDispatcher
	poster := social.NewClient(os.Getenv("HERALD_TWITTER_BEARER_TOKEN"))
	if poster.Configured() {
		socialDispatcher = reminder.NewSocialDispatcher(poster, dispatchLog)
	} else {
		logger.Warn("social broadcasts disabled: HERALD_TWITTER_BEARER_TOKEN not set")
	}

	syncSvc := calsync.NewService(feedURL, events, prefs, syncLogs, logging.Component("sync"))

	scheduler := reminder.NewScheduler(events, reminders, resolver, emailDispatcher, pushDispatcher, socialDispatcher, reminder.Config{
		SweepSpec:      os.Getenv("HERALD_SWEEP_CRON"),
		BroadcastLeads: parseLeads(os.Getenv("HERALD_BROADCAST_LEADS")),
	}, logging.Component("scheduler"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Feed sync runs once at startup so the first sweep sees real
	// events, then daily.
	if err := syncSvc.Run(ctx); err != nil {
		logger.Error("initial feed sync failed", "error", err)
	}

	syncSpec := os.Getenv("HERALD_SYNC_CRON")
	if syncSpec == "" {
		syncSpec = "0 0 * * *"
	}
	syncCron := cron.New(cron.WithLocation(time.UTC))
	if _, err := syncCron.AddFunc(syncSpec, func() {
		if err := syncSvc.Run(ctx); err != nil {
			logger.Error("feed sync failed", "error", err)
		}
	}); err != nil {
		log.Fatalf("invalid HERALD_SYNC_CRON: %v", err)
	}
	syncCron.Start()

	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	logger.Info("herald running", "db", dbPath, "feed", feedURL)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down...")
	syncCron.Stop()
	scheduler.Stop()
}

// parseLeads reads a comma-separated list of lead minutes. Empty or
// invalid input falls back to a 10-minute broadcast.
func parseLeads(raw string) []int {
	if raw == "" {
		return []int{10}
	}
	var leads []int
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n <= 0 {
			continue
		}
		leads = append(leads, n)
	}
	if len(leads) == 0 {
		return []int{10}
	}
	return leads
}
