package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pendingAfterNow bool

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List incomplete reminders",
	Long:  `Display every incomplete reminder in the store, soonest first, in the configured timezone.`,
	RunE:  runPending,
}

func init() {
	pendingCmd.Flags().BoolVar(&pendingAfterNow, "future", false, "Only show reminders that are not yet due")
}

func runPending(cmd *cobra.Command, args []string) error {
	cfg := bootstrap()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}

	store, mongoDB, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if mongoDB == nil {
		return fmt.Errorf("MongoDB is not reachable at %s", cfg.MongoURI)
	}
	defer mongoDB.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var after time.Time
	if pendingAfterNow {
		after = time.Now()
	}
	reminders, err := store.ListPending(ctx, after)
	if err != nil {
		return fmt.Errorf("failed to list pending reminders: %w", err)
	}

	if len(reminders) == 0 {
		fmt.Println("📋 No pending reminders")
		return nil
	}

	fmt.Println("📋 Pending reminders:")
	fmt.Println()

	now := time.Now()
	overdue := 0
	for i, r := range reminders {
		status := "🟢 Scheduled"
		if !r.ReminderTime.After(now) {
			status = "🔴 Overdue"
			overdue++
		}
		fmt.Printf("%d. %s %s\n", i+1, r.Task, status)
		fmt.Printf("   ID:   %s\n", r.ID.Hex())
		fmt.Printf("   Due:  %s\n", r.ReminderTime.In(loc).Format("Mon Jan 02 2006 3:04 PM MST"))
		fmt.Println()
	}

	fmt.Printf("Total: %d reminders (%d overdue)\n", len(reminders), overdue)
	return nil
}
