package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/CitizenCafe-LLC/citizenspace-sub001/booking"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine"
	"github.com/spf13/cobra"
)

const localLayout = "2006-01-02T15:04"

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Price a window on a resource without booking it",
	Long: `Price a window on a resource for a member, applying the holder discount
and any credits the member has for the booked date. Times are local to the
configured timezone, formatted as 2006-01-02T15:04.`,
	RunE: runQuote,
}

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "List free and busy spans of a resource on a date",
	RunE:  runSlots,
}

func init() {
	rootCmd.AddCommand(quoteCmd)
	rootCmd.AddCommand(slotsCmd)

	quoteCmd.Flags().String("resource", "", "Resource ID")
	quoteCmd.Flags().String("user", "", "Member ID")
	quoteCmd.Flags().String("start", "", "Start time (2006-01-02T15:04)")
	quoteCmd.Flags().String("end", "", "End time (2006-01-02T15:04)")
	for _, name := range []string{"resource", "user", "start", "end"} {
		quoteCmd.MarkFlagRequired(name)
	}

	slotsCmd.Flags().String("resource", "", "Resource ID")
	slotsCmd.Flags().String("date", "", "Date (2006-01-02, default today)")
	slotsCmd.Flags().Duration("min", 0, "Minimum free span to list (default: resource minimum)")
	slotsCmd.MarkFlagRequired("resource")
}

func runQuote(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	resource, _ := cmd.Flags().GetString("resource")
	user, _ := cmd.Flags().GetString("user")
	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")

	loc := a.booking.Rules.In(time.Now()).Location()
	start, err := time.ParseInLocation(localLayout, startStr, loc)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	end, err := time.ParseInLocation(localLayout, endStr, loc)
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}

	q, err := a.booking.Quote(cmd.Context(), booking.BookingInput{
		ResourceID: engine.ResourceID(resource),
		UserID:     engine.UserID(user),
		Start:      start,
		End:        end,
	})
	if err != nil {
		return err
	}

	p := q.Price
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Resource\t%s (%s)\n", q.Request.Resource.Name, q.Request.Resource.ID)
	fmt.Fprintf(w, "Window\t%s - %s\n", q.Request.Window.Start.Format(localLayout), q.Request.Window.End.Format("15:04"))
	fmt.Fprintf(w, "Regime\t%s\n", p.Regime)
	fmt.Fprintf(w, "Hours\t%s\n", p.Hours.String())
	fmt.Fprintf(w, "Rate\t%s (effective %s)\n", p.BaseRate.StringFixed(2), p.EffectiveRate.StringFixed(2))
	if p.CreditsApplied.IsPositive() {
		fmt.Fprintf(w, "Credits applied\t%s of %s available\n", p.CreditsApplied.String(), q.AvailableCredits.String())
		fmt.Fprintf(w, "Overage hours\t%s\n", p.OverageHours.String())
	}
	fmt.Fprintf(w, "Subtotal\t%s\n", p.Subtotal.StringFixed(2))
	fmt.Fprintf(w, "Holder discount\t-%s\n", p.Discount.StringFixed(2))
	fmt.Fprintf(w, "Processing fee\t%s\n", p.ProcessingFee.StringFixed(2))
	fmt.Fprintf(w, "Total\t%s (%s)\n", p.Total.StringFixed(2), p.PaymentMethod())
	if !q.Available {
		fmt.Fprintf(w, "Available\tno, conflicts with %s\n", q.ConflictID)
	} else {
		fmt.Fprintf(w, "Available\tyes\n")
	}
	return w.Flush()
}

func runSlots(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	resource, _ := cmd.Flags().GetString("resource")
	dateStr, _ := cmd.Flags().GetString("date")
	minDuration, _ := cmd.Flags().GetDuration("min")

	date := a.booking.Rules.In(time.Now())
	if dateStr != "" {
		date, err = time.ParseInLocation("2006-01-02", dateStr, date.Location())
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
	}

	slots, err := a.booking.Slots(cmd.Context(), engine.ResourceID(resource), date, minDuration)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "START\tEND\tSTATUS")
	for _, s := range slots {
		status := "free"
		if !s.Available {
			status = "booked"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Start.Format("15:04"), s.End.Format("15:04"), status)
	}
	return w.Flush()
}
