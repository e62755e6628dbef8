package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/listsync/internal/model"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	StorageFlags
	ListID string
	Client string // optional - filter to one client
	Status string // optional - filter to one status
}

// TraceEvent is one operation in the trace timeline.
type TraceEvent struct {
	Seq             int64  `json:"seq"`
	Status          string `json:"status"`
	Type            string `json:"type"`
	ClientID        string `json:"client_id"`
	OperationID     string `json:"operation_id"`
	UserID          string `json:"user_id,omitempty"`
	ServerTimestamp int64  `json:"server_timestamp"`
	Reason          string `json:"reason,omitempty"`

	// Transformed is set when the applied operation differs from the
	// submitted one.
	Transformed bool `json:"transformed,omitempty"`

	Submitted model.OperationData  `json:"submitted"`
	Applied   *model.OperationData `json:"applied,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	ListID   string               `json:"list_id"`
	Title    string               `json:"title"`
	Products []model.Product      `json:"products"`
	Timeline []TraceEvent         `json:"timeline"`
	EditLog  []model.EditLogEntry `json:"edit_log"`
	Stats    TraceStats           `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalOperations int `json:"total_operations"`
	Applied         int `json:"applied"`
	Cancelled       int `json:"cancelled"`
	Failed          int `json:"failed"`
	Pending         int `json:"pending"`
	Transformed     int `json:"transformed"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the operation log of a list",
		Long: `Show the operation log and edit log of a list.

The output includes:
- Timeline: every logged operation in acceptance order with its outcome,
  cancellation reason, and the transformed payload when it was rewritten
- Edit log: the human-readable history of accepted changes
- Stats: Summary statistics for the list

Examples:
  listsync trace --db ./listsync.db --list groceries
  listsync trace --db ./listsync.db --list groceries --status cancelled
  listsync trace --db ./listsync.db --list groceries --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	opts.StorageFlags.register(cmd)
	cmd.Flags().StringVar(&opts.ListID, "list", "", "list to trace (required)")
	_ = cmd.MarkFlagRequired("list")
	cmd.Flags().StringVar(&opts.Client, "client", "", "filter to one client id")
	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status (applied|cancelled|failed|pending)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	cfg, err := loadConfig(opts.RootOptions, &opts.StorageFlags)
	if err != nil {
		return err
	}
	st, err := openStorage(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer st.Close()

	state, err := st.ReadList(ctx, opts.ListID)
	if err != nil {
		if model.IsKind(err, model.KindUnknownList) {
			return WrapExitError(ExitCommandError, fmt.Sprintf("list %s not found", opts.ListID), err)
		}
		return WrapExitError(ExitCommandError, "failed to read list", err)
	}
	records, err := st.ReadOperations(ctx, opts.ListID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read operations", err)
	}

	result := buildTraceResult(state, records, opts.Client, opts.Status)

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd, result, opts.Verbose)
}

// buildTraceResult converts the log to the trace view, applying filters.
// Stats always cover the whole log.
func buildTraceResult(state model.ListState, records []model.OperationRecord, client, status string) TraceResult {
	result := TraceResult{
		ListID:   state.ListID,
		Title:    state.Title,
		Products: state.Products,
		Timeline: make([]TraceEvent, 0, len(records)),
		EditLog:  state.EditLog,
	}

	for _, rec := range records {
		ev := toTraceEvent(rec)

		result.Stats.TotalOperations++
		switch rec.Status {
		case model.StatusApplied:
			result.Stats.Applied++
		case model.StatusCancelled:
			result.Stats.Cancelled++
		case model.StatusFailed:
			result.Stats.Failed++
		case model.StatusPending:
			result.Stats.Pending++
		}
		if ev.Transformed {
			result.Stats.Transformed++
		}

		if client != "" && rec.Submitted.ClientID != client {
			continue
		}
		if status != "" && string(rec.Status) != status {
			continue
		}
		result.Timeline = append(result.Timeline, ev)
	}
	return result
}

func toTraceEvent(rec model.OperationRecord) TraceEvent {
	op := rec.Submitted
	ev := TraceEvent{
		Seq:             rec.Seq,
		Status:          string(rec.Status),
		Type:            string(op.Type),
		ClientID:        op.ClientID,
		OperationID:     op.OperationID,
		UserID:          op.UserID,
		ServerTimestamp: op.ServerTimestamp,
		Reason:          rec.Reason,
		Submitted:       op.Data,
	}
	if rec.Applied != nil {
		data := rec.Applied.Data
		ev.Applied = &data
		ev.Transformed = !sameData(op.Data, data)
	}
	return ev
}

func sameData(a, b model.OperationData) bool {
	x, errA := model.MarshalCanonical(a)
	y, errB := model.MarshalCanonical(b)
	return errA == nil && errB == nil && string(x) == string(y)
}

// outputTraceJSON outputs the trace as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	return writeIndented(cmd.OutOrStdout(), CLIResponse{
		Status: "ok",
		Data:   result,
	})
}

// outputTraceText outputs the trace as human-readable text.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "List: %s (%q)\n", result.ListID, result.Title)
	fmt.Fprintf(w, "Products: %s\n", formatProducts(result.Products))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Timeline:")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no operations)")
	}
	for _, ev := range result.Timeline {
		fmt.Fprintf(w, "  [%d] %s %s %s/%s", ev.Seq, statusMark(ev.Status), ev.Type, ev.ClientID, ev.OperationID)
		if ev.ServerTimestamp != 0 {
			fmt.Fprintf(w, " @%d", ev.ServerTimestamp)
		}
		fmt.Fprintln(w)
		if ev.Reason != "" {
			fmt.Fprintf(w, "      reason: %s\n", ev.Reason)
		}
		if ev.Transformed {
			fmt.Fprintf(w, "      transformed: %s -> %s\n", formatData(ev.Submitted), formatData(*ev.Applied))
		} else if verbose {
			fmt.Fprintf(w, "      data: %s\n", formatData(ev.Submitted))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Edit log:")
	if len(result.EditLog) == 0 {
		fmt.Fprintln(w, "  (empty)")
	}
	for _, e := range result.EditLog {
		who := e.ChangedByName
		if who == "" {
			who = e.ChangedBy
		}
		line := fmt.Sprintf("  @%d %s %s", e.ServerTimestamp, who, e.Action)
		if e.ProductRef != "" {
			line += " " + e.ProductRef
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Stats: %d operations (%d applied, %d cancelled, %d failed, %d pending), %d transformed\n",
		result.Stats.TotalOperations, result.Stats.Applied, result.Stats.Cancelled,
		result.Stats.Failed, result.Stats.Pending, result.Stats.Transformed)
	return nil
}

func statusMark(status string) string {
	switch model.OpStatus(status) {
	case model.StatusApplied:
		return "✓"
	case model.StatusCancelled:
		return "✗"
	case model.StatusFailed:
		return "!"
	default:
		return "?"
	}
}

func formatProducts(products []model.Product) string {
	if len(products) == 0 {
		return "(empty)"
	}
	parts := make([]string, len(products))
	for i, p := range products {
		parts[i] = fmt.Sprintf("%s x%d", p.ProductRef, p.NumUnits)
	}
	return strings.Join(parts, ", ")
}

func formatData(d model.OperationData) string {
	data, err := model.MarshalCanonical(d)
	if err != nil {
		return fmt.Sprintf("%+v", d)
	}
	return string(data)
}
