package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/listsync/internal/model"
	"github.com/roach88/listsync/internal/transform"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	StorageFlags
	ListID string // optional - specific list only
}

// ReplayListResult holds the replay result for a single list.
type ReplayListResult struct {
	ListID        string `json:"list_id"`
	Operations    int    `json:"operations"`
	Applied       int    `json:"applied"`
	Cancelled     int    `json:"cancelled"`
	Failed        int    `json:"failed"`
	StoredHash    string `json:"stored_hash"`
	ReplayedHash  string `json:"replayed_hash"`
	Deterministic bool   `json:"deterministic"`
	Consistent    bool   `json:"consistent"`
	Error         string `json:"error,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Lists         []ReplayListResult `json:"lists"`
	TotalLists    int                `json:"total_lists"`
	AllConsistent bool               `json:"all_consistent"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay operation logs and verify stored state",
		Long: `Replay the applied operations of each list and verify the stored state.

Every list is rebuilt from its initial title by applying its applied
operations in log order, twice. The rebuilt state must hash the same both
times (deterministic) and match the stored products, title and edit log
(consistent).

Exit codes:
  0 - All lists are consistent
  1 - Verification failed (differences detected)
  2 - Command error (database not found, etc.)

Examples:
  listsync replay --db ./listsync.db
  listsync replay --db ./listsync.db --list 0192f0c1-...
  listsync replay --db ./listsync.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	opts.StorageFlags.register(cmd)
	cmd.Flags().StringVar(&opts.ListID, "list", "", "replay specific list only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
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

	// Get lists to process
	var listIDs []string
	if opts.ListID != "" {
		listIDs = []string{opts.ListID}
	} else {
		listIDs, err = st.ListIDs(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list lists", err)
		}
	}

	result := ReplayResult{
		Lists:         make([]ReplayListResult, 0, len(listIDs)),
		TotalLists:    len(listIDs),
		AllConsistent: true,
	}

	if len(listIDs) == 0 {
		if opts.Format == "json" {
			return outputReplayJSON(cmd, result)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No lists found in database.")
		return nil
	}

	for _, id := range listIDs {
		listResult, err := replayAndVerifyList(ctx, st, id)
		if err != nil {
			if model.IsKind(err, model.KindUnknownList) {
				return WrapExitError(ExitCommandError, fmt.Sprintf("list %s not found", id), err)
			}
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay list %s", id), err)
		}

		result.Lists = append(result.Lists, listResult)
		if !listResult.Deterministic || !listResult.Consistent {
			result.AllConsistent = false
		}
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// replayAndVerifyList rebuilds a list from its applied operations twice and
// compares both results with the stored state.
func replayAndVerifyList(ctx context.Context, st Storage, listID string) (ReplayListResult, error) {
	info, err := st.ReadListInfo(ctx, listID)
	if err != nil {
		return ReplayListResult{}, err
	}
	stored, err := st.ReadList(ctx, listID)
	if err != nil {
		return ReplayListResult{}, err
	}
	records, err := st.ReadOperations(ctx, listID)
	if err != nil {
		return ReplayListResult{}, err
	}

	res := ReplayListResult{ListID: listID, Operations: len(records)}
	applied := make([]model.Operation, 0, len(records))
	for _, rec := range records {
		switch rec.Status {
		case model.StatusApplied:
			res.Applied++
			if rec.Applied != nil {
				applied = append(applied, *rec.Applied)
			}
		case model.StatusCancelled:
			res.Cancelled++
		case model.StatusFailed:
			res.Failed++
		}
	}

	res.StoredHash, err = model.StateHash(stored)
	if err != nil {
		return ReplayListResult{}, err
	}

	first, err := rebuild(listID, info.InitialTitle, applied)
	if err != nil {
		res.Error = err.Error()
		return res, nil
	}
	second, err := rebuild(listID, info.InitialTitle, applied)
	if err != nil {
		res.Error = err.Error()
		return res, nil
	}

	res.ReplayedHash = first
	res.Deterministic = first == second
	res.Consistent = first == res.StoredHash
	return res, nil
}

func rebuild(listID, initialTitle string, applied []model.Operation) (string, error) {
	state, err := transform.Fold(model.NewListState(listID, initialTitle), applied...)
	if err != nil {
		return "", fmt.Errorf("replay failed: %w", err)
	}
	return model.StateHash(state)
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if !result.AllConsistent {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_REPLAY",
			Message: "replay verification failed",
		}
	}

	if err := writeIndented(cmd.OutOrStdout(), response); err != nil {
		return err
	}

	if !result.AllConsistent {
		return NewExitError(ExitFailure, "replay verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay Summary: %d list(s)\n", result.TotalLists)
	fmt.Fprintln(w)

	for _, list := range result.Lists {
		status := "✓"
		if !list.Deterministic || !list.Consistent {
			status = "✗"
		}

		fmt.Fprintf(w, "%s List: %s\n", status, list.ListID)
		fmt.Fprintf(w, "  Operations: %d applied, %d cancelled, %d failed\n", list.Applied, list.Cancelled, list.Failed)

		if verbose {
			fmt.Fprintf(w, "  Stored hash:   %s\n", list.StoredHash)
			fmt.Fprintf(w, "  Replayed hash: %s\n", list.ReplayedHash)
		}
		if list.Error != "" {
			fmt.Fprintf(w, "  Error: %s\n", list.Error)
		}
		if !list.Deterministic {
			fmt.Fprintln(w, "  Warning: Non-deterministic replay detected!")
		}
		if !list.Consistent {
			fmt.Fprintln(w, "  Warning: Stored state does not match the operation log!")
		}
		fmt.Fprintln(w)
	}

	if result.AllConsistent {
		fmt.Fprintln(w, "✓ All lists verified consistent")
		return nil
	}

	fmt.Fprintln(w, "✗ Replay verification failed")
	return NewExitError(ExitFailure, "replay verification failed")
}
