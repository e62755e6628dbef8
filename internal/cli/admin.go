package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/listsync/internal/model"
)

// AdminOptions holds flags shared by the user and list commands.
type AdminOptions struct {
	*RootOptions
	StorageFlags
}

// ListCreateOptions holds flags for list create.
type ListCreateOptions struct {
	AdminOptions
	ID      string
	Owner   string
	Members []string
}

// NewUserCommand creates the user command group.
func NewUserCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage the user directory",
	}
	cmd.AddCommand(newUserPutCommand(rootOpts))
	return cmd
}

func newUserPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AdminOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <user-id> <name>",
		Short: "Create or rename a user",
		Long: `Create a user directory entry, or change its display name.

Display names are shown to collaborators in presence events and the edit log.

Example:
  listsync user put alice "Alice Smith" --db ./listsync.db`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(opts, func(ctx context.Context, st Storage, f *OutputFormatter) error {
				u := model.User{ID: args[0], Name: normalize(args[1])}
				if u.ID == "" || u.Name == "" {
					return NewExitError(ExitCommandError, "user id and name must be non-empty")
				}
				if err := st.PutUser(ctx, u); err != nil {
					return WrapExitError(ExitCommandError, "failed to write user", err)
				}
				return f.Success(UserSaved{u})
			}, cmd)
		},
	}
	opts.StorageFlags.register(cmd)
	return cmd
}

// UserSaved is the output of user put.
type UserSaved struct {
	model.User
}

func (u UserSaved) String() string {
	return fmt.Sprintf("Saved user %s (%s)", u.ID, u.Name)
}

// NewListCommand creates the list command group.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Manage lists and their members",
	}
	cmd.AddCommand(newListCreateCommand(rootOpts))
	cmd.AddCommand(newListAddMemberCommand(rootOpts))
	return cmd
}

func newListCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListCreateOptions{AdminOptions: AdminOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create an empty list",
		Long: `Create an empty list owned by --owner. The owner is a member.

Without --id a time-ordered UUID is generated. Creating a list whose id
already exists leaves it unchanged.

Example:
  listsync list create "Groceries" --owner alice --member bob --db ./listsync.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(&opts.AdminOptions, func(ctx context.Context, st Storage, f *OutputFormatter) error {
				return createList(ctx, st, f, opts, args[0])
			}, cmd)
		},
	}
	opts.StorageFlags.register(cmd)
	cmd.Flags().StringVar(&opts.ID, "id", "", "list id (default: generated)")
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "owning user id (required)")
	_ = cmd.MarkFlagRequired("owner")
	cmd.Flags().StringSliceVar(&opts.Members, "member", nil, "additional member user ids")
	return cmd
}

// ListCreated is the output of list create.
type ListCreated struct {
	model.ListInfo
	Members []string `json:"members"`
	Created bool     `json:"created"`
}

func (l ListCreated) String() string {
	verb := "Created"
	if !l.Created {
		verb = "Exists"
	}
	return fmt.Sprintf("%s list %s (%q), members: %s", verb, l.ID, l.Title, strings.Join(l.Members, ", "))
}

func createList(ctx context.Context, st Storage, f *OutputFormatter, opts *ListCreateOptions, title string) error {
	title = normalize(title)
	if title == "" {
		return NewExitError(ExitCommandError, "title must be non-empty")
	}
	id := opts.ID
	if id == "" {
		u, err := uuid.NewV7()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to generate list id", err)
		}
		id = u.String()
	}

	info := model.ListInfo{ID: id, Title: title, InitialTitle: title, OwnerID: opts.Owner}
	created, err := st.CreateList(ctx, info)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create list", err)
	}
	f.VerboseLog("list %s created=%v", id, created)

	members := []string{opts.Owner}
	for _, m := range opts.Members {
		if m == "" || m == opts.Owner {
			continue
		}
		if err := st.AddMember(ctx, id, m); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to add member %s", m), err)
		}
		members = append(members, m)
	}
	return f.Success(ListCreated{ListInfo: info, Members: members, Created: created})
}

func newListAddMemberCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AdminOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add-member <list-id> <user-id>",
		Short: "Grant a user access to a list",
		Long: `Add a user to a list's members. Only members may join a list's room.

Example:
  listsync list add-member groceries bob --db ./listsync.db`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(opts, func(ctx context.Context, st Storage, f *OutputFormatter) error {
				listID, userID := args[0], args[1]
				if err := st.AddMember(ctx, listID, userID); err != nil {
					if model.IsKind(err, model.KindUnknownList) {
						return WrapExitError(ExitCommandError, fmt.Sprintf("list %s not found", listID), err)
					}
					return WrapExitError(ExitCommandError, "failed to add member", err)
				}
				return f.Success(fmt.Sprintf("Added %s to %s", userID, listID))
			}, cmd)
		},
	}
	opts.StorageFlags.register(cmd)
	return cmd
}

// withStorage opens the configured backend for the duration of fn.
func withStorage(opts *AdminOptions, fn func(context.Context, Storage, *OutputFormatter) error, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := loadConfig(opts.RootOptions, &opts.StorageFlags)
	if err != nil {
		return err
	}
	st, err := openStorage(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer st.Close()

	return fn(ctx, st, formatter)
}

// normalize trims and NFC-normalizes display text.
func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
