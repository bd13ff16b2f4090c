package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"changewatch/internal/subscription"
)

func newUsersCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage users and their Telegram links",
	}
	cmd.AddCommand(newUsersAddCommand(opts), newUsersListCommand(opts), newUsersLinkCommand(opts))
	return cmd
}

func newUsersAddCommand(opts *RootOptions) *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(false)
			if err != nil {
				return err
			}
			defer a.Close()
			u := &subscription.User{Email: email, Name: name, Active: true}
			if err := a.Store().CreateUser(cmd.Context(), u); err != nil {
				return WrapExitError(exitCodeFor(err), "add user", err)
			}
			p := opts.printer(cmd)
			if p.json() {
				return p.JSON(viewUser(u))
			}
			fmt.Fprintf(p.w, "user #%d %s created\n", u.ID, u.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address (unique)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newUsersListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(false)
			if err != nil {
				return err
			}
			defer a.Close()
			users, err := a.Store().ListUsers(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "list users", err)
			}
			views := make([]userView, 0, len(users))
			rows := make([][]string, 0, len(users))
			for i := range users {
				u := &users[i]
				views = append(views, viewUser(u))
				linked := "no"
				if u.TelegramVerified {
					linked = "@" + u.TelegramUsername
				}
				rows = append(rows, []string{strconv.FormatInt(u.ID, 10), u.Email, u.Name, strconv.FormatBool(u.Active), linked})
			}
			return opts.printer(cmd).Table(views, []string{"ID", "EMAIL", "NAME", "ACTIVE", "TELEGRAM"}, rows)
		},
	}
}

func newUsersLinkCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "link <user-id>",
		Short: "Issue a Telegram link token",
		Long: `Issue a one-time token the user sends to the bot as "/link <token>" to
receive notifications in that chat. A new token replaces any previous one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := opts.open(false)
			if err != nil {
				return err
			}
			defer a.Close()
			token := uuid.NewString()
			expires := time.Now().Add(a.LinkTokenTTL()).UTC()
			if err := a.Store().SetLinkToken(cmd.Context(), id, token, expires); err != nil {
				return WrapExitError(exitCodeFor(err), "link token", err)
			}
			p := opts.printer(cmd)
			if p.json() {
				return p.JSON(map[string]any{"user_id": id, "token": token, "expires": expires.Format(time.RFC3339)})
			}
			fmt.Fprintf(p.w, "send to the bot: /link %s\nexpires %s\n", token, fmtWhen(&expires))
			return nil
		},
	}
}

// userView omits the link token.
type userView struct {
	ID               int64  `json:"id"`
	Email            string `json:"email"`
	Name             string `json:"name,omitempty"`
	Active           bool   `json:"active"`
	TelegramVerified bool   `json:"telegram_verified"`
	TelegramUsername string `json:"telegram_username,omitempty"`
	CreatedAt        string `json:"created_at"`
}

func viewUser(u *subscription.User) userView {
	return userView{
		ID:               u.ID,
		Email:            u.Email,
		Name:             u.Name,
		Active:           u.Active,
		TelegramVerified: u.TelegramVerified,
		TelegramUsername: u.TelegramUsername,
		CreatedAt:        u.CreatedAt.UTC().Format(time.RFC3339),
	}
}
