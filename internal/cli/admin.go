package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowboard/hub/internal/model"
	"github.com/flowboard/hub/internal/relay"
)

const adminTimeout = 30 * time.Second

// withApp runs fn with the stores open and closes them afterwards.
func withApp(cfgPath string, fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), adminTimeout)
	defer cancel()

	a, err := openApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func userCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var req model.CreateUserRequest
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*cfgPath, func(ctx context.Context, a *app) error {
				user, err := a.sessions.CreateUser(ctx, &req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user=%s name=%s\n", user.ID, user.Name)
				return nil
			})
		},
	}
	create.Flags().StringVar(&req.ID, "id", "", "user id")
	create.Flags().StringVar(&req.Name, "name", "", "display name (defaults to the id)")
	create.Flags().StringVar(&req.Email, "email", "", "email address")
	_ = create.MarkFlagRequired("id")

	cmd.AddCommand(create)
	return cmd
}

func tokenCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage session tokens",
	}

	var userID string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a session token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*cfgPath, func(ctx context.Context, a *app) error {
				sess, err := a.sessions.Issue(ctx, userID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "token=%s user=%s expires_at=%s\n",
					sess.Token, sess.UserID, sess.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	issue.Flags().StringVar(&userID, "user", "", "user id")
	_ = issue.MarkFlagRequired("user")

	var token string
	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*cfgPath, func(ctx context.Context, a *app) error {
				if err := a.sessions.Revoke(ctx, token); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "revoked")
				return nil
			})
		},
	}
	revoke.Flags().StringVar(&token, "token", "", "session token")
	_ = revoke.MarkFlagRequired("token")

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired session tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*cfgPath, func(ctx context.Context, a *app) error {
				n, err := a.sessions.PurgeExpired(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged=%d\n", n)
				return nil
			})
		},
	}

	cmd.AddCommand(issue, revoke, purge)
	return cmd
}

func memberCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Manage workspace membership",
	}

	var workspaceID, userID, role string

	add := &cobra.Command{
		Use:   "add",
		Short: "Add a user to a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*cfgPath, func(ctx context.Context, a *app) error {
				m, err := a.members.Add(ctx, workspaceID, userID, model.MemberRole(strings.ToUpper(role)))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "workspace=%s user=%s role=%s\n", m.WorkspaceID, m.UserID, m.Role)
				return nil
			})
		},
	}
	add.Flags().StringVar(&workspaceID, "workspace", "", "workspace id")
	add.Flags().StringVar(&userID, "user", "", "user id")
	add.Flags().StringVar(&role, "role", string(model.MemberRoleMember), "ADMIN or MEMBER")
	_ = add.MarkFlagRequired("workspace")
	_ = add.MarkFlagRequired("user")

	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove a user from a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*cfgPath, func(ctx context.Context, a *app) error {
				if err := a.members.Remove(ctx, workspaceID, userID); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "removed")
				return nil
			})
		},
	}
	remove.Flags().StringVar(&workspaceID, "workspace", "", "workspace id")
	remove.Flags().StringVar(&userID, "user", "", "user id")
	_ = remove.MarkFlagRequired("workspace")
	_ = remove.MarkFlagRequired("user")

	list := &cobra.Command{
		Use:   "list",
		Short: "List the members of a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*cfgPath, func(ctx context.Context, a *app) error {
				members, err := a.members.List(ctx, workspaceID)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "USER\tROLE\tSINCE")
				for _, m := range members {
					fmt.Fprintf(w, "%s\t%s\t%s\n", m.UserID, m.Role, m.CreatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
	list.Flags().StringVar(&workspaceID, "workspace", "", "workspace id")
	_ = list.MarkFlagRequired("workspace")

	cmd.AddCommand(add, remove, list)
	return cmd
}

// notifyCmd sends one notification through the relay the task API would
// use: Kafka when enabled, otherwise the hub's backend channel.
func notifyCmd(cfgPath *string) *cobra.Command {
	var userID, message string

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a notification to a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			var notifier relay.Notifier
			if cfg.Kafka.Enabled {
				kn, err := relay.DialKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
				if err != nil {
					return err
				}
				defer kn.Close()
				notifier = kn
			} else {
				c := relay.NewClient(cfg.Relay.URL, cfg.Hub.RelayKey, log)
				defer c.Close()
				notifier = c
			}

			ctx, cancel := context.WithTimeout(context.Background(), adminTimeout)
			defer cancel()

			if err := notifier.SendNotificationToUser(ctx, userID, notificationBody(message)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "recipient user id")
	cmd.Flags().StringVar(&message, "message", "", "plain text, or a JSON envelope object")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

// notificationBody passes a JSON object through as an envelope and treats
// anything else as plain text.
func notificationBody(message string) any {
	trimmed := strings.TrimSpace(message)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	return message
}
