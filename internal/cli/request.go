package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/approvals/internal/core/request"
	"github.com/example/approvals/internal/ports/primary"
	"github.com/example/approvals/internal/wire"
)

// RequestCmd returns the request command group.
func RequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "request",
		Aliases: []string{"req"},
		Short:   "Manage approval requests",
		Long: `Create, inspect and decide on approval requests.

Lifecycle:
  pending   -> in_review, approved, rejected, cancelled
  in_review -> approved, rejected, pending, cancelled
  approved, rejected and cancelled are final.`,
	}

	cmd.AddCommand(requestCreateCmd())
	cmd.AddCommand(requestListCmd())
	cmd.AddCommand(requestShowCmd())
	cmd.AddCommand(requestUpdateCmd())
	cmd.AddCommand(requestTransitionCmd())
	cmd.AddCommand(requestShortcutCmd("approve", "Approve a request", func(id, actor, comment string) error {
		return wire.RequestAdapter().JSON(globalJSON).Approve(NewContext(), id, actor, comment)
	}))
	cmd.AddCommand(requestShortcutCmd("reject", "Reject a request", func(id, actor, comment string) error {
		return wire.RequestAdapter().JSON(globalJSON).Reject(NewContext(), id, actor, comment)
	}))
	cmd.AddCommand(requestShortcutCmd("cancel", "Cancel a request", func(id, actor, comment string) error {
		return wire.RequestAdapter().JSON(globalJSON).Cancel(NewContext(), id, actor, comment)
	}))
	cmd.AddCommand(requestShortcutCmd("review", "Start reviewing a pending request", func(id, actor, comment string) error {
		return wire.RequestAdapter().JSON(globalJSON).Review(NewContext(), id, actor, comment)
	}))
	cmd.AddCommand(requestDeleteCmd())
	return cmd
}

func requestCreateCmd() *cobra.Command {
	var description, approver, requester, typ string

	cmd := &cobra.Command{
		Use:   "create [title]",
		Short: "File a new approval request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if requester == "" {
				requester = Actor()
			}
			return wire.RequestAdapter().JSON(globalJSON).Create(NewContext(), primary.CreateRequestRequest{
				Title:       args[0],
				Description: description,
				Requester:   requester,
				Approver:    approver,
				Type:        typ,
			})
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "What is being requested and why (required)")
	cmd.Flags().StringVarP(&approver, "approver", "a", "", "Username of the approver (required)")
	cmd.Flags().StringVar(&requester, "requester", "", "Username of the requester (defaults to the acting user)")
	cmd.Flags().StringVarP(&typ, "type", "t", string(request.TypeOther), "Request type: "+typeList())
	cmd.MarkFlagRequired("description")
	cmd.MarkFlagRequired("approver")
	return cmd
}

func requestListCmd() *cobra.Command {
	var state, typ, requester, approver, mine string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter := wire.RequestAdapter().JSON(globalJSON)
			if mine != "" {
				return adapter.ListByUser(NewContext(), Actor(), primary.UserRole(mine))
			}
			return adapter.List(NewContext(), primary.RequestFilters{
				State:     state,
				Type:      typ,
				Requester: requester,
				Approver:  approver,
				Limit:     limit,
				Offset:    offset,
			})
		},
	}

	cmd.Flags().StringVarP(&state, "state", "s", "", "Filter by state")
	cmd.Flags().StringVarP(&typ, "type", "t", "", "Filter by type")
	cmd.Flags().StringVar(&requester, "requester", "", "Filter by requester")
	cmd.Flags().StringVar(&approver, "approver", "", "Filter by approver")
	cmd.Flags().StringVar(&mine, "mine", "", "List the acting user's requests as requester or approver")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of requests (0 = all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many requests")
	return cmd
}

func requestShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [request-id]",
		Short: "Show a request with its history and comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := wire.RequestAdapter().JSON(globalJSON).Show(NewContext(), args[0])
			return err
		},
	}
}

func requestUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [request-id]",
		Short: "Edit title, description or type",
		Long:  "Edit request metadata. The state is never changed by update; use transition instead.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := primary.UpdateRequestRequest{ID: args[0], Actor: Actor()}
			if cmd.Flags().Changed("title") {
				v, _ := cmd.Flags().GetString("title")
				req.Title = &v
			}
			if cmd.Flags().Changed("description") {
				v, _ := cmd.Flags().GetString("description")
				req.Description = &v
			}
			if cmd.Flags().Changed("type") {
				v, _ := cmd.Flags().GetString("type")
				req.Type = &v
			}
			return wire.RequestAdapter().JSON(globalJSON).Update(NewContext(), req)
		},
	}

	cmd.Flags().String("title", "", "New title")
	cmd.Flags().StringP("description", "d", "", "New description")
	cmd.Flags().StringP("type", "t", "", "New type: "+typeList())
	return cmd
}

func requestTransitionCmd() *cobra.Command {
	var comment string

	cmd := &cobra.Command{
		Use:   "transition [request-id] [state]",
		Short: "Move a request to a new state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return wire.RequestAdapter().JSON(globalJSON).Transition(NewContext(), args[0], args[1], Actor(), comment)
		},
	}

	cmd.Flags().StringVarP(&comment, "comment", "m", "", "Comment recorded with the change")
	return cmd
}

func requestShortcutCmd(use, short string, run func(id, actor, comment string) error) *cobra.Command {
	var comment string

	cmd := &cobra.Command{
		Use:   use + " [request-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], Actor(), comment)
		},
	}

	cmd.Flags().StringVarP(&comment, "comment", "m", "", "Comment recorded with the change")
	return cmd
}

func requestDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete [request-id]",
		Short: "Delete a request with its history and comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				fmt.Printf("This will permanently delete %s and its audit trail.\n", args[0])
				fmt.Print("Continue? [y/N] ")
				var response string
				fmt.Scanln(&response)
				if response != "y" && response != "Y" {
					fmt.Println("Aborted.")
					return nil
				}
			}
			return wire.RequestAdapter().Delete(NewContext(), args[0])
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")
	return cmd
}

func typeList() string {
	names := make([]string, len(request.AllTypes))
	for i, t := range request.AllTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
