// Package cli provides thin CLI adapters that translate between CLI concerns
// and application services. Adapters handle argument parsing, output formatting,
// but delegate business logic to services.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/example/approvals/internal/core/request"
	"github.com/example/approvals/internal/ports/primary"
)

// RequestAdapter is a thin adapter that translates CLI operations to RequestService calls.
// It depends only on the RequestService interface, enabling easy testing with mocks.
type RequestAdapter struct {
	service primary.RequestService
	out     io.Writer
	json    bool
}

// NewRequestAdapter creates a new RequestAdapter with the given service.
func NewRequestAdapter(service primary.RequestService, out io.Writer) *RequestAdapter {
	return &RequestAdapter{
		service: service,
		out:     out,
	}
}

// JSON switches output to the JSON request view.
func (a *RequestAdapter) JSON(enabled bool) *RequestAdapter {
	a.json = enabled
	return a
}

// Create files a new request.
func (a *RequestAdapter) Create(ctx context.Context, req primary.CreateRequestRequest) error {
	created, err := a.service.CreateRequest(ctx, req)
	if err != nil {
		return err
	}
	if a.json {
		return a.writeJSON(created)
	}

	fmt.Fprintf(a.out, "✓ Created request %s [%s]: %s\n", created.ID, created.Code, created.Title)
	fmt.Fprintf(a.out, "  Approver %s has been notified\n", created.Approver)
	return nil
}

// List lists requests matching filters, newest first.
func (a *RequestAdapter) List(ctx context.Context, filters primary.RequestFilters) error {
	requests, err := a.service.ListRequests(ctx, filters)
	if err != nil {
		return fmt.Errorf("failed to list requests: %w", err)
	}
	return a.printList(requests)
}

// ListByUser lists the requests a user filed or must decide on.
func (a *RequestAdapter) ListByUser(ctx context.Context, user string, role primary.UserRole) error {
	requests, err := a.service.ListRequestsByUser(ctx, user, role)
	if err != nil {
		return fmt.Errorf("failed to list requests: %w", err)
	}
	return a.printList(requests)
}

func (a *RequestAdapter) printList(requests []*primary.Request) error {
	if a.json {
		if requests == nil {
			requests = []*primary.Request{}
		}
		return a.writeJSON(requests)
	}

	if len(requests) == 0 {
		fmt.Fprintln(a.out, "No requests found")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCODE\tSTATE\tTYPE\tREQUESTER\tAPPROVER\tTITLE\tDESCRIPTION")
	fmt.Fprintln(w, "--\t----\t-----\t----\t---------\t--------\t-----\t-----------")
	for _, r := range requests {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.Code,
			StateLabel(r.State),
			r.TypeLabel,
			r.Requester,
			r.Approver,
			r.Title,
			descriptionPreview(r.Description),
		)
	}
	return w.Flush()
}

// previewLength is the number of characters of a description shown in tables.
const previewLength = 40

// descriptionPreview flattens a description onto one line and shortens it.
func descriptionPreview(description string) string {
	preview := []rune(request.CleanDescription(description))
	if len(preview) <= previewLength {
		return string(preview)
	}
	return string(preview[:previewLength-3]) + "..."
}

// Show displays a request with its history and comments.
func (a *RequestAdapter) Show(ctx context.Context, id string) (*primary.Request, error) {
	req, err := a.service.GetRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	if a.json {
		return req, a.writeJSON(req)
	}

	fmt.Fprintf(a.out, "\nRequest: %s (%s)\n", req.ID, req.Code)
	fmt.Fprintf(a.out, "Title:     %s\n", req.Title)
	fmt.Fprintf(a.out, "State:     %s\n", StateLabel(req.State))
	fmt.Fprintf(a.out, "Type:      %s\n", req.TypeLabel)
	fmt.Fprintf(a.out, "Requester: %s\n", req.Requester)
	fmt.Fprintf(a.out, "Approver:  %s\n", req.Approver)
	fmt.Fprintf(a.out, "Created:   %s\n", formatTime(req.CreatedAt))
	fmt.Fprintf(a.out, "Updated:   %s\n", formatTime(req.UpdatedAt))
	fmt.Fprintf(a.out, "\n%s\n", req.Description)

	if len(req.History) > 0 {
		fmt.Fprintln(a.out, "\nHistory:")
		for _, h := range req.History {
			line := fmt.Sprintf("  %s  %-10s by %s", formatTime(h.Timestamp), h.Action, h.User)
			if h.PriorState != "" {
				line += fmt.Sprintf(" (from %s)", h.PriorState)
			}
			if h.Comment != "" {
				line += ": " + h.Comment
			}
			fmt.Fprintln(a.out, line)
		}
	}

	if len(req.Comments) > 0 {
		fmt.Fprintln(a.out, "\nComments:")
		for _, c := range req.Comments {
			fmt.Fprintf(a.out, "  [%s] %s (%s): %s\n", c.Category, c.User, formatTime(c.Timestamp), c.Text)
		}
	}

	if !req.IsTerminal() {
		var next []string
		for _, s := range request.AllowedTargets(request.State(req.State)) {
			next = append(next, string(s))
		}
		fmt.Fprintf(a.out, "\nNext states: %s\n", strings.Join(next, ", "))
	}
	fmt.Fprintln(a.out)

	return req, nil
}

// Update edits title, description or type of a request.
func (a *RequestAdapter) Update(ctx context.Context, req primary.UpdateRequestRequest) error {
	if req.Title == nil && req.Description == nil && req.Type == nil {
		return fmt.Errorf("must specify at least --title, --description or --type")
	}

	updated, err := a.service.UpdateRequest(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	if a.json {
		return a.writeJSON(updated)
	}

	fmt.Fprintf(a.out, "✓ Request %s updated\n", updated.ID)
	return nil
}

// Transition moves a request to newState.
func (a *RequestAdapter) Transition(ctx context.Context, id, newState, actor, comment string) error {
	updated, err := a.service.TransitionRequest(ctx, primary.TransitionRequestRequest{
		ID:       id,
		NewState: newState,
		Actor:    actor,
		Comment:  comment,
	})
	if err != nil {
		return err
	}
	return a.printTransition(updated)
}

// Approve transitions a request to approved.
func (a *RequestAdapter) Approve(ctx context.Context, id, actor, comment string) error {
	return a.shortcut(ctx, a.service.ApproveRequest, id, actor, comment)
}

// Reject transitions a request to rejected.
func (a *RequestAdapter) Reject(ctx context.Context, id, actor, comment string) error {
	return a.shortcut(ctx, a.service.RejectRequest, id, actor, comment)
}

// Cancel transitions a request to cancelled.
func (a *RequestAdapter) Cancel(ctx context.Context, id, actor, comment string) error {
	return a.shortcut(ctx, a.service.CancelRequest, id, actor, comment)
}

// Review transitions a request to in_review.
func (a *RequestAdapter) Review(ctx context.Context, id, actor, comment string) error {
	return a.shortcut(ctx, a.service.StartReview, id, actor, comment)
}

func (a *RequestAdapter) shortcut(ctx context.Context, fn func(context.Context, string, string, string) (*primary.Request, error), id, actor, comment string) error {
	updated, err := fn(ctx, id, actor, comment)
	if err != nil {
		return err
	}
	return a.printTransition(updated)
}

func (a *RequestAdapter) printTransition(req *primary.Request) error {
	if a.json {
		return a.writeJSON(req)
	}
	fmt.Fprintf(a.out, "✓ Request %s is now %s\n", req.ID, StateLabel(req.State))
	return nil
}

// Delete removes a request with its history and comments.
func (a *RequestAdapter) Delete(ctx context.Context, id string) error {
	req, err := a.service.GetRequest(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get request: %w", err)
	}

	if err := a.service.DeleteRequest(ctx, id); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "✓ Deleted request %s: %s\n", req.ID, req.Title)
	return nil
}

// Stats prints total and per-state counts.
func (a *RequestAdapter) Stats(ctx context.Context) error {
	stats, err := a.service.GetStats(ctx)
	if err != nil {
		return err
	}
	if a.json {
		return a.writeJSON(stats)
	}
	a.printStats(stats)
	return nil
}

// Dashboard prints stats followed by the most recent requests.
func (a *RequestAdapter) Dashboard(ctx context.Context, recent int) error {
	dash, err := a.service.GetDashboard(ctx, recent)
	if err != nil {
		return err
	}
	if a.json {
		return a.writeJSON(dash)
	}

	a.printStats(&dash.Stats)
	fmt.Fprintln(a.out, "\nRecent requests:")
	return a.printList(dash.Recent)
}

func (a *RequestAdapter) printStats(stats *primary.Stats) {
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Total\t%d\n", stats.Total)
	fmt.Fprintf(w, "%s\t%d\n", StateLabel(string(request.StatePending)), stats.Pending)
	fmt.Fprintf(w, "%s\t%d\n", StateLabel(string(request.StateInReview)), stats.InReview)
	fmt.Fprintf(w, "%s\t%d\n", StateLabel(string(request.StateApproved)), stats.Approved)
	fmt.Fprintf(w, "%s\t%d\n", StateLabel(string(request.StateRejected)), stats.Rejected)
	fmt.Fprintf(w, "%s\t%d\n", StateLabel(string(request.StateCancelled)), stats.Cancelled)
	w.Flush()
}

func (a *RequestAdapter) writeJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// StateLabel renders a state with its icon and colour.
func StateLabel(state string) string {
	s := request.State(state)
	switch s {
	case request.StatePending:
		return color.New(color.FgYellow).Sprint("⏳ " + s.Label())
	case request.StateInReview:
		return color.New(color.FgCyan).Sprint("🔍 " + s.Label())
	case request.StateApproved:
		return color.New(color.FgGreen).Sprint("✓ " + s.Label())
	case request.StateRejected:
		return color.New(color.FgRed).Sprint("✗ " + s.Label())
	case request.StateCancelled:
		return color.New(color.FgHiBlack).Sprint("⊘ " + s.Label())
	}
	return state
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}
