// Package notification builds the messages sent when a request is created or
// changes state. It is pure: delivery lives behind secondary.Notifier.
package notification

import (
	"fmt"
	"strings"

	"github.com/example/approvals/internal/core/request"
)

// Default mail domains appended to opaque usernames.
const (
	DefaultApproverDomain  = "gmail.com"
	DefaultRequesterDomain = "empresa.com"
)

// Message is a rendered notification ready for delivery.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Subject is the minimal view of a request the templates need.
type Subject struct {
	ID        string
	Title     string
	Requester string
	Approver  string
	Type      request.Type
	State     request.State
}

// AddressBook turns usernames into mail addresses.
// Approvers and requesters may live on different domains.
type AddressBook struct {
	ApproverDomain  string
	RequesterDomain string
}

// DefaultAddressBook returns the address book used when none is configured.
func DefaultAddressBook() AddressBook {
	return AddressBook{
		ApproverDomain:  DefaultApproverDomain,
		RequesterDomain: DefaultRequesterDomain,
	}
}

// Approver returns the address for an approver username.
func (b AddressBook) Approver(user string) string {
	return address(user, b.ApproverDomain, DefaultApproverDomain)
}

// Requester returns the address for a requester username.
func (b AddressBook) Requester(user string) string {
	return address(user, b.RequesterDomain, DefaultRequesterDomain)
}

func address(user, domain, fallback string) string {
	user = strings.TrimSpace(user)
	if strings.Contains(user, "@") {
		return user
	}
	if domain == "" {
		domain = fallback
	}
	return user + "@" + strings.TrimPrefix(domain, "@")
}

// NewRequest renders the message sent to the approver when a request is filed.
func NewRequest(book AddressBook, s Subject) Message {
	var b strings.Builder
	b.WriteString("New approval request received:\n\n")
	fmt.Fprintf(&b, "ID: %s\n", s.ID)
	fmt.Fprintf(&b, "Title: %s\n", s.Title)
	fmt.Fprintf(&b, "Requester: %s\n", s.Requester)
	fmt.Fprintf(&b, "Type: %s\n\n", s.Type.Label())
	b.WriteString("Please review and process this request.\n")

	return Message{
		To:      book.Approver(s.Approver),
		Subject: fmt.Sprintf("New approval request - %s", s.Title),
		Body:    b.String(),
	}
}

// StateChanged renders the message sent to the requester after a transition.
// The body depends on the new state; comment is appended when present.
func StateChanged(book AddressBook, s Subject, actor, comment string) Message {
	var b strings.Builder
	b.WriteString(stateHeadline(s.State))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "ID: %s\n", s.ID)
	fmt.Fprintf(&b, "Title: %s\n", s.Title)
	if actor != "" {
		fmt.Fprintf(&b, "By: %s\n", actor)
	}
	if comment = strings.TrimSpace(comment); comment != "" {
		fmt.Fprintf(&b, "Comment: %s\n", comment)
	}
	b.WriteString("\n")
	b.WriteString(stateFollowUp(s.State))
	b.WriteString("\n")

	return Message{
		To:      book.Requester(s.Requester),
		Subject: fmt.Sprintf("Request update - %s", s.Title),
		Body:    b.String(),
	}
}

func stateHeadline(s request.State) string {
	switch s {
	case request.StateApproved:
		return "Your request has been approved:"
	case request.StateRejected:
		return "Your request has been rejected:"
	case request.StateCancelled:
		return "Your request has been cancelled:"
	case request.StateInReview:
		return "Your request is now under review:"
	case request.StatePending:
		return "Your request has been returned to pending:"
	}
	return "Your request has been updated:"
}

func stateFollowUp(s request.State) string {
	switch s {
	case request.StateApproved:
		return "You may proceed with the implementation."
	case request.StateRejected:
		return "Please review the comments and file a new request with the necessary corrections."
	case request.StateCancelled:
		return "No further action will be taken on this request."
	case request.StateInReview:
		return "The approver is reviewing it; you will be notified of the decision."
	case request.StatePending:
		return "The approver may need more information before deciding."
	}
	return "Check the request for details."
}
