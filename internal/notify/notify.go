// Package notify delivers task lifecycle events to household members as web
// push notifications. Delivery is best-effort: failures are logged and never
// surfaced to the operation that produced the event.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/dukerupert/questboard/internal/model"
	"github.com/dukerupert/questboard/internal/push"
	"github.com/dukerupert/questboard/internal/store"
)

type PushNotifier struct {
	members *store.MemberStore
	subs    *store.PushStore
	service *push.Service
	logger  *slog.Logger
}

func NewPushNotifier(members *store.MemberStore, subs *store.PushStore, service *push.Service, logger *slog.Logger) *PushNotifier {
	return &PushNotifier{
		members: members,
		subs:    subs,
		service: service,
		logger:  logger.With("component", "notify"),
	}
}

// TaskSubmitted notifies parents of the house that a task is awaiting review.
func (n *PushNotifier) TaskSubmitted(ctx context.Context, task *model.Task) {
	members, err := n.members.ListByHouse(task.HouseID)
	if err != nil {
		n.logger.Error("list house members for notification", "error", err, "house_id", task.HouseID)
		return
	}

	payload := push.Payload{
		Title: "Quest submitted",
		Body:  fmt.Sprintf("%q is waiting for your approval", task.Title),
		URL:   fmt.Sprintf("/tasks/%d", task.ID),
		Tag:   fmt.Sprintf("task-%d", task.ID),
	}

	for _, m := range members {
		if m.Role != model.RoleParent {
			continue
		}
		n.sendToMember(m.ID, payload)
	}
}

// TaskApproved notifies the assignee that their submission was accepted.
func (n *PushNotifier) TaskApproved(ctx context.Context, task *model.Task) {
	if task.AssignedTo == nil {
		return
	}
	n.sendToMember(*task.AssignedTo, push.Payload{
		Title: "Quest approved",
		Body:  fmt.Sprintf("%q earned you %d points", task.Title, task.RewardPoints),
		URL:   fmt.Sprintf("/tasks/%d", task.ID),
		Tag:   fmt.Sprintf("task-%d", task.ID),
	})
}

// TaskRejected notifies the assignee that their submission was sent back.
func (n *PushNotifier) TaskRejected(ctx context.Context, task *model.Task) {
	if task.AssignedTo == nil {
		return
	}
	body := fmt.Sprintf("%q needs another attempt", task.Title)
	if task.RejectionReason != "" {
		body = fmt.Sprintf("%q needs another attempt: %s", task.Title, task.RejectionReason)
	}
	n.sendToMember(*task.AssignedTo, push.Payload{
		Title: "Quest rejected",
		Body:  body,
		URL:   fmt.Sprintf("/tasks/%d", task.ID),
		Tag:   fmt.Sprintf("task-%d", task.ID),
	})
}

// sendToMember pushes a payload to every subscription the member has
// registered and prunes subscriptions the push service reports as gone.
func (n *PushNotifier) sendToMember(memberID int64, payload push.Payload) {
	subs, err := n.subs.ListByUser(memberID)
	if err != nil {
		n.logger.Error("list push subscriptions", "error", err, "member_id", memberID)
		return
	}

	var errs error
	for _, sub := range subs {
		err := n.service.Send(&sub, payload)
		if err == push.ErrExpired {
			if delErr := n.subs.DeleteByEndpoint(sub.Endpoint); delErr != nil {
				errs = multierr.Append(errs, fmt.Errorf("prune expired subscription: %w", delErr))
			}
			continue
		}
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if errs != nil {
		n.logger.Warn("push delivery incomplete", "error", errs, "member_id", memberID)
	}
}
