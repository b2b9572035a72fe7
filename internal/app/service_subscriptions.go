package app

import (
	"context"

	"storyboard/api/internal/store"
)

var subscriptionTargets = map[string]bool{
	"project":       true,
	"project_group": true,
	"story":         true,
	"worklist":      true,
	"board":         true,
}

// CreateSubscription subscribes a user to a target resource. Non-superusers
// may only subscribe themselves, and the target must be visible to the
// subscribing user.
func (s *Service) CreateSubscription(ctx context.Context, caller Caller, sub store.Subscription) (store.Subscription, error) {
	if caller.Anonymous() {
		return store.Subscription{}, unauthorized()
	}
	if sub.UserID == 0 {
		sub.UserID = caller.ID
	}
	if sub.UserID != caller.ID && !caller.Superuser {
		return store.Subscription{}, permissionDenied()
	}
	if !subscriptionTargets[sub.TargetType] {
		return store.Subscription{}, validationError("target_type", "unknown subscription target type")
	}
	if err := s.checkSubscriptionTarget(ctx, sub.UserID, sub.TargetType, sub.TargetID); err != nil {
		return store.Subscription{}, err
	}
	return s.store.CreateSubscription(ctx, sub)
}

func (s *Service) GetSubscription(ctx context.Context, caller Caller, id int64) (store.Subscription, error) {
	if caller.Anonymous() {
		return store.Subscription{}, unauthorized()
	}
	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return store.Subscription{}, err
	}
	if sub.UserID != caller.ID && !caller.Superuser {
		return store.Subscription{}, permissionDenied()
	}
	return sub, nil
}

func (s *Service) ListSubscriptions(ctx context.Context, caller Caller, userID int64, targetType string, targetID int64, p store.Paging) ([]store.Subscription, int, error) {
	if caller.Anonymous() {
		return nil, 0, unauthorized()
	}
	if userID == 0 {
		userID = caller.ID
	}
	if userID != caller.ID && !caller.Superuser {
		return nil, 0, permissionDenied()
	}
	return s.store.ListSubscriptions(ctx, userID, targetType, targetID, p)
}

func (s *Service) DeleteSubscription(ctx context.Context, caller Caller, id int64) error {
	if _, err := s.GetSubscription(ctx, caller, id); err != nil {
		return err
	}
	return s.store.DeleteSubscription(ctx, id)
}

// ListSubscriptionEvents reads a subscriber's delivery queue. Non-superusers
// see their own queue only.
func (s *Service) ListSubscriptionEvents(ctx context.Context, caller Caller, subscriberID int64, p store.Paging) ([]store.SubscriptionEvent, int, error) {
	if caller.Anonymous() {
		return nil, 0, unauthorized()
	}
	if subscriberID == 0 {
		subscriberID = caller.ID
	}
	if subscriberID != caller.ID && !caller.Superuser {
		return nil, 0, permissionDenied()
	}
	return s.store.ListSubscriptionEvents(ctx, subscriberID, p)
}

func (s *Service) GetSubscriptionEvent(ctx context.Context, caller Caller, id int64) (store.SubscriptionEvent, error) {
	if caller.Anonymous() {
		return store.SubscriptionEvent{}, unauthorized()
	}
	ev, err := s.store.GetSubscriptionEvent(ctx, id)
	if err != nil {
		return store.SubscriptionEvent{}, err
	}
	if ev.SubscriberID != caller.ID && !caller.Superuser {
		return store.SubscriptionEvent{}, permissionDenied()
	}
	return ev, nil
}

// DeleteSubscriptionEvent acknowledges a delivery, removing it from the
// queue.
func (s *Service) DeleteSubscriptionEvent(ctx context.Context, caller Caller, id int64) error {
	if _, err := s.GetSubscriptionEvent(ctx, caller, id); err != nil {
		return err
	}
	return s.store.DeleteSubscriptionEvent(ctx, id)
}

func (s *Service) checkSubscriptionTarget(ctx context.Context, userID int64, targetType string, targetID int64) error {
	var err error
	switch targetType {
	case "project":
		_, err = s.store.GetProject(ctx, targetID)
	case "project_group":
		_, err = s.store.GetProjectGroup(ctx, targetID)
	case "story":
		_, err = s.store.GetStory(ctx, targetID, userID)
	case "worklist":
		_, err = s.store.GetWorklist(ctx, targetID, userID)
	case "board":
		_, err = s.store.GetBoard(ctx, targetID, userID)
	}
	return err
}
