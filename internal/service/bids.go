package service

import (
	"context"
	"strings"

	"citydesk/internal/events"
	"citydesk/internal/models"
)

func (s *Service) PlaceBid(ctx context.Context, bid models.Bid) (models.Bid, error) {
	var err error

	bid.TaskId = strings.TrimSpace(bid.TaskId)
	if len(bid.TaskId) == 0 {
		return models.Bid{}, wrap("PlaceBid", models.Validation("field 'task_id' is required"))
	}
	if err = checkAmount(bid.Amount); err != nil {
		return models.Bid{}, wrap("PlaceBid", err)
	}

	// providers bid under the name from their token
	if actor, ok := models.ActorFromContext(ctx); ok && actor.Role == models.RoleProvider {
		if len(strings.TrimSpace(bid.ProviderName)) > 0 && strings.TrimSpace(bid.ProviderName) != actor.Name {
			return models.Bid{}, wrap("PlaceBid", &models.Error{Kind: models.ErrForbidden, Msg: "providers can only bid under their own name"})
		}
		bid.ProviderName = actor.Name
	}
	if bid.ProviderName, err = requireText(bid.ProviderName, "provider_name", 100); err != nil {
		return models.Bid{}, wrap("PlaceBid", err)
	}

	if err = s.authorize(ctx, "", models.RoleProvider); err != nil {
		return models.Bid{}, wrap("PlaceBid", err)
	}

	task, err := s.repo.GetTaskByUUID(ctx, bid.TaskId)
	if err != nil {
		return models.Bid{}, wrap("PlaceBid", notFoundAs(err, models.ErrNoTask))
	}

	if len(bid.Department) == 0 {
		bid.Department = task.Department
	} else {
		if bid.Department, err = s.ParseDepartment(string(bid.Department)); err != nil {
			return models.Bid{}, wrap("PlaceBid", err)
		}
		if bid.Department != task.Department {
			return models.Bid{}, wrap("PlaceBid", models.Validation("bid department %s does not match task department %s", bid.Department, task.Department))
		}
	}

	if task.Status != models.TaskAvailable {
		return models.Bid{}, wrap("PlaceBid", models.ErrTaskUnavailable)
	}

	bid, err = s.repo.AddBid(ctx, bid)
	if err != nil {
		return models.Bid{}, wrap("PlaceBid", err)
	}

	s.publish(events.Event{Type: "placed", Entity: events.EntityBid, Id: bid.Id, Department: bid.Department, Status: string(bid.Status)})
	return bid, nil
}

func (s *Service) ListBids(ctx context.Context, filter models.BidFilter) ([]models.Bid, error) {
	if len(filter.Status) > 0 && !models.ValidBidStatus(filter.Status) {
		return nil, wrap("ListBids", models.Validation("invalid bid status supplied: %s", filter.Status))
	}
	bids, err := s.repo.GetBids(ctx, filter)
	if err != nil {
		return nil, wrap("ListBids", err)
	}
	return bids, nil
}

func (s *Service) GetBid(ctx context.Context, bidId string) (models.Bid, error) {
	bid, err := s.repo.GetBidByUUID(ctx, bidId)
	if err != nil {
		return models.Bid{}, wrap("GetBid", notFoundAs(err, models.ErrNoBid))
	}
	return bid, nil
}

func (s *Service) BidHistory(ctx context.Context, bidId string) ([]models.BidTransition, error) {
	_, err := s.repo.GetBidByUUID(ctx, bidId)
	if err != nil {
		return nil, wrap("BidHistory", notFoundAs(err, models.ErrNoBid))
	}

	history, err := s.repo.GetBidHistory(ctx, bidId)
	if err != nil {
		return nil, wrap("BidHistory", err)
	}
	return history, nil
}

// SetBidStatus moves a bid along its lifecycle. Approving a pending bid
// creates its allocation, terminating removes it.
func (s *Service) SetBidStatus(ctx context.Context, bidId string, status models.BidStatus, change models.BidChange) (models.Bid, error) {
	if !models.ValidBidStatus(status) {
		return models.Bid{}, wrap("SetBidStatus", models.Validation("invalid bid status supplied: %s", status))
	}
	if status == models.BidPending {
		return models.Bid{}, wrap("SetBidStatus", models.Validation("bids cannot be moved back to %s", models.BidPending))
	}

	bid, err := s.repo.GetBidByUUID(ctx, bidId)
	if err != nil {
		return models.Bid{}, wrap("SetBidStatus", notFoundAs(err, models.ErrNoBid))
	}

	if err = s.authorize(ctx, bid.Department, models.RoleAuthority); err != nil {
		return models.Bid{}, wrap("SetBidStatus", err)
	}

	if bid.Status.Terminal() {
		return models.Bid{}, wrap("SetBidStatus", models.ErrBidFinalized)
	}
	if !models.BidTransitionAllowed(bid.Status, status) {
		return models.Bid{}, wrap("SetBidStatus", models.Conflict("bid cannot move from %s to %s", bid.Status, status))
	}

	next, err := applyChange(bid, status, change)
	if err != nil {
		return models.Bid{}, wrap("SetBidStatus", err)
	}

	from := bid.Status
	// terminate deletes the allocation, so its id has to be read first
	var removedId string
	if status == models.BidTerminated && from.Allocated() {
		removedId = s.allocationId(ctx, bid.Id)
	}

	bid, err = s.repo.TransitionBid(ctx, next, from)
	if err != nil {
		return models.Bid{}, wrap("SetBidStatus", err)
	}

	s.publish(events.Event{Type: "status_changed", Entity: events.EntityBid, Id: bid.Id, Department: bid.Department, Status: string(bid.Status)})

	allocationEvent := func(typ, id string) {
		s.publish(events.Event{Type: typ, Entity: events.EntityAllocation, Id: id, BidId: bid.Id, Department: bid.Department, Status: string(bid.Status)})
	}
	switch {
	case from == models.BidPending && bid.Status == models.BidApproved:
		allocationEvent("created", s.allocationId(ctx, bid.Id))
	case bid.Status == models.BidTerminated && from.Allocated():
		allocationEvent("removed", removedId)
	case from.Allocated():
		allocationEvent("status_changed", s.allocationId(ctx, bid.Id))
	}

	return bid, nil
}

// allocationId looks up the allocation of a bid for event payloads. A failed
// lookup is logged and leaves the id empty; subscribers still get the bid id.
func (s *Service) allocationId(ctx context.Context, bidId string) string {
	alloc, err := s.repo.GetAllocationByBid(ctx, bidId)
	if err != nil {
		s.log.WithField("bid_id", bidId).Warnf("allocation lookup for event failed: %v", err)
		return ""
	}
	return alloc.Id
}

// applyChange checks the payload a transition needs and returns the bid as it
// should be stored. The reason is kept only for reject, suspend and terminate.
func applyChange(bid models.Bid, status models.BidStatus, change models.BidChange) (models.Bid, error) {
	reason := strings.TrimSpace(change.Reason)
	if err := checkLengthLimit(reason, "reason", 1000); err != nil {
		return bid, err
	}

	bid.Status = status
	bid.Reason = ""

	switch status {
	case models.BidRejected:
		bid.Reason = reason
	case models.BidSuspended, models.BidTerminated:
		if len(reason) == 0 {
			return bid, models.Validation("field 'reason' is required to move a bid to %s", status)
		}
		bid.Reason = reason
	case models.BidCompleted:
		if change.CompletedDate == nil || change.CompletedDate.IsZero() {
			return bid, models.Validation("field 'completed_date' is required to complete a bid")
		}
		bid.CompletedDate = change.CompletedDate
	}

	return bid, nil
}
