package service

import (
	"context"
	"errors"

	"citydesk/internal/events"
	"citydesk/internal/models"

	"github.com/sirupsen/logrus"
)

func (s *Service) ListAllocations(ctx context.Context, filter models.AllocationFilter) ([]models.Allocation, error) {
	view, ok := models.ParseAllocationView(string(filter.View))
	if !ok {
		return nil, wrap("ListAllocations", models.Validation("invalid allocation view supplied: %s, should be one of: %s, %s, %s",
			filter.View, models.AllocationsActive, models.AllocationsCompleted, models.AllocationsAll))
	}
	filter.View = view

	allocations, err := s.repo.GetAllocations(ctx, filter)
	if err != nil {
		return nil, wrap("ListAllocations", err)
	}
	return allocations, nil
}

// GetAllocation loads an allocation with its bid and task fields. An
// allocation whose bid is gone is reported as an integrity error.
func (s *Service) GetAllocation(ctx context.Context, allocationId string) (models.Allocation, error) {
	alloc, err := s.repo.GetAllocationByUUID(ctx, allocationId)
	if err != nil {
		return models.Allocation{}, wrap("GetAllocation", notFoundAs(err, models.ErrNoAllocation))
	}

	if err = s.checkOrphan(alloc); err != nil {
		return models.Allocation{}, wrap("GetAllocation", err)
	}
	return alloc, nil
}

func (s *Service) checkOrphan(alloc models.Allocation) error {
	if len(alloc.Status) > 0 {
		return nil
	}
	s.log.WithFields(logrus.Fields{
		"allocation_id": alloc.Id,
		"bid_id":        alloc.BidId,
	}).Error("allocation references a missing bid")
	return models.ErrOrphanAllocation
}

// AnnotateAllocation replaces the allocation notes. The bid and task are not touched.
func (s *Service) AnnotateAllocation(ctx context.Context, allocationId, notes string) (models.Allocation, error) {
	if err := checkLengthLimit(notes, "notes", 2000); err != nil {
		return models.Allocation{}, wrap("AnnotateAllocation", err)
	}

	alloc, err := s.GetAllocation(ctx, allocationId)
	if err != nil {
		return models.Allocation{}, wrap("AnnotateAllocation", err)
	}

	if err = s.authorize(ctx, alloc.Department, models.RoleAuthority); err != nil {
		return models.Allocation{}, wrap("AnnotateAllocation", err)
	}

	err = s.repo.UpdateAllocationNotes(ctx, alloc.Id, notes)
	if err != nil {
		return models.Allocation{}, wrap("AnnotateAllocation", notFoundAs(err, models.ErrNoAllocation))
	}

	alloc, err = s.GetAllocation(ctx, alloc.Id)
	if err != nil {
		return models.Allocation{}, wrap("AnnotateAllocation", err)
	}

	s.publish(events.Event{Type: "annotated", Entity: events.EntityAllocation, Id: alloc.Id, Department: alloc.Department, Status: string(alloc.Status)})
	return alloc, nil
}

// ActOnAllocation applies an action to the bid behind the allocation. It
// returns nil after terminate, since the allocation no longer exists.
func (s *Service) ActOnAllocation(ctx context.Context, allocationId string, action models.AllocationAction, change models.BidChange) (*models.Allocation, error) {
	status, ok := action.BidStatus()
	if !ok {
		return nil, wrap("ActOnAllocation", models.Validation("invalid allocation action supplied: %s, should be one of: %s, %s, %s, %s",
			action, models.ActionComplete, models.ActionSuspend, models.ActionResume, models.ActionTerminate))
	}

	alloc, err := s.GetAllocation(ctx, allocationId)
	if err != nil {
		return nil, wrap("ActOnAllocation", err)
	}

	_, err = s.SetBidStatus(ctx, alloc.BidId, status, change)
	if errors.Is(err, models.ErrNoBid) {
		// the bid vanished after the allocation was read
		return nil, wrap("ActOnAllocation", models.ErrOrphanAllocation)
	} else if err != nil {
		return nil, wrap("ActOnAllocation", err)
	}

	if status == models.BidTerminated {
		return nil, nil
	}

	alloc, err = s.repo.GetAllocationByBid(ctx, alloc.BidId)
	if err != nil {
		return nil, wrap("ActOnAllocation", notFoundAs(err, models.ErrNoAllocation))
	}
	return &alloc, nil
}
