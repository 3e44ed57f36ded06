package services

import (
	"context"
	"sort"

	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/platform/obs"
	"donation-logistics-service/internal/ports"
)

// DeliveryGrouper proposes which open delivery legs could share a route.
// It never writes.
type DeliveryGrouper struct {
	store ports.Store
}

func NewDeliveryGrouper(store ports.Store) *DeliveryGrouper {
	return &DeliveryGrouper{store: store}
}

// GroupPendingDeliveryRequests groups the PENDING legs not yet on a route.
// deliveryType and branchID narrow the input when set; branchID matches
// the leg's home branch.
func (g *DeliveryGrouper) GroupPendingDeliveryRequests(
	ctx context.Context,
	deliveryType *domain.DeliveryType,
	branchID string,
) (groups [][]domain.DeliveryRequest, err error) {
	defer obs.Time(ctx, "grouper.GroupPending")(&err)

	var open []domain.DeliveryRequest
	err = g.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		drs, err := tx.Deliveries().ListByStatus(ctx, domain.DeliveryPending)
		if err != nil {
			return err
		}
		for _, d := range drs {
			if d.RouteID != "" {
				continue
			}
			if deliveryType != nil && d.Type != *deliveryType {
				continue
			}
			if branchID != "" && d.HomeBranchID() != branchID {
				continue
			}
			open = append(open, *d)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("group pending delivery requests", err)
	}

	return GroupDeliveryRequests(open), nil
}

// GroupDeliveryRequests partitions legs by home branch. Branch-to-aid legs
// always travel alone. Members are ordered by window start then id, groups
// by home branch then first member id, so the same input always yields the
// same output.
func GroupDeliveryRequests(drs []domain.DeliveryRequest) [][]domain.DeliveryRequest {
	byHome := map[string][]domain.DeliveryRequest{}
	var groups [][]domain.DeliveryRequest

	for _, d := range drs {
		if d.Type == domain.BranchToAid {
			groups = append(groups, []domain.DeliveryRequest{d})
			continue
		}
		home := d.HomeBranchID()
		byHome[home] = append(byHome[home], d)
	}
	for _, members := range byHome {
		groups = append(groups, members)
	}

	for _, members := range groups {
		sort.Slice(members, func(i, j int) bool {
			a, b := members[i], members[j]
			if !a.Window.Start.Equal(b.Window.Start) {
				return a.Window.Start.Before(b.Window.Start)
			}
			return a.ID < b.ID
		})
	}
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i][0], groups[j][0]
		if a.HomeBranchID() != b.HomeBranchID() {
			return a.HomeBranchID() < b.HomeBranchID()
		}
		return a.ID < b.ID
	})

	return groups
}
