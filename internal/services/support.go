package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/ports"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Decimals reach validators in their exact string form. Quantities use
	// the positive tag; a float conversion would round tiny amounts to zero.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	if err := v.RegisterValidation("positive", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && d.IsPositive()
	}); err != nil {
		panic("register positive validation: " + err.Error())
	}

	if err := v.RegisterValidation("location", func(fl validator.FieldLevel) bool {
		_, ok := domain.ParseLocation(fl.Field().String())
		return ok
	}); err != nil {
		panic("register location validation: " + err.Error())
	}

	return v
}

// validateInput runs struct validation and reports the first failing field
// as a domain validation error.
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return domain.NewValidationError(fe.Namespace(), "failed %s=%s", fe.Tag(), fe.Param())
		}
		return domain.NewValidationError(fe.Namespace(), "failed %s", fe.Tag())
	}
	return domain.NewValidationError("", "%v", err)
}

func newID() string { return uuid.NewString() }

// Units that lose an optimistic write are rerun this many times before the
// conflict reaches the caller.
const conflictAttempts = 3

// withinTxRetry runs fn in a unit of work, rerunning it from scratch when
// the commit loses to a concurrent writer. fn must rebuild all of its
// results on each run.
func withinTxRetry(ctx context.Context, store ports.Store, fn func(ctx context.Context, tx ports.Tx) error) error {
	var err error
	for attempt := 0; attempt < conflictAttempts; attempt++ {
		err = store.WithinTx(ctx, fn)
		if !errors.Is(err, domain.ErrConflict) {
			return err
		}
	}
	return err
}

// notifyAll dispatches status changes after a commit. Failures are logged
// and never affect the caller.
func notifyAll(ctx context.Context, n ports.Notifier, log *zap.Logger, changes []domain.StatusChange) {
	if n == nil {
		return
	}
	for _, c := range changes {
		if err := n.NotifyStatusChange(ctx, c); err != nil {
			log.Warn("status change notification failed",
				zap.String("entity", c.Entity),
				zap.String("entity_id", c.EntityID),
				zap.String("status", c.Status),
				zap.Error(err),
			)
		}
	}
}

func requestChange(r *domain.Request) domain.StatusChange {
	return domain.StatusChange{
		Entity:   "request",
		EntityID: r.ID,
		UserID:   r.RequesterID,
		BranchID: r.AcceptedBranchID,
		Status:   string(r.Status),
	}
}

func offerChange(o *domain.Offer) domain.StatusChange {
	return domain.StatusChange{Entity: "offer", EntityID: o.ID, BranchID: o.BranchID, Status: string(o.Status)}
}

func deliveryChange(d *domain.DeliveryRequest) domain.StatusChange {
	return domain.StatusChange{Entity: "delivery_request", EntityID: d.ID, BranchID: d.HomeBranchID(), Status: string(d.Status)}
}

func routeChange(r *domain.ScheduledRoute) domain.StatusChange {
	return domain.StatusChange{
		Entity:   "route",
		EntityID: r.ID,
		UserID:   r.DriverID,
		BranchID: r.HomeBranchID,
		Status:   string(r.Status),
	}
}

// sourceRequestIDs returns the distinct parent request ids of deliveries, sorted.
func sourceRequestIDs(drs []*domain.DeliveryRequest) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(drs))
	for _, d := range drs {
		id := d.Source.RequestID
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
