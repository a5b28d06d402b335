package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"pharmacy-delivery/internal/tracking-service/core/domain/model"
	"pharmacy-delivery/internal/tracking-service/core/myerrors"
	"pharmacy-delivery/internal/tracking-service/core/ports/driven"
)

type VerificationRepo struct {
	mu    sync.Mutex
	codes map[string][]*model.VerificationCode
}

var _ driven.IVerificationRepo = (*VerificationRepo)(nil)

func NewVerificationRepo() *VerificationRepo {
	return &VerificationRepo{codes: make(map[string][]*model.VerificationCode)}
}

func copyCode(c *model.VerificationCode) model.VerificationCode {
	out := *c
	out.CodeHash = slices.Clone(c.CodeHash)
	return out
}

func (r *VerificationRepo) find(codeID string) *model.VerificationCode {
	for _, list := range r.codes {
		for _, c := range list {
			if c.ID == codeID {
				return c
			}
		}
	}
	return nil
}

func (r *VerificationRepo) Issue(ctx context.Context, c model.VerificationCode) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	at := c.IssuedAt
	for _, old := range r.codes[c.DeliveryID] {
		if old.ConsumedAt == nil && old.InvalidatedAt == nil {
			old.InvalidatedAt = &at
		}
	}
	stored := copyCode(&c)
	r.codes[c.DeliveryID] = append(r.codes[c.DeliveryID], &stored)
	return nil
}

func (r *VerificationRepo) Open(ctx context.Context, deliveryID string) (model.VerificationCode, error) {
	if err := ctxErr(ctx); err != nil {
		return model.VerificationCode{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.codes[deliveryID]
	for i := len(list) - 1; i >= 0; i-- {
		c := list[i]
		if c.ConsumedAt == nil && c.InvalidatedAt == nil {
			return copyCode(c), nil
		}
	}
	return model.VerificationCode{}, myerrors.ErrNoOpenCode
}

func (r *VerificationRepo) RecordFailure(ctx context.Context, codeID string, maxAttempts int, at time.Time) (int, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.find(codeID)
	if c == nil || c.ConsumedAt != nil || c.InvalidatedAt != nil {
		return 0, false, myerrors.ErrNoOpenCode
	}
	c.FailedAttempts++
	if c.FailedAttempts >= maxAttempts {
		c.InvalidatedAt = &at
		return c.FailedAttempts, true, nil
	}
	return c.FailedAttempts, false, nil
}

func (r *VerificationRepo) Consume(ctx context.Context, codeID string, at time.Time) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.find(codeID)
	if c == nil || c.ConsumedAt != nil || c.InvalidatedAt != nil || !at.Before(c.ExpiresAt) {
		return myerrors.ErrInvalidCode
	}
	c.ConsumedAt = &at
	return nil
}

func (r *VerificationRepo) HasConsumed(ctx context.Context, deliveryID string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.codes[deliveryID] {
		if c.ConsumedAt != nil {
			return true, nil
		}
	}
	return false, nil
}

func (r *VerificationRepo) CountIssued(ctx context.Context, deliveryID string) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codes[deliveryID]), nil
}

func (r *VerificationRepo) InvalidateAll(ctx context.Context, deliveryID string, at time.Time) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.codes[deliveryID] {
		if c.ConsumedAt == nil && c.InvalidatedAt == nil {
			c.InvalidatedAt = &at
		}
	}
	return nil
}
