package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"pharmacy-delivery/internal/config"
	"pharmacy-delivery/internal/metrics"
	"pharmacy-delivery/internal/mylogger"
	messagebrokerdto "pharmacy-delivery/internal/tracking-service/core/domain/message_broker_dto"
	"pharmacy-delivery/internal/tracking-service/core/domain/model"
	"pharmacy-delivery/internal/tracking-service/core/myerrors"
	"pharmacy-delivery/internal/tracking-service/core/ports/driven"
	"pharmacy-delivery/internal/tracking-service/core/ports/driver"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// VerificationService issues and checks handoff codes. Codes are stored as bcrypt hashes;
// the plaintext only travels to the customer notifier.
type VerificationService struct {
	mylog      mylogger.Logger
	deliveries driven.IDeliveryRepo
	codes      driven.IVerificationRepo
	notifier   driven.ICodeNotifier
	metrics    *metrics.Metrics
	cfg        *config.Trackingconfig
	locks      *keyLock
	dummyHash  []byte
	now        func() time.Time
}

var _ driver.IVerificationService = (*VerificationService)(nil)

func NewVerificationService(deps Deps) (*VerificationService, error) {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	// Compared against when no code exists so every failure costs one bcrypt comparison.
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), deps.Cfg.CodeHashCost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}

	return &VerificationService{
		mylog:      deps.Log,
		deliveries: deps.Deliveries,
		codes:      deps.Verifications,
		notifier:   deps.Codes,
		metrics:    deps.Metrics,
		cfg:        deps.Cfg,
		locks:      deps.keyLock(),
		dummyHash:  dummy,
		now:        now,
	}, nil
}

// Issue generates a new code and invalidates any earlier open one.
func (vs *VerificationService) Issue(ctx context.Context, deliveryID string) (driver.CodeReceipt, error) {
	unlock := vs.locks.Lock(deliveryID)
	defer unlock()

	d, err := vs.handoffDelivery(ctx, deliveryID)
	if err != nil {
		return driver.CodeReceipt{}, err
	}
	return vs.issueLocked(ctx, d)
}

// EnsureIssued is idempotent per handoff attempt: an open unexpired code is kept as is.
func (vs *VerificationService) EnsureIssued(ctx context.Context, deliveryID string) error {
	unlock := vs.locks.Lock(deliveryID)
	defer unlock()

	d, err := vs.handoffDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	open, err := vs.codes.Open(ctx, deliveryID)
	switch {
	case err == nil && open.Usable(vs.now()):
		return nil
	case err != nil && !errors.Is(err, myerrors.ErrNoOpenCode):
		return err
	}

	consumed, err := vs.codes.HasConsumed(ctx, deliveryID)
	if err != nil {
		return err
	}
	if consumed {
		return nil
	}

	_, err = vs.issueLocked(ctx, d)
	return err
}

// Resend re-issues a fresh code, at most CodeResendLimit times per handoff.
func (vs *VerificationService) Resend(ctx context.Context, deliveryID string) (driver.CodeReceipt, error) {
	log := vs.mylog.Action("ResendCode")

	unlock := vs.locks.Lock(deliveryID)
	defer unlock()

	d, err := vs.handoffDelivery(ctx, deliveryID)
	if err != nil {
		return driver.CodeReceipt{}, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	issued, err := vs.codes.CountIssued(ctx, deliveryID)
	if err != nil {
		return driver.CodeReceipt{}, err
	}
	// The first code is issued on arrival; every later one is a resend.
	if issued > vs.cfg.CodeResendLimit {
		log.Warn("resend limit reached", "delivery_id", deliveryID, "issued", issued)
		return driver.CodeReceipt{}, myerrors.ErrResendLimit
	}

	return vs.issueLocked(ctx, d)
}

func (vs *VerificationService) issueLocked(ctx context.Context, d model.Delivery) (driver.CodeReceipt, error) {
	log := vs.mylog.Action("IssueCode")

	code, err := generateCode(vs.cfg.CodeLength)
	if err != nil {
		return driver.CodeReceipt{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), vs.cfg.CodeHashCost)
	if err != nil {
		return driver.CodeReceipt{}, fmt.Errorf("hash code: %w", err)
	}

	now := vs.now().UTC()
	vc := model.VerificationCode{
		ID:         uuid.NewString(),
		DeliveryID: d.ID,
		CodeHash:   hash,
		IssuedAt:   now,
		ExpiresAt:  now.Add(vs.cfg.CodeExpiry),
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := vs.codes.Issue(ctx, vc); err != nil {
		log.Error("cannot store verification code", err, "delivery_id", d.ID)
		return driver.CodeReceipt{}, err
	}

	ev := messagebrokerdto.VerificationIssued{
		DeliveryID: d.ID,
		OrderID:    d.OrderID,
		CustomerID: d.CustomerID,
		Code:       code,
		ExpiresAt:  vc.ExpiresAt,
	}
	if err := vs.notifier.SendCode(ctx, ev); err != nil {
		log.Error("cannot hand code to customer channel", err, "delivery_id", d.ID)
		return driver.CodeReceipt{}, err
	}

	issued, err := vs.codes.CountIssued(ctx, d.ID)
	if err != nil {
		return driver.CodeReceipt{}, err
	}

	log.Info("verification code issued", "delivery_id", d.ID, "code_id", vc.ID, "expires_at", vc.ExpiresAt)
	vs.metrics.VerificationsTotal.WithLabelValues("issued").Inc()

	return driver.CodeReceipt{
		DeliveryID:       d.ID,
		ExpiresAt:        vc.ExpiresAt,
		ResendsRemaining: max(0, vs.cfg.CodeResendLimit+1-issued),
	}, nil
}

// Verify consumes the open code if submitted matches. Every failure returns ErrInvalidCode;
// the cause only goes to the audit log.
func (vs *VerificationService) Verify(ctx context.Context, deliveryID, submitted string, actor model.Actor) error {
	log := vs.mylog.Action("VerifyCode").With("delivery_id", deliveryID, "actor_id", actor.ID, "role", actor.Role)

	unlock := vs.locks.Lock(deliveryID)
	defer unlock()

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	d, err := vs.deliveries.Get(ctx, deliveryID)
	if err != nil {
		return err
	}
	if d.Status == model.StatusCancelled {
		return myerrors.ErrDeliveryNotActive
	}

	submitted = strings.TrimSpace(submitted)
	now := vs.now()

	if d.Status != model.StatusArrivedAtDropoff {
		return vs.reject(log, "not_at_dropoff", 0)
	}

	code, err := vs.codes.Open(ctx, deliveryID)
	if errors.Is(err, myerrors.ErrNoOpenCode) {
		return vs.reject(log, "no_code", 0)
	}
	if err != nil {
		return err
	}

	matches := isCodeFormat(submitted, vs.cfg.CodeLength) &&
		bcrypt.CompareHashAndPassword(code.CodeHash, []byte(submitted)) == nil

	if !now.Before(code.ExpiresAt) {
		return vs.reject(log, "expired", code.FailedAttempts)
	}

	if !matches {
		attempts, burned, err := vs.codes.RecordFailure(ctx, code.ID, vs.cfg.MaxVerifyAttempts, now.UTC())
		if err != nil {
			log.Error("cannot record failed attempt", err)
		}
		reason := "mismatch"
		if burned {
			reason = "attempts_exhausted"
		}
		return vs.reject(log, reason, attempts)
	}

	if err := vs.codes.Consume(ctx, code.ID, now.UTC()); err != nil {
		if errors.Is(err, myerrors.ErrInvalidCode) {
			return vs.reject(log, "consumed", code.FailedAttempts)
		}
		return err
	}

	vs.metrics.VerificationsTotal.WithLabelValues("verified").Inc()
	log.Info("handoff verified", "code_id", code.ID)
	return nil
}

func (vs *VerificationService) reject(log mylogger.Logger, reason string, attempts int) error {
	if reason == "no_code" || reason == "not_at_dropoff" {
		// Keep the failure path as expensive as a real comparison.
		_ = bcrypt.CompareHashAndPassword(vs.dummyHash, []byte("000000"))
	}
	vs.metrics.VerificationsTotal.WithLabelValues("rejected").Inc()
	log.Warn("verification_failed", "reason", reason, "failed_attempts", attempts)
	return myerrors.ErrInvalidCode
}

// handoffDelivery loads the delivery and checks it is waiting at the dropoff.
func (vs *VerificationService) handoffDelivery(ctx context.Context, deliveryID string) (model.Delivery, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	d, err := vs.deliveries.Get(ctx, deliveryID)
	if err != nil {
		return model.Delivery{}, err
	}
	if d.Status.IsTerminal() {
		return model.Delivery{}, myerrors.ErrDeliveryNotActive
	}
	if d.Status != model.StatusArrivedAtDropoff {
		return model.Delivery{}, myerrors.ErrHandoffNotStarted
	}
	return d, nil
}

func generateCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

func isCodeFormat(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
