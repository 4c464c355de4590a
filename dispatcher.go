package identity

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// CodeDispatcher generates short-lived numeric codes and hands them to the
// delivery channel. Its responsibility ends once the challenge is persisted
// and the message accepted; verification lives in CodeVerifier.
type CodeDispatcher struct {
	challenges Challenges
	mailer     Mailer
	cfg        Config
	now        Clock
	logger     Logger
}

// CodeDispatcherOption customizes the dispatcher.
type CodeDispatcherOption func(*CodeDispatcher)

// WithDispatcherClock injects a custom clock.
func WithDispatcherClock(clock Clock) CodeDispatcherOption {
	return func(d *CodeDispatcher) {
		if clock != nil {
			d.now = clock
		}
	}
}

// WithDispatcherLogger overrides the dispatcher's logger.
func WithDispatcherLogger(logger Logger) CodeDispatcherOption {
	return func(d *CodeDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewCodeDispatcher wires the dispatcher.
func NewCodeDispatcher(challenges Challenges, mailer Mailer, cfg Config, opts ...CodeDispatcherOption) *CodeDispatcher {
	cfg.setDefaults()
	d := &CodeDispatcher{
		challenges: challenges,
		mailer:     mailer,
		cfg:        cfg,
		now:        time.Now,
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Send issues a fresh challenge for (email, purpose) and delivers the code.
// Any prior live challenge for the pair is invalidated first, so exactly one
// code is ever authoritative. Delivery failure surfaces as ErrDeliveryFailure
// for the caller to retry; the core does not retry.
func (d *CodeDispatcher) Send(ctx context.Context, email string, purpose CodePurpose) error {
	if !IsValidCodePurpose(purpose) {
		return goerrors.New("unknown code purpose", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"purpose": purpose})
	}

	email = NormalizeEmail(email)

	code, err := GenerateNumericCode(d.cfg.CodeLength)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate code")
	}

	now := d.now()
	challenge := &CodeChallenge{
		ID:        uuid.New(),
		Email:     email,
		Purpose:   purpose,
		Code:      code,
		Attempts:  d.cfg.CodeMaxAttempts,
		ExpiresAt: now.Add(d.cfg.CodeTTL),
		CreatedAt: now,
	}

	if _, err := d.challenges.Replace(ctx, challenge); err != nil {
		return wrapStorage(err, "failed to persist code challenge")
	}

	msg := buildCodeMessage(email, code, purpose, d.cfg.CodeTTL)
	if err := d.mailer.Send(ctx, msg); err != nil {
		d.logger.Error("code delivery failed for %s: %v", email, err)
		return goerrors.Wrap(err, ErrDeliveryFailure.Category, ErrDeliveryFailure.Message).
			WithTextCode(ErrDeliveryFailure.TextCode)
	}

	d.logger.Info("code dispatched to %s purpose=%s", email, purpose)

	return nil
}

// GenerateNumericCode returns a fixed-length numeric code drawn from
// crypto/rand. Leading zeros are preserved.
func GenerateNumericCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultCodeLength
	}

	max := big.NewInt(10)
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}

	return string(digits), nil
}

func buildCodeMessage(email, code string, purpose CodePurpose, ttl time.Duration) Message {
	var subject, intro string
	switch purpose {
	case PurposeEmailVerification:
		subject = "Verify your email address"
		intro = "Use this code to verify your email address"
	case PurposePasswordReset:
		subject = "Reset your password"
		intro = "Use this code to reset your password"
	default:
		subject = "Your sign-in code"
		intro = "Use this code to sign in"
	}

	body := fmt.Sprintf("%s: %s\n\nThe code expires in %d minutes. If you did not request it, ignore this message.",
		intro, code, int(ttl.Minutes()))

	return Message{
		To:      email,
		Subject: subject,
		Body:    body,
	}
}
