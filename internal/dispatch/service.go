package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/Sidrek1992/CFT-App-sub001/internal/gmail"
	"github.com/Sidrek1992/CFT-App-sub001/internal/google"
	"github.com/Sidrek1992/CFT-App-sub001/internal/instrumentation"
	"github.com/Sidrek1992/CFT-App-sub001/internal/logging"
	"github.com/Sidrek1992/CFT-App-sub001/internal/observability"
	"github.com/Sidrek1992/CFT-App-sub001/internal/ratelimit"
	"github.com/Sidrek1992/CFT-App-sub001/internal/session"
)

// Call timeouts.
const (
	// DefaultSendTimeout bounds token refresh plus the provider send.
	DefaultSendTimeout = 30 * time.Second

	// DefaultStoreTimeout bounds each ownership check and audit write.
	DefaultStoreTimeout = 10 * time.Second
)

// Officials answers ownership questions about recipient records.
type Officials interface {
	OfficialOwnedBy(ctx context.Context, userID, officialID string) (bool, error)
}

// Audit records that a user has sent mail to an official.
type Audit interface {
	MarkSent(ctx context.Context, userID, officialID string, at time.Time) error
}

// Limiter admits or denies a call for a key.
type Limiter interface {
	Consume(key string, limit int, window time.Duration) ratelimit.Decision
}

// Sender delivers a composed message through the provider.
type Sender interface {
	SendRaw(ctx context.Context, raw string) (string, error)
}

// SenderFactory builds a Sender authorized by ts.
type SenderFactory func(ctx context.Context, ts oauth2.TokenSource) (Sender, error)

// TokenSourcer turns a stored token into a source that refreshes it.
type TokenSourcer interface {
	TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource
}

// Result is a successful dispatch.
type Result struct {
	ID        string `json:"id"`
	RequestID string `json:"requestId,omitempty"`

	// Refreshed carries the new token set when the provider token had to be
	// refreshed to send. The caller must issue a new session with it.
	Refreshed *session.TokenSet `json:"-"`
}

// Config wires a Service.
type Config struct {
	Officials Officials // optional; without it officialId is not checked
	Audit     Audit     // optional; without it nothing is recorded
	Limiter   Limiter
	Tokens    TokenSourcer
	NewSender SenderFactory
	Composer  *gmail.Composer

	Limit  int           // defaults to ratelimit.SendLimit
	Window time.Duration // defaults to ratelimit.SendWindow

	SendTimeout  time.Duration // defaults to DefaultSendTimeout
	StoreTimeout time.Duration // defaults to DefaultStoreTimeout

	Metrics     *instrumentation.Metrics
	AuditLogger *instrumentation.AuditLogger
	Now         func() time.Time
}

// Service runs the dispatch pipeline: authenticate, sanitize, check
// ownership, rate limit, compose, send, audit. A step only runs when every
// step before it succeeded, and nothing is recorded for a message the
// provider did not accept.
type Service struct {
	officials Officials
	audit     Audit
	limiter   Limiter
	tokens    TokenSourcer
	newSender SenderFactory
	composer  *gmail.Composer
	limit     int
	window    time.Duration

	sendTimeout  time.Duration
	storeTimeout time.Duration

	metrics     *instrumentation.Metrics
	auditLogger *instrumentation.AuditLogger
	now         func() time.Time
}

// NewService validates cfg and returns a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Limiter == nil {
		return nil, errors.New("dispatch: limiter is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("dispatch: token sourcer is required")
	}
	if cfg.NewSender == nil {
		return nil, errors.New("dispatch: sender factory is required")
	}

	s := &Service{
		officials:    cfg.Officials,
		audit:        cfg.Audit,
		limiter:      cfg.Limiter,
		tokens:       cfg.Tokens,
		newSender:    cfg.NewSender,
		composer:     cfg.Composer,
		limit:        cfg.Limit,
		window:       cfg.Window,
		sendTimeout:  cfg.SendTimeout,
		storeTimeout: cfg.StoreTimeout,
		metrics:      cfg.Metrics,
		auditLogger:  cfg.AuditLogger,
		now:          cfg.Now,
	}
	if s.composer == nil {
		s.composer = gmail.NewComposer()
	}
	if s.limit <= 0 {
		s.limit = ratelimit.SendLimit
	}
	if s.window <= 0 {
		s.window = ratelimit.SendWindow
	}
	if s.sendTimeout <= 0 {
		s.sendTimeout = DefaultSendTimeout
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = DefaultStoreTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Send runs the pipeline for the session holder. sess is nil when the
// request carried no valid session. Failures are *Error values.
func (s *Service) Send(ctx context.Context, sess *session.Session, raw []byte) (Result, error) {
	requestID := observability.RequestID(ctx)
	logger := logging.WithOperation(observability.Logger(ctx), "gmail.send")
	event := instrumentation.NewDispatchEvent(requestID)

	ctx, span := instrumentation.StartDispatchSpan(ctx,
		instrumentation.NewSpanAttributeBuilder().WithRequestID(requestID).Build()...)
	defer span.End()

	res, err := s.send(ctx, sess, raw, event)

	outcome := instrumentation.OutcomeSent
	var code string
	if err != nil {
		de, ok := AsError(err)
		if !ok {
			de = ErrInternal(err)
			err = de
		}
		outcome = de.Kind.String()
		code = de.Code
		s.logRejection(logger, sess, de)
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	event.WithSpanContext(ctx).Complete(outcome, code, res.ID)
	var email string
	if sess != nil {
		email = sess.Email
	}
	s.metrics.RecordDispatch(ctx, outcome, email, event.Duration)
	s.auditLogger.LogDispatch(event)

	if err != nil {
		return Result{}, err
	}
	res.RequestID = requestID
	return res, nil
}

func (s *Service) send(ctx context.Context, sess *session.Session, raw []byte, event *instrumentation.DispatchEvent) (Result, error) {
	if sess == nil || sess.UserID == "" {
		return Result{}, ErrNotAuthenticated()
	}
	event.WithUser(sess.UserID, sess.Email)

	req, err := Sanitize(raw)
	if err != nil {
		return Result{}, err
	}
	event.WithMessage(req.To, req.OfficialID, len(req.Attachments))

	if req.OfficialID != "" && s.officials != nil {
		checkCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		owned, err := s.officials.OfficialOwnedBy(checkCtx, sess.UserID, req.OfficialID)
		cancel()
		if err != nil {
			return Result{}, ErrInternal(fmt.Errorf("failed to check official ownership: %w", err))
		}
		if !owned {
			return Result{}, ErrOfficialNotFound()
		}
	}

	decision := s.limiter.Consume(ratelimit.Key(ratelimit.ActionSend, sess.UserID), s.limit, s.window)
	if !decision.Allowed {
		s.metrics.RecordRateLimitDenied(ctx, ratelimit.ActionSend)
		return Result{}, ErrRateLimited(decision.RetryAfter)
	}

	message := s.composer.Compose(gmail.Message{
		To:          req.To,
		Cc:          req.Cc,
		Subject:     req.Subject,
		HTML:        gmail.RenderHTMLBody(req.Body),
		Attachments: req.Attachments,
	})

	id, refreshed, err := s.deliver(ctx, sess, gmail.EncodeRaw(message))
	if err != nil {
		return Result{}, err
	}

	if req.OfficialID != "" && s.audit != nil {
		// The record must outlive a client that hangs up once the mail is out.
		auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
		err := s.audit.MarkSent(auditCtx, sess.UserID, req.OfficialID, s.now())
		cancel()
		if err != nil {
			// The mail is out; the caller must not retry and double-send.
			s.metrics.RecordAuditWriteFailure(ctx)
			observability.Logger(ctx).Warn("failed to record sent official",
				logging.OfficialID(req.OfficialID),
				logging.Err(err))
		}
	}

	return Result{ID: id, Refreshed: refreshed}, nil
}

// deliver obtains a usable access token, refreshing it when expired, and
// sends raw.
func (s *Service) deliver(ctx context.Context, sess *session.Session, raw string) (string, *session.TokenSet, error) {
	if sess.Tokens.Empty() {
		return "", nil, ErrProviderAuth(google.ErrorCodeConsentRequired, errors.New("session carries no provider token"))
	}

	ctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	tok, err := s.tokens.TokenSource(ctx, sess.Tokens.OAuth2()).Token()
	if err != nil {
		s.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		return "", nil, s.tokenError(sess.Tokens, err)
	}

	var refreshed *session.TokenSet
	if tok.AccessToken != sess.Tokens.AccessToken {
		s.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultSuccess)
		merged := sess.Tokens.Merge(tok)
		refreshed = &merged
	}

	sender, err := s.newSender(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		return "", nil, ErrInternal(err)
	}

	var id string
	err = s.metrics.ObserveGoogleCall(ctx, instrumentation.ServiceGmail, instrumentation.OperationSend, func(ctx context.Context) error {
		var sendErr error
		id, sendErr = sender.SendRaw(ctx, raw)
		return sendErr
	})
	if err != nil {
		return "", nil, s.providerError(err)
	}
	return id, refreshed, nil
}

func (s *Service) providerError(err error) *Error {
	if gmail.IsAuthError(err) || google.IsSilentAuthError(err) {
		code := google.ReconsentCode(err)
		if code == "" {
			code = google.ErrorCodeInteractionRequired
		}
		return ErrProviderAuth(code, err)
	}
	return ErrSendFailed(gmail.ProviderMessage(err), err)
}

// tokenError classifies a failure to obtain an access token. Without a
// refresh token, or when Google rejected it, only a new consent helps.
func (s *Service) tokenError(tokens session.TokenSet, err error) *Error {
	if tokens.RefreshToken == "" {
		return ErrProviderAuth(google.ErrorCodeConsentRequired, err)
	}
	if code := google.ReconsentCode(err); code != "" {
		return ErrProviderAuth(code, err)
	}
	return ErrSendFailed("failed to refresh provider token", err)
}

func (s *Service) logRejection(logger *slog.Logger, sess *session.Session, de *Error) {
	attrs := []any{
		logging.Status(logging.StatusRejected),
		logging.Code(de.Code),
		slog.String("kind", de.Kind.String()),
	}
	if sess != nil && sess.Email != "" {
		attrs = append(attrs, logging.UserHash(sess.Email))
	}
	if de.Err != nil {
		attrs = append(attrs, logging.Err(de.Err))
	}

	switch de.Kind {
	case KindInternal, KindProviderSend:
		logger.Error("dispatch failed", attrs...)
	default:
		logger.Warn("dispatch rejected", attrs...)
	}
}
