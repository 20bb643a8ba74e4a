package ingestion

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/cv-intake/internal/logger"
	"github.com/spigell/cv-intake/internal/mailbox"
	"github.com/spigell/cv-intake/internal/utils"
)

const (
	DefaultPollInterval    = 10 * time.Second
	DefaultProcessedFolder = "Processed"
	DefaultFailedFolder    = "Failed"
	DefaultReconnectDelay  = 5 * time.Second

	maxReconnectDelay = 5 * time.Minute
)

// Session is the mailbox connection the poller owns.
type Session interface {
	Lock()
	Unlock()
	EnsureFolder(name string) error
	UnseenUIDs() ([]uint32, error)
	Fetch(uid uint32) (*mailbox.Message, error)
	MarkSeen(uid uint32) error
	Move(uid uint32, folder string) error
	Logout() error
}

// Dialer opens the mailbox session. It returns mailbox.ErrNotConfigured when
// credentials are missing.
type Dialer func(ctx context.Context) (Session, error)

type MessageProcessor interface {
	Process(ctx context.Context, msg *mailbox.Message) Outcome
}

type PollerConfig struct {
	Interval        time.Duration
	ProcessedFolder string
	FailedFolder    string
	// ReconnectDelay is the first pause after a failed redial. It doubles on
	// every further failure up to five minutes.
	ReconnectDelay  time.Duration
}

// CycleStats counts what one poll cycle did.
type CycleStats struct {
	Unseen    int
	Skipped   int
	Processed int
	Failed    int
}

func (s *CycleStats) add(kind OutcomeKind) {
	switch kind {
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeProcessed:
		s.Processed++
	default:
		s.Failed++
	}
}

// Poller is the ingestion loop. It is the only user of its session.
type Poller struct {
	dial      Dialer
	processor MessageProcessor
	cfg       PollerConfig
	logger    *zap.Logger

	session Session

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewPoller(dial Dialer, processor MessageProcessor, cfg PollerConfig, log *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.ProcessedFolder == "" {
		cfg.ProcessedFolder = DefaultProcessedFolder
	}
	if cfg.FailedFolder == "" {
		cfg.FailedFolder = DefaultFailedFolder
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{dial: dial, processor: processor, cfg: cfg, logger: log}
}

// Start connects and prepares the disposition folders. Missing credentials
// leave the poller disabled without an error.
func (p *Poller) Start(ctx context.Context) error {
	session, err := p.connect(ctx)
	if errors.Is(err, mailbox.ErrNotConfigured) {
		p.logger.Warn("imap credentials are not configured, inbound mail ingestion is disabled")
		return nil
	}
	if err != nil {
		return err
	}

	p.session = session
	p.logger.Info("connected to mailbox",
		zap.Duration("interval", p.cfg.Interval),
		zap.String("processed_folder", p.cfg.ProcessedFolder),
		zap.String("failed_folder", p.cfg.FailedFolder),
	)
	return nil
}

// connect dials and makes sure both disposition folders exist.
func (p *Poller) connect(ctx context.Context) (Session, error) {
	session, err := p.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to mailbox: %w", err)
	}

	for _, folder := range []string{p.cfg.ProcessedFolder, p.cfg.FailedFolder} {
		if err := session.EnsureFolder(folder); err != nil {
			_ = session.Logout()
			return nil, fmt.Errorf("prepare folder %s: %w", folder, err)
		}
	}
	return session, nil
}

// reconnect drops the broken session and redials with exponential backoff
// until it succeeds or ctx is done.
func (p *Poller) reconnect(ctx context.Context) error {
	if err := p.session.Logout(); err != nil {
		p.logger.Debug("logging out of the broken session failed", zap.Error(err))
	}
	p.session = nil

	delay := p.cfg.ReconnectDelay
	for attempt := 1; ; attempt++ {
		session, err := p.connect(ctx)
		if err == nil {
			p.session = session
			p.logger.Info("reconnected to mailbox", zap.Int("attempt", attempt))
			return nil
		}
		if errors.Is(err, mailbox.ErrNotConfigured) {
			return err
		}

		p.logger.Warn("reconnecting to mailbox failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
		if err := utils.WaitFor(ctx, delay); err != nil {
			return err
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// Enabled reports whether Start established a session.
func (p *Poller) Enabled() bool {
	return p.session != nil
}

// Run polls until ctx is done or Stop is called, then logs out. The message
// in flight always finishes. A session that fails to list mail is replaced
// by a fresh one.
func (p *Poller) Run(ctx context.Context) error {
	if p.session == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	defer func() {
		if p.session != nil {
			if err := p.session.Logout(); err != nil {
				p.logger.Warn("mailbox logout failed", zap.Error(err))
			}
		}
		p.logger.Info("mailbox poller stopped")
	}()

	for {
		if _, err := p.Cycle(ctx); err != nil {
			p.logger.Warn("mailbox session lost, reconnecting", zap.Error(err))
			if err := p.reconnect(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("mailbox session lost: %w", err)
			}
		}

		if err := utils.WaitFor(ctx, p.cfg.Interval); err != nil {
			return nil
		}
	}
}

// Stop ends the loop after the message in flight.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

// Cycle locks the mailbox and processes every unseen message sequentially.
// An error means the unseen list could not be read and the session is suspect.
func (p *Poller) Cycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	p.session.Lock()
	defer p.session.Unlock()

	uids, err := p.session.UnseenUIDs()
	if err != nil {
		p.logger.Error("listing unseen messages failed", zap.Error(err))
		return stats, fmt.Errorf("list unseen messages: %w", err)
	}
	stats.Unseen = len(uids)

	for _, uid := range uids {
		if ctx.Err() != nil {
			break
		}
		stats.add(p.handle(context.WithoutCancel(ctx), uid))
	}

	if stats.Unseen > 0 {
		p.logger.Info("poll cycle finished",
			zap.Int("unseen", stats.Unseen),
			zap.Int("skipped", stats.Skipped),
			zap.Int("processed", stats.Processed),
			zap.Int("failed", stats.Failed),
		)
	}
	return stats, nil
}

// handle returns the kind the message was finally disposed as.
func (p *Poller) handle(ctx context.Context, uid uint32) OutcomeKind {
	return p.dispose(uid, p.process(ctx, uid))
}

func (p *Poller) process(ctx context.Context, uid uint32) (outcome Outcome) {
	log := logger.WithMessage(p.logger, uid, "")

	defer func() {
		if r := recover(); r != nil {
			log.Error("message processing panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			outcome = failed(fmt.Errorf("panic: %v", r))
		}
	}()

	msg, err := p.session.Fetch(uid)
	if err != nil {
		log.Warn("fetching message failed", zap.Error(err))
		return failed(err)
	}

	return p.processor.Process(ctx, msg)
}

// dispose applies the terminal state of a message: skipped mail is left
// untouched, processed mail is marked seen and moved, failed mail is moved unseen.
// Processed mail that cannot be marked seen goes to the failed folder instead.
func (p *Poller) dispose(uid uint32, outcome Outcome) OutcomeKind {
	kind := outcome.Kind
	log := p.logger.With(zap.Uint32(logger.FieldUID, uid), zap.String("outcome", string(kind)))

	switch kind {
	case OutcomeSkipped:
		return kind
	case OutcomeProcessed:
		if err := p.session.MarkSeen(uid); err != nil {
			log.Error("marking message seen failed, moving it to the failed folder", zap.Error(err))
			kind = OutcomeFailed
			break
		}
		if err := p.session.Move(uid, p.cfg.ProcessedFolder); err != nil {
			log.Error("moving message failed", zap.String("folder", p.cfg.ProcessedFolder), zap.Error(err))
		}
		return kind
	default:
		kind = OutcomeFailed
	}

	if err := p.session.Move(uid, p.cfg.FailedFolder); err != nil {
		log.Error("moving message failed", zap.String("folder", p.cfg.FailedFolder), zap.Error(err))
	}
	return kind
}
