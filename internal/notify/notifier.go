package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"ebslms/internal/platform/logger"

	"github.com/google/uuid"
)

// PreferenceReader tells whether a user opted out of result emails.
type PreferenceReader interface {
	WantsResultEmails(ctx context.Context, userID uuid.UUID) (bool, error)
}

type AttemptResult struct {
	UserID     uuid.UUID
	Email      string
	Name       string
	Title      string
	Percentage float64
	MinScore   float64
	Passed     bool
}

type CertificateReady struct {
	Email       string
	Name        string
	CourseTitle string
	Folio       string
	URL         string
}

// Notifier renders templates and delivers them off the request goroutine.
type Notifier struct {
	mailer  Mailer
	prefs   PreferenceReader
	log     *logger.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewNotifier(mailer Mailer, prefs PreferenceReader, log *logger.Logger) *Notifier {
	return &Notifier{
		mailer:  mailer,
		prefs:   prefs,
		log:     log.With("service", "Notifier"),
		timeout: 30 * time.Second,
	}
}

func (n *Notifier) Welcome(email, name string) {
	n.dispatch(func(ctx context.Context) (Message, bool, error) {
		msg, err := welcomeTemplate.render(email, map[string]string{"Name": displayName(name)})
		return msg, true, err
	})
}

func (n *Notifier) AttemptResult(in AttemptResult) {
	n.dispatch(func(ctx context.Context) (Message, bool, error) {
		if n.prefs != nil {
			ok, err := n.prefs.WantsResultEmails(ctx, in.UserID)
			if err != nil {
				return Message{}, false, err
			}
			if !ok {
				return Message{}, false, nil
			}
		}
		in.Name = displayName(in.Name)
		msg, err := attemptResultTemplate.render(in.Email, in)
		return msg, true, err
	})
}

func (n *Notifier) CertificateReady(in CertificateReady) {
	n.dispatch(func(ctx context.Context) (Message, bool, error) {
		in.Name = displayName(in.Name)
		msg, err := certificateReadyTemplate.render(in.Email, in)
		return msg, true, err
	})
}

func (n *Notifier) dispatch(build func(ctx context.Context) (Message, bool, error)) {
	if n == nil || n.mailer == nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		msg, send, err := build(ctx)
		if err != nil {
			n.log.Error("build email failed", "error", err)
			return
		}
		if !send {
			return
		}
		if strings.TrimSpace(msg.To) == "" {
			n.log.Warn("email skipped: recipient has no address", "subject", msg.Subject)
			return
		}
		if err := n.mailer.Send(ctx, msg); err != nil {
			n.log.Error("email delivery failed", "subject", msg.Subject, "error", err)
		}
	}()
}

// Wait blocks until in-flight emails finish or ctx is done.
func (n *Notifier) Wait(ctx context.Context) {
	if n == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func displayName(name string) string {
	if s := strings.TrimSpace(name); s != "" {
		return s
	}
	return "estudiante"
}
