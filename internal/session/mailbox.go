package session

import (
	"context"
	"errors"
)

// Message is a worker result applied on the goroutine that owns the
// session.
type Message func(*Session) error

// Post queues msg from any goroutine, blocking while the mailbox is full.
func (s *Session) Post(ctx context.Context, msg Message) error {
	select {
	case s.mailbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain applies every queued message without blocking and flushes the
// journal.
func (s *Session) Drain() error {
	var errs []error
	for {
		select {
		case msg := <-s.mailbox:
			if err := msg(s); err != nil {
				errs = append(errs, err)
			}
		default:
			if err := s.sync(); err != nil {
				errs = append(errs, err)
			}
			return errors.Join(errs...)
		}
	}
}

// Run starts work on a worker goroutine and applies the messages it posts
// until it returns. Work must not use the session except through post.
func (s *Session) Run(ctx context.Context, work func(ctx context.Context, post func(Message)) error) error {
	done := make(chan error, 1)
	// The loop below keeps receiving until work returns, so a send never
	// blocks forever and no delivered result is dropped.
	post := func(m Message) { s.mailbox <- m }
	go func() { done <- work(ctx, post) }()

	var errs []error
	for {
		select {
		case msg := <-s.mailbox:
			if err := msg(s); err != nil {
				errs = append(errs, err)
			}
		case err := <-done:
			if err != nil {
				errs = append(errs, err)
			}
			if err := s.Drain(); err != nil {
				errs = append(errs, err)
			}
			return errors.Join(errs...)
		}
	}
}
