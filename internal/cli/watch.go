package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/emberwatch/ember/internal/logging"
	"github.com/emberwatch/ember/internal/session"
	"github.com/emberwatch/ember/internal/watchtui"
)

const reconnectMaxInterval = 30 * time.Second

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the case timeline live",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			guid, err := a.resolveCase()
			if err != nil {
				return err
			}
			return a.runWatch(cmd.Context(), guid)
		},
	}
}

func (a *app) runWatch(ctx context.Context, caseGUID string) error {
	logger := logging.Component("watch")

	me, err := a.client.Me(ctx)
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}

	tui := watchtui.NewApp(watchtui.Config{
		IdleAfter: a.cfg.Watch.IdleAfter,
	})

	sess := session.New(session.Config{
		API:       a.client,
		Sink:      tui,
		Cache:     a.cache,
		CaseGUID:  caseGUID,
		Username:  me.Username,
		Groups:    me.Groups,
		LocalZone: a.cfg.Zone(),

		FlagDelay:  a.cfg.Watch.FlagDelay,
		ClearDelay: a.cfg.Watch.ClearDelay,
	})
	defer sess.Close()

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := sess.Start(watchCtx); err != nil {
		return fmt.Errorf("load case: %w", err)
	}

	// Named search patterns are a nicety; the filter works without them.
	if constant, err := a.client.FetchConstant(watchCtx); err == nil {
		sess.SetSearchPatterns(constant.SearchPatterns)
	} else {
		logger.Debug().Err(err).Msg("constants unavailable")
	}

	if draft, ok := sess.RecoverDraft(); ok {
		logger.Info().Str("title", draft.Title).Msg("recovered unsent draft; resubmitting")
		if err := sess.CreateEvent(watchCtx, draft); err != nil {
			logger.Warn().Err(err).Msg("draft resubmission failed; draft kept")
		}
	}

	// The session never reconnects on its own; the retry policy lives here.
	go a.reconnectLoop(watchCtx, sess, logger)

	intent, err := tui.Run(sess)
	cancel()
	if err != nil {
		return err
	}
	if intent.Message != "" {
		fmt.Println(intent.Message)
	}
	if intent.CaseGUID != "" {
		fmt.Printf("Case moved; follow it with: ember watch --case %s\n", intent.CaseGUID)
	}
	return nil
}

// reconnectLoop resubscribes with exponential backoff each time the live
// channel drops. It stops when the context ends or the session terminates.
func (a *app) reconnectLoop(ctx context.Context, sess *session.Session, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Drops():
		}

		policy := backoff.NewExponentialBackOff()
		policy.MaxInterval = reconnectMaxInterval
		policy.MaxElapsedTime = 0

		err := backoff.Retry(func() error {
			if err := sess.Resubscribe(); err != nil {
				if errors.Is(err, session.ErrTerminated) {
					return backoff.Permanent(err)
				}
				logger.Warn().Err(err).Msg("resubscribe failed; retrying")
				return err
			}
			return nil
		}, backoff.WithContext(policy, ctx))
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, session.ErrTerminated) {
				logger.Error().Err(err).Msg("live channel reconnect abandoned")
			}
			return
		}
		logger.Info().Msg("live channel reconnected")
	}
}
