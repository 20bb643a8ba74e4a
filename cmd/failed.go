package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/cv-intake/internal/mailbox"
)

const (
	PromptRequeueAll = "Requeue all"
	PromptBack       = "back"
)

var failedCmd = &cobra.Command{
	Use:   "failed",
	Short: "Move failed application emails back to the inbox for another attempt",
	Run: func(cmd *cobra.Command, _ []string) {
		failed(cmd)
	},
}

func init() {
	rootCmd.AddCommand(failedCmd)

	failedCmd.Flags().BoolP("all", "a", false, "requeue every failed message without asking")
}

func failed(cmd *cobra.Command) {
	ctx := cmd.Context()
	logger, config := setup()

	creds, err := imapCredentials(config.IMAP)
	if err != nil {
		logger.Fatal("loading imap credentials", zap.Error(err))
	}

	session, err := mailbox.Dial(ctx, creds, config.IMAP.Mailbox, logger.Named("mailbox"))
	if err != nil {
		logger.Fatal("connecting to mailbox", zap.Error(err))
	}
	defer func() {
		if err := session.Logout(); err != nil {
			logger.Warn("mailbox logout failed", zap.Error(err))
		}
	}()

	session.Lock()
	defer session.Unlock()

	state, err := session.FolderState(config.IMAP.FailedFolder)
	if err != nil {
		logger.Fatal("checking failed folder", zap.Error(err))
	}
	if state == mailbox.FolderNotFound {
		logger.Info("exiting", zap.String("reason", "failed folder does not exist"), zap.String("folder", config.IMAP.FailedFolder))
		return
	}

	all, _ := cmd.Flags().GetBool("all")

	if err := requeueFailed(session, config.IMAP, logger, all); err != nil {
		logger.Fatal("requeueing failed messages", zap.Error(err))
	}
}

func requeueFailed(session *mailbox.Session, cfg *IMAPConfig, logger *zap.Logger, all bool) error {
	from, to := cfg.FailedFolder, session.Mailbox()

	for {
		messages, err := session.ListMessages(from)
		if err != nil {
			return err
		}
		if len(messages) == 0 {
			logger.Info("no failed messages left", zap.String("folder", from))
			return nil
		}

		logger.Info("current list of failed messages", zap.Int("count", len(messages)))

		selected := PromptRequeueAll
		if !all {
			items := make([]string, 0, len(messages)+2)
			for _, m := range messages {
				items = append(items, fmt.Sprintf("%d %s / %s / %s",
					m.UID, m.Subject, m.From, m.Date.Format("2006-01-02 15:04"),
				))
			}

			failedPrompt := promptui.Select{
				Label: "Choose a message to requeue and press ENTER",
				Items: append(items, PromptRequeueAll, PromptBack),
			}

			_, selected, err = failedPrompt.Run()
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
				return nil
			}
			if err != nil {
				return err
			}
		}

		switch selected {
		case PromptBack:
			return nil
		case PromptRequeueAll:
			for _, m := range messages {
				if err := session.Requeue(m.UID, from, to); err != nil {
					return err
				}
			}
			logger.Info("requeued failed messages", zap.Int("count", len(messages)), zap.String("to", to))
			return nil
		default:
			uid, err := strconv.ParseUint(strings.Split(selected, " ")[0], 10, 32)
			if err != nil {
				return fmt.Errorf("there is no such message %q", selected)
			}
			if err := session.Requeue(uint32(uid), from, to); err != nil {
				return err
			}
			logger.Info("requeued failed message", zap.Uint64("uid", uid), zap.String("to", to))
		}
	}
}
