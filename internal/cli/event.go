package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/emberwatch/ember/internal/models"
)

func newEventCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Create and manage timeline events",
	}
	cmd.AddCommand(
		newEventAddCmd(a),
		newEventStarCmd(a),
		newEventTrashCmd(a),
		newEventRestoreCmd(a),
		newEventDeleteCmd(a),
		newEventCloseTaskCmd(a),
	)
	return cmd
}

func newEventAddCmd(a *app) *cobra.Command {
	var (
		description string
		category    string
		date        string
		closes      string
		assignees   []string
	)
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add an event to the selected case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guid, err := a.resolveCase()
			if err != nil {
				return err
			}

			when := time.Now()
			if date != "" {
				when, err = time.Parse(time.RFC3339, date)
				if err != nil {
					return fmt.Errorf("invalid --date (want RFC3339): %w", err)
				}
			}

			me, err := a.client.Me(cmd.Context())
			if err != nil {
				return err
			}

			ev := models.Event{
				GUID:        uuid.NewString(),
				Title:       args[0],
				Description: description,
				Category:    category,
				Date:        when,
				Closes:      closes,
				Assignees:   assignees,
				Creator:     me.Username,
			}
			if ev.Category == "" {
				ev.Category = models.CategoryInfo
			}
			if err := ev.Validate(); err != nil {
				return err
			}

			created, err := a.client.CreateEvent(cmd.Context(), guid, ev)
			if err != nil {
				return err
			}
			if created.GUID == "" {
				created = ev
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created event %s\n", created.GUID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "event description")
	cmd.Flags().StringVar(&category, "category", "", "event category (default INFO)")
	cmd.Flags().StringVar(&date, "date", "", "event date, RFC3339 (default now)")
	cmd.Flags().StringVar(&closes, "closes", "", "GUID of the task this event closes")
	cmd.Flags().StringSliceVar(&assignees, "assignee", nil, "task assignee (repeatable)")
	return cmd
}

func eventActionCmd(a *app, use, short string, action func(cmd *cobra.Command, caseGUID, eventGUID string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guid, err := a.resolveCase()
			if err != nil {
				return err
			}
			return action(cmd, guid, args[0])
		},
	}
}

func newEventStarCmd(a *app) *cobra.Command {
	return eventActionCmd(a, "star <guid>", "Toggle an event's star", func(cmd *cobra.Command, caseGUID, eventGUID string) error {
		return a.client.StarEvent(cmd.Context(), caseGUID, eventGUID)
	})
}

func newEventTrashCmd(a *app) *cobra.Command {
	return eventActionCmd(a, "trash <guid>", "Move an event to the trash", func(cmd *cobra.Command, caseGUID, eventGUID string) error {
		return a.client.TrashEvent(cmd.Context(), caseGUID, eventGUID)
	})
}

func newEventRestoreCmd(a *app) *cobra.Command {
	return eventActionCmd(a, "restore <guid>", "Restore an event from the trash", func(cmd *cobra.Command, caseGUID, eventGUID string) error {
		return a.client.RestoreEvent(cmd.Context(), caseGUID, eventGUID)
	})
}

func newEventDeleteCmd(a *app) *cobra.Command {
	return eventActionCmd(a, "rm <guid>", "Permanently delete a trashed event", func(cmd *cobra.Command, caseGUID, eventGUID string) error {
		return a.client.DeleteEvent(cmd.Context(), caseGUID, eventGUID)
	})
}

func newEventCloseTaskCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "close-task <guid>",
		Short: "Close a task with the conventional closing event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guid, err := a.resolveCase()
			if err != nil {
				return err
			}

			events, err := a.client.FetchEvents(cmd.Context(), guid)
			if err != nil {
				return err
			}
			var task *models.Event
			for i := range events {
				if events[i].GUID == args[0] {
					task = &events[i]
					break
				}
			}
			if task == nil {
				return fmt.Errorf("task %s not found", args[0])
			}
			if !task.IsTask() {
				return fmt.Errorf("event %s is not a task", args[0])
			}

			me, err := a.client.Me(cmd.Context())
			if err != nil {
				return err
			}
			closing := models.Event{
				GUID:     uuid.NewString(),
				Title:    fmt.Sprintf("[OK] %s", task.Title),
				Category: models.CategoryInfo,
				Closes:   task.GUID,
				Date:     time.Now(),
				Creator:  me.Username,
			}
			if task.Date.After(closing.Date) {
				return fmt.Errorf("task %s is dated in the future; cannot close it yet", task.GUID)
			}
			if _, err := a.client.CreateEvent(cmd.Context(), guid, closing); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Closed task %q\n", task.Title)
			return nil
		},
	}
}

func newTrashCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "trash",
		Short: "List trashed events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			guid, err := a.resolveCase()
			if err != nil {
				return err
			}
			events, err := a.client.FetchTrash(cmd.Context(), guid)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Trash is empty")
				return nil
			}
			for _, ev := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", ev.GUID, ev.Date.Format(time.RFC3339), ev.Title)
			}
			return nil
		},
	}
}
