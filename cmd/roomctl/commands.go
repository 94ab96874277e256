package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"

	"github.com/coupleplay/rooms/internal/client"
	"github.com/coupleplay/rooms/internal/coupleplay"
)

func (c *Config) client() *client.Client {
	return client.New(c.server, client.WithHTTPClient(&http.Client{Timeout: c.timeout}))
}

func (c *Config) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newCreateCmd(cfg *Config) *cobra.Command {
	var (
		game string
		hide bool
	)
	cmd := &cobra.Command{
		Use:   "create <host-name>",
		Short: "Create a room and print its id and the host's player id.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, host, err := cfg.client().CreateRoom(cmd.Context(), args[0], coupleplay.Game(game), hide)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "room:    %s\n", r.ID)
			fmt.Fprintf(out, "player:  %s (%s)\n", host.ID, host.Name)
			fmt.Fprintf(out, "invite:  %s\n", cfg.client().InviteURL(r.ID))
			fmt.Fprintf(out, "expires: %s\n", humanize.Time(r.ExpiresAt))
			return nil
		},
	}
	cmd.Flags().StringVar(&game, "game", string(coupleplay.GameRandomQuestions), "game mode: random-questions or idea-matching")
	cmd.Flags().BoolVar(&hide, "hide-questions", false, "hide each player's questions from the other during collect")
	return cmd
}

func newJoinCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "join <room-id> <guest-name>",
		Short: "Join a room as the guest. Joining again replaces the guest's name.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, guest, err := cfg.client().JoinRoom(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "player:  %s (%s)\n", guest.ID, guest.Name)
			return nil
		},
	}
}

func newShowCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show <room-id>",
		Short: "Print the current state of a room.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := cfg.client().Snapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snap, time.Now())
			return nil
		},
	}
}

func newAskCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <room-id> <player-id> <question>",
		Short: "Add a question during the collect stage.",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := cfg.client().AddQuestion(cmd.Context(), args[0], args[1], strings.Join(args[2:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "question: %s\n", q.ID)
			return nil
		},
	}
}

func newReadyCmd(cfg *Config) *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "ready <room-id> <player-id>",
		Short: "Mark a player as done collecting questions.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, roomUpdate, err := cfg.client().SetStageOneDone(cmd.Context(), args[0], args[1], !undo)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s stage one done: %t\n", p.Name, p.StageOneDone)
			if roomUpdate != nil {
				fmt.Fprintf(out, "room moved to %s\n", roomUpdate.Stage)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "clear the done flag instead")
	return cmd
}

func newWatchCmd(cfg *Config) *cobra.Command {
	var poll time.Duration
	cmd := &cobra.Command{
		Use:   "watch <room-id> <player-id>",
		Short: "Follow a room live as one of its players.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if poll <= 0 {
				return fmt.Errorf("invalid --poll %s: must be positive", poll)
			}
			out := cmd.OutOrStdout()
			w := &watcher{out: out, playerID: args[1]}
			s := client.NewSession(cfg.client(), args[0], args[1], cfg.logger(os.Stderr),
				client.WithPollInterval(poll),
				client.WithOnChange(w.print),
			)
			err := s.Run(cmd.Context())
			if err != nil && cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&poll, "poll", client.DefaultPollInterval, "snapshot poll interval")
	return cmd
}

// watcher prints a line whenever the stage, the current question or its
// answer text changes.
type watcher struct {
	out      io.Writer
	playerID string

	mu   sync.Mutex
	last string
}

func (w *watcher) print(snap coupleplay.Snapshot) {
	line := fmt.Sprintf("[%s]", snap.Room.Stage)
	if snap.Room.Stage == coupleplay.StageAnswer {
		if q, ok := coupleplay.CurrentQuestion(snap.Questions, snap.Room.CurrentQuestionID); ok {
			who := "they answer"
			if q.AnsweredBy(w.playerID) {
				who = "you answer"
			}
			line += fmt.Sprintf(" %s: %q (%s) %q", q.ID, q.Text, who, q.Answer())
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if line == w.last {
		return
	}
	w.last = line
	fmt.Fprintln(w.out, line)
}

func printSnapshot(out io.Writer, snap coupleplay.Snapshot, now time.Time) {
	r := snap.Room
	fmt.Fprintf(out, "room %s (%s), stage %s, expires %s\n",
		r.ID, r.Game, r.Stage, humanize.RelTime(r.ExpiresAt, now, "ago", "from now"))
	for _, p := range coupleplay.TurnOrder(snap.Players) {
		mark := " "
		if p.StageOneDone {
			mark = "x"
		}
		fmt.Fprintf(out, "  [%s] %-5s %s (%s)\n", mark, p.Role, p.Name, p.ID)
	}
	names := make(map[string]string, len(snap.Players))
	for _, p := range snap.Players {
		names[p.ID] = p.Name
	}
	fmt.Fprintf(out, "%s\n", english.Plural(len(snap.Questions), "question", ""))
	for i, q := range coupleplay.SortQuestions(snap.Questions) {
		status := "open"
		switch {
		case q.IsDone():
			status = "done"
		case q.WriterDone:
			status = "written"
		}
		answerer := "-"
		if q.AnsweringPlayerID != nil {
			answerer = names[*q.AnsweringPlayerID]
		}
		fmt.Fprintf(out, "  %d. %s [%s, answered by %s]\n", i+1, q.Text, status, answerer)
		if q.Answer() != "" {
			fmt.Fprintf(out, "     > %s\n", q.Answer())
		}
	}
}
