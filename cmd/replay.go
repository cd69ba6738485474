////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package cmd

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/raw"
	"gitlab.com/elixxir/chatsync/replay"
	"gitlab.com/elixxir/chatsync/sending"
	"gitlab.com/elixxir/chatsync/session"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Runs a session against the scripted server of a fixture",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		initLog(viper.GetUint("logLevel"), viper.GetString("log"))
		defer startDiagnostics()()

		f, err := replay.LoadFixture(viper.GetString("fixture"))
		if err != nil {
			jww.FATAL.Panicf("%+v", err)
		}
		params, err := session.GetParameters(viper.GetString("params"))
		if err != nil {
			jww.FATAL.Panicf("%+v", err)
		}
		kv, err := openKV(viper.GetString("session"),
			viper.GetString("password"))
		if err != nil {
			jww.FATAL.Panicf("%+v", err)
		}

		net := replay.FromFixture(f)
		s, err := session.New(kv, net, f.Self, params)
		if err != nil {
			jww.FATAL.Panicf("Failed to start session: %+v", err)
		}
		defer func() {
			if err := s.Close(); err != nil {
				jww.ERROR.Printf("Failed to close session: %+v", err)
			}
		}()

		r := newRunner(s, net, os.Stdout)
		if err = r.runAll(context.Background(), f.Steps); err != nil {
			jww.ERROR.Printf("[REPLAY] %+v", err)
		}
		if err = printState(context.Background(), s, os.Stdout); err != nil {
			jww.FATAL.Panicf("%+v", err)
		}
	},
}

// runner executes fixture steps against a session.
type runner struct {
	s   *session.Session
	net *replay.Network
	out io.Writer
}

func newRunner(s *session.Session, net *replay.Network, out io.Writer) *runner {
	logNotifications(s)
	return &runner{s: s, net: net, out: out}
}

// runAll runs the steps in order, waiting for each to settle before the
// next starts. A failing step is logged and does not stop the replay.
// Returns the number of failed steps as an error.
func (r *runner) runAll(ctx context.Context, steps []replay.Step) error {
	failed := 0
	for i, step := range steps {
		if err := r.run(ctx, step); err != nil {
			jww.ERROR.Printf("[REPLAY] Step %d (%s) failed: %+v",
				i, step.Op, err)
			failed++
		}
		r.s.Wait()
	}
	if failed > 0 {
		return errors.Errorf("%d of %d steps failed", failed, len(steps))
	}
	return nil
}

func (r *runner) run(ctx context.Context, step replay.Step) error {
	switch step.Op {
	case replay.OpGetDialogs:
		list, err := r.s.GetDialogs(ctx, step.Folder, 0, step.Limit)
		jww.INFO.Printf("[REPLAY] Folder %d lists %d dialogs",
			step.Folder, len(list))
		return err
	case replay.OpGetHistory:
		maxID := ids.MessageID(0)
		if step.MaxID != 0 {
			maxID = r.s.MessageID(step.Peer, step.MaxID)
		}
		res, err := r.s.GetHistory(ctx, step.Peer, maxID, step.Limit, 0)
		jww.INFO.Printf("[REPLAY] History of %s: %v", step.Peer, res.IDs)
		return err
	case replay.OpSend:
		opts := sending.SendOptions{}
		if step.MaxID != 0 {
			opts.ReplyTo = r.s.MessageID(step.Peer, step.MaxID)
		}
		_, err := r.s.SendText(step.Peer, step.Text, opts)
		return err
	case replay.OpEdit:
		id, err := r.target(ctx, step)
		if err != nil {
			return err
		}
		return r.s.EditMessage(ctx, id, step.Text)
	case replay.OpDelete:
		var msgIDs []ids.MessageID
		for _, id := range step.IDs {
			msgIDs = append(msgIDs, r.s.MessageID(step.Peer, id))
		}
		if len(msgIDs) == 0 {
			id, err := r.target(ctx, step)
			if err != nil {
				return err
			}
			msgIDs = append(msgIDs, id)
		}
		return r.s.DeleteMessages(ctx, msgIDs, step.Revoke)
	case replay.OpRead:
		maxID := ids.MessageID(0)
		if step.MaxID != 0 {
			maxID = r.s.MessageID(step.Peer, step.MaxID)
		}
		return r.s.ReadHistory(ctx, step.Peer, maxID)
	case replay.OpPin:
		return r.s.TogglePin(ctx, step.Peer, step.Folder)
	case replay.OpUpdates:
		r.s.HandleUpdates(step.Updates)
		return nil
	case replay.OpIncoming:
		r.s.HandleUpdates([]raw.Update{r.net.Incoming(step.Peer, step.Incoming)})
		return nil
	default:
		return errors.Errorf("unknown op %q", step.Op)
	}
}

// target returns the message a step edits or deletes. That is the first of
// its IDs, or the newest message of the peer if it names none.
func (r *runner) target(ctx context.Context,
	step replay.Step) (ids.MessageID, error) {
	if len(step.IDs) != 0 {
		return r.s.MessageID(step.Peer, step.IDs[0]), nil
	}
	res, err := r.s.GetHistory(ctx, step.Peer, 0, 1, 0)
	if err != nil {
		return 0, err
	}
	if len(res.IDs) == 0 {
		return 0, errors.Errorf("%s has no messages", step.Peer)
	}
	return res.IDs[0], nil
}

// printState writes the dialog list of the main folder and the newest
// messages of every dialog.
func (r *runner) printState(ctx context.Context) error {
	return printState(ctx, r.s, r.out)
}

func init() {
	replayCmd.Flags().StringP("fixture", "f", "",
		"Path to the JSON fixture to replay")
	viper.BindPFlag("fixture", replayCmd.Flags().Lookup("fixture"))

	rootCmd.AddCommand(replayCmd)
}
