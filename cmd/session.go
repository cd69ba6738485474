////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/pkg/profile"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
	"gitlab.com/elixxir/chatsync/dialogs"
	"gitlab.com/elixxir/chatsync/event"
	"gitlab.com/elixxir/chatsync/session"
)

// printedHistory is the number of messages printed per conversation.
const printedHistory = 20

// startDiagnostics starts the profiler and the metrics listener the flags
// ask for. The returned function stops the profiler.
func startDiagnostics() func() {
	if addr := viper.GetString("metrics-addr"); addr != "" {
		go serveMetrics(addr)
	}
	if dir := viper.GetString("profile"); dir != "" {
		return profile.Start(profile.CPUProfile, profile.ProfilePath(dir),
			profile.NoShutdownHook).Stop
	}
	return func() {}
}

// logNotifications logs every notification of the session.
func logNotifications(s *session.Session) {
	err := s.RegisterCallback("cmd", func(n event.Notification) {
		jww.INFO.Printf("[EVENT] %s", n)
	})
	if err != nil {
		jww.WARN.Printf("Notifications are not logged: %+v", err)
	}
}

// printState writes the cached dialogs of the main folder and the newest
// messages of every dialog.
func printState(ctx context.Context, s *session.Session, out io.Writer) error {
	list, err := s.GetDialogs(ctx, dialogs.MainFolder, 0, 0)
	if err != nil {
		return errors.WithMessage(err, "failed to list dialogs")
	}
	for _, d := range list {
		fmt.Fprintf(out, "%s top=%d unread=%d pinned=%t\n",
			d.Peer, d.TopMessage, d.UnreadCount, d.Pinned)
		res, err := s.GetHistory(ctx, d.Peer, 0, printedHistory, 0)
		if err != nil {
			return errors.WithMessagef(err, "failed to load history of %s",
				d.Peer)
		}
		for _, id := range res.IDs {
			m := s.Message(id)
			state := ""
			switch {
			case m.Pending && m.Error:
				state = " (failed)"
			case m.Pending:
				state = " (sending)"
			case m.EditDate != 0:
				state = " (edited)"
			}
			fmt.Fprintf(out, "  %d %s: %s%s\n", m.ID, m.From, m.Text, state)
		}
	}
	return nil
}
