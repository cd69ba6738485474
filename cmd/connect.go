////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
	"gitlab.com/elixxir/chatsync/dialogs"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/network/gotd"
	chatsync "gitlab.com/elixxir/chatsync/session"
	"gitlab.com/elixxir/chatsync/storage/versioned"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Keeps a session in sync with a Telegram account over MTProto",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		initLog(viper.GetUint("logLevel"), viper.GetString("log"))
		defer startDiagnostics()()

		params, err := chatsync.GetParameters(viper.GetString("params"))
		if err != nil {
			jww.FATAL.Panicf("%+v", err)
		}
		kv, err := openKV(viper.GetString("session"),
			viper.GetString("password"))
		if err != nil {
			jww.FATAL.Panicf("%+v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		err = connect(ctx, kv, params, connectConfig{
			AppID:       viper.GetInt("app-id"),
			AppHash:     viper.GetString("app-hash"),
			SessionPath: viper.GetString("tg-session"),
			BotToken:    viper.GetString("bot-token"),
			Dialogs:     viper.GetInt("dialogs"),
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			jww.FATAL.Panicf("%+v", err)
		}
	},
}

// connectConfig holds the account options of the connect command.
type connectConfig struct {
	AppID       int
	AppHash     string
	SessionPath string
	BotToken    string
	Dialogs     int
}

// updateRelay forwards server updates to the handler of the running
// session. Updates arriving before a session exists are dropped; the first
// dialog load covers them.
type updateRelay struct {
	handler atomic.Pointer[gotd.Handler]
}

// Handle implements telegram.UpdateHandler.
func (r *updateRelay) Handle(ctx context.Context, u tg.UpdatesClass) error {
	if h := r.handler.Load(); h != nil {
		return h.Handle(ctx, u)
	}
	return nil
}

// connect logs in, loads the first page of dialogs and applies updates
// until ctx is done.
func connect(ctx context.Context, kv *versioned.KV, params chatsync.Params,
	conf connectConfig) error {
	if conf.AppID == 0 || conf.AppHash == "" {
		return errors.New("--app-id and --app-hash are required")
	}
	if conf.SessionPath != "" {
		if err := os.MkdirAll(filepath.Dir(conf.SessionPath), 0o700); err != nil {
			return errors.Wrap(err, "failed to create session directory")
		}
	}

	relay := &updateRelay{}
	manager := updates.New(updates.Config{Handler: relay})
	client := telegram.NewClient(conf.AppID, conf.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: conf.SessionPath},
		UpdateHandler:  manager,
	})

	return client.Run(ctx, func(ctx context.Context) error {
		if err := authorize(ctx, client, conf.BotToken); err != nil {
			return err
		}
		me, err := client.Self(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to get own user")
		}
		self := ids.UserPeer(me.ID)
		peers := gotd.NewPeers(self)
		peers.Learn([]tg.UserClass{me}, nil)

		s, err := chatsync.New(kv, gotd.NewClient(client.API(), self, peers),
			self, params)
		if err != nil {
			return errors.WithMessage(err, "failed to start session")
		}
		defer func() {
			if err := s.Close(); err != nil {
				jww.ERROR.Printf("Failed to close session: %+v", err)
			}
		}()
		logNotifications(s)
		relay.handler.Store(gotd.NewHandler(self, peers, s.HandleUpdates))

		if _, err = s.GetDialogs(ctx, dialogs.MainFolder, 0,
			conf.Dialogs); err != nil {
			return errors.WithMessage(err, "failed to load dialogs")
		}
		if err = printState(ctx, s, os.Stdout); err != nil {
			return err
		}

		jww.INFO.Printf("Connected as %s, waiting for updates", self)
		return manager.Run(ctx, client.API(), me.ID,
			updates.AuthOptions{IsBot: me.Bot})
	})
}

// authorize logs in as a bot when the stored session is not authorized.
func authorize(ctx context.Context, client *telegram.Client,
	botToken string) error {
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get auth status")
	}
	if status.Authorized {
		return nil
	}
	if botToken == "" {
		return errors.New("session is not authorized and no bot token given")
	}
	if _, err = client.Auth().Bot(ctx, botToken); err != nil {
		return errors.Wrap(err, "failed to log in as bot")
	}
	return nil
}

func init() {
	connectCmd.Flags().Int("app-id", 0, "Telegram API application ID")
	viper.BindPFlag("app-id", connectCmd.Flags().Lookup("app-id"))

	connectCmd.Flags().String("app-hash", "", "Telegram API application hash")
	viper.BindPFlag("app-hash", connectCmd.Flags().Lookup("app-hash"))

	connectCmd.Flags().String("tg-session", "tg-session.json",
		"Path of the MTProto session file")
	viper.BindPFlag("tg-session", connectCmd.Flags().Lookup("tg-session"))

	connectCmd.Flags().String("bot-token", "",
		"Bot token used when the MTProto session is not authorized")
	viper.BindPFlag("bot-token", connectCmd.Flags().Lookup("bot-token"))

	connectCmd.Flags().Int("dialogs", 20,
		"Number of dialogs loaded from the top of the main folder")
	viper.BindPFlag("dialogs", connectCmd.Flags().Lookup("dialogs"))

	rootCmd.AddCommand(connectCmd)
}
