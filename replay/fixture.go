////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
// Package replay runs the engine against a scripted server. A fixture
// describes the server's initial state and the steps a client takes.
package replay

import (
	"bytes"
	"encoding/json"
	"os"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/thedevsaddam/gojsonq"
	"gitlab.com/elixxir/chatsync/ids"
	"gitlab.com/elixxir/chatsync/raw"
)

// Fixture is a scripted session.
type Fixture struct {
	Self     ids.PeerID    `json:"self"`
	Dialogs  []raw.Dialog  `json:"dialogs"`
	Messages []raw.Message `json:"messages"`
	Steps    []Step        `json:"-"`
}

// Step is one client action. Op selects the action and the other fields
// are its arguments.
type Step struct {
	Op     string     `json:"op"`
	Peer   ids.PeerID `json:"peer"`
	Folder int        `json:"folder"`
	Limit  int        `json:"limit"`
	MaxID  int64      `json:"maxId"`
	Text   string     `json:"text"`
	IDs    []int64    `json:"ids"`
	Revoke bool       `json:"revoke"`
	// Incoming is the text of a message the server receives from Peer
	// and pushes.
	Incoming string `json:"incoming"`

	Updates []raw.Update `json:"-"`
}

// Step operations.
const (
	OpGetDialogs = "getDialogs"
	OpGetHistory = "getHistory"
	OpSend       = "send"
	OpEdit       = "edit"
	OpDelete     = "delete"
	OpRead       = "read"
	OpPin        = "pin"
	OpUpdates    = "updates"
	OpIncoming   = "incoming"
)

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read fixture %s", path)
	}
	return ParseFixture(data)
}

// ParseFixture parses a JSON fixture.
func ParseFixture(data []byte) (*Fixture, error) {
	jq := gojsonq.New(gojsonq.SetDecoder(numberDecoder{})).
		FromString(string(data))
	if err := jq.Error(); err != nil {
		return nil, errors.Wrap(err, "invalid fixture")
	}

	f := &Fixture{}
	if err := decode(jq.Reset().Find("self"), &f.Self); err != nil {
		return nil, errors.WithMessage(err, "invalid self")
	}
	if err := decode(jq.Reset().Find("dialogs"), &f.Dialogs); err != nil {
		return nil, errors.WithMessage(err, "invalid dialogs")
	}
	if err := decode(jq.Reset().Find("messages"), &f.Messages); err != nil {
		return nil, errors.WithMessage(err, "invalid messages")
	}

	steps, _ := jq.Reset().Find("steps").([]interface{})
	for i, item := range steps {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("step %d is not an object", i)
		}
		var st Step
		if err := decode(m, &st); err != nil {
			return nil, errors.WithMessagef(err, "invalid step %d", i)
		}
		if st.Op == OpUpdates {
			u, err := DecodeUpdates(m["updates"])
			if err != nil {
				return nil, errors.WithMessagef(err, "invalid step %d", i)
			}
			st.Updates = u
		}
		f.Steps = append(f.Steps, st)
	}
	return f, nil
}

// updateDecoders decode each update kind, keyed by its name.
var updateDecoders = map[string]func(map[string]interface{}) (raw.Update, error){
	raw.KindNewMessage.String():               decodeAs[raw.NewMessage],
	raw.KindEditMessage.String():              decodeAs[raw.EditMessage],
	raw.KindDeleteMessages.String():           decodeAs[raw.DeleteMessages],
	raw.KindReadHistoryInbox.String():         decodeAs[raw.ReadHistoryInbox],
	raw.KindReadHistoryOutbox.String():        decodeAs[raw.ReadHistoryOutbox],
	raw.KindDialogPinned.String():             decodeAs[raw.DialogPinned],
	raw.KindPinnedDialogsOrder.String():       decodeAs[raw.PinnedDialogsOrder],
	raw.KindMessageID.String():                decodeAs[raw.MessageID],
	raw.KindChannelAvailableMessages.String(): decodeAs[raw.ChannelAvailableMessages],
	raw.KindNotifySettings.String():           decodeAs[raw.NotifySettings],
	raw.KindDialogUnreadMark.String():         decodeAs[raw.DialogUnreadMark],
}

// DecodeUpdates decodes a list of updates. Each object names its variant in
// "kind" and holds the variant's fields.
func DecodeUpdates(data interface{}) ([]raw.Update, error) {
	list, ok := data.([]interface{})
	if !ok && data != nil {
		return nil, errors.Errorf("updates must be a list, got %T", data)
	}
	out := make([]raw.Update, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("update %d is not an object", i)
		}
		kind, _ := m["kind"].(string)
		dec, exists := updateDecoders[kind]
		if !exists {
			return nil, errors.Errorf("update %d has unknown kind %q", i, kind)
		}
		u, err := dec(m)
		if err != nil {
			return nil, errors.WithMessagef(err, "update %d (%s)", i, kind)
		}
		out = append(out, u)
	}
	return out, nil
}

func decodeAs[T raw.Update](m map[string]interface{}) (raw.Update, error) {
	var v T
	if err := decode(m, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// decode maps generic JSON into a typed value using the json tags. Fields
// without tags match case-insensitively.
func decode(in interface{}, out interface{}) error {
	if in == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       numberHook(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to build decoder")
	}
	return errors.Wrap(dec.Decode(in), "failed to decode")
}

// numberHook converts JSON numbers to the integer kinds IDs use.
func numberHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		n, ok := data.(json.Number)
		if !ok {
			return data, nil
		}
		switch to.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
			reflect.Int64, reflect.Uint, reflect.Uint8, reflect.Uint16,
			reflect.Uint32, reflect.Uint64:
			return n.Int64()
		case reflect.Float32, reflect.Float64:
			return n.Float64()
		}
		return data, nil
	}
}

// numberDecoder keeps JSON numbers exact so 64-bit IDs survive.
type numberDecoder struct{}

func (numberDecoder) Decode(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
