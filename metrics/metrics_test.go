////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////
package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	UpdatesApplied.WithLabelValues("newMessage").Inc()
	Sends.WithLabelValues("confirmed").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	require.True(t, strings.Contains(body,
		`chatsync_updates_applied_total{kind="newMessage"}`), body)
	require.True(t, strings.Contains(body, "chatsync_sends_total"), body)
}
