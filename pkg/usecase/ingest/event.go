package ingest

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

const EventMessagesUpsert = "messages.upsert"

// normalizeEvent maps "MESSAGES_UPSERT" to "messages.upsert"
func normalizeEvent(event string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(event), "_", "."))
}

// webhookEvent is the subset of the Evolution API webhook payload we read
type webhookEvent struct {
	Event    string      `json:"event"`
	Instance string      `json:"instance"`
	Data     messageData `json:"data"`
}

type messageData struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName         string       `json:"pushName"`
	Message          *messageBody `json:"message"`
	MessageTimestamp unixSeconds  `json:"messageTimestamp"`
}

type messageBody struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
}

func (x *messageBody) text() string {
	if x == nil {
		return ""
	}
	if x.Conversation != "" {
		return x.Conversation
	}
	if x.ExtendedTextMessage != nil {
		return x.ExtendedTextMessage.Text
	}
	return ""
}

// unixSeconds accepts a JSON number or a numeric string. Zero means absent.
type unixSeconds int64

func (x *unixSeconds) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*x = 0
		return nil
	}

	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return goerr.Wrap(err, "invalid messageTimestamp")
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*x = 0
			return nil
		}
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return goerr.Wrap(err, "invalid messageTimestamp", goerr.V("value", raw))
	}
	*x = unixSeconds(v)
	return nil
}
