package flow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound is one customer message extracted from a webhook delivery.
type Inbound struct {
	From  string
	Name  string
	Type  string
	Key   string
	Title string
}

type webhookEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
					Interactive struct {
						ListReply   *reply `json:"list_reply"`
						ButtonReply *reply `json:"button_reply"`
					} `json:"interactive"`
					Button struct {
						Payload string `json:"payload"`
						Text    string `json:"text"`
					} `json:"button"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ParseWebhook extracts customer messages from a WhatsApp Cloud API webhook body.
// Status callbacks carry no messages and yield an empty slice.
func ParseWebhook(body []byte) ([]Inbound, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}

	var out []Inbound
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			names := map[string]string{}
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			var firstName string
			if len(change.Value.Contacts) > 0 {
				firstName = change.Value.Contacts[0].Profile.Name
			}

			for _, m := range change.Value.Messages {
				in := Inbound{From: m.From, Type: m.Type, Name: names[m.From]}
				if in.Name == "" {
					in.Name = firstName
				}
				switch m.Type {
				case "text":
					in.Key = strings.TrimSpace(m.Text.Body)
				case "interactive":
					r := m.Interactive.ListReply
					if r == nil {
						r = m.Interactive.ButtonReply
					}
					if r != nil {
						in.Key, in.Title = r.ID, r.Title
					}
				case "button":
					in.Key, in.Title = m.Button.Payload, m.Button.Text
				}
				if in.From == "" {
					continue
				}
				out = append(out, in)
			}
		}
	}
	return out, nil
}
