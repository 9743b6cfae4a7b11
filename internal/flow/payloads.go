package flow

// Payload is an outbound WhatsApp Cloud API message.
type Payload struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type,omitempty"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *TextBody    `json:"text,omitempty"`
	Interactive      *Interactive `json:"interactive,omitempty"`
}

type TextBody struct {
	Body string `json:"body"`
}

type Interactive struct {
	Type   string            `json:"type"`
	Header *InteractiveText  `json:"header,omitempty"`
	Body   InteractiveBody   `json:"body"`
	Action InteractiveAction `json:"action"`
}

type InteractiveText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type InteractiveBody struct {
	Text string `json:"text"`
}

type InteractiveAction struct {
	Button     string         `json:"button,omitempty"`
	Sections   []ListSection  `json:"sections,omitempty"`
	Name       string         `json:"name,omitempty"`
	Parameters *CTAParameters `json:"parameters,omitempty"`
}

type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type CTAParameters struct {
	DisplayText string `json:"display_text"`
	URL         string `json:"url"`
}

// WhatsApp list row titles are capped at 24 characters and descriptions at 72.
const (
	maxRowTitle       = 24
	maxRowDescription = 72
)

func textMessage(to, body string) Payload {
	return Payload{MessagingProduct: "whatsapp", To: to, Type: "text", Text: &TextBody{Body: body}}
}

func listMessage(to, header, body, button string, rows []ListRow) Payload {
	return Payload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive: &Interactive{
			Type:   "list",
			Header: &InteractiveText{Type: "text", Text: header},
			Body:   InteractiveBody{Text: body},
			Action: InteractiveAction{Button: button, Sections: []ListSection{{Title: "Opciones", Rows: rows}}},
		},
	}
}

func ctaURLMessage(to, body, button, url string) Payload {
	return Payload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive: &Interactive{
			Type: "cta_url",
			Body: InteractiveBody{Text: body},
			Action: InteractiveAction{
				Name:       "cta_url",
				Parameters: &CTAParameters{DisplayText: button, URL: url},
			},
		},
	}
}

// renderNode builds the messages that present a node.
func renderNode(to string, n *Node) []Payload {
	var out []Payload
	if n.MessageText != "" {
		out = append(out, textMessage(to, n.MessageText))
	}

	switch n.Interaction {
	case InteractionOptionList:
		if len(n.Options) == 0 {
			break
		}
		rows := make([]ListRow, 0, len(n.Options))
		for _, o := range n.Options {
			rows = append(rows, ListRow{
				ID:          o.TriggerKey,
				Title:       truncate(o.Title, maxRowTitle),
				Description: truncate(o.Description, maxRowDescription),
			})
		}
		out = append(out, listMessage(to,
			fallback(n.MenuTitle, n.Title),
			fallback(n.MenuDescription, "Selecciona una opción."),
			fallback(n.MenuButtonText, "Ver opciones"),
			rows))
	case InteractionURLButton:
		if n.LinkButtonURL != "" {
			out = append(out, ctaURLMessage(to,
				fallback(n.MenuDescription, "Haz clic en el botón para continuar."),
				fallback(n.LinkButtonText, "Abrir enlace"),
				n.LinkButtonURL))
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
