// Package flow drives the WhatsApp conversation through a menu of nodes and options.
package flow

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Interaction is how a node presents itself after its text.
type Interaction string

const (
	InteractionMessage    Interaction = "message"
	InteractionOptionList Interaction = "option_list"
	InteractionURLButton  Interaction = "url_button"
)

// Action is what picking an option does. Each variant carries only the fields it needs.
type Action interface {
	actionName() string
}

// GoToMessage moves the conversation to another node.
type GoToMessage struct{ Next string }

// GoToStart returns to the start node.
type GoToStart struct{}

// OpenLink sends a URL and optionally continues to a node.
type OpenLink struct{ URL, Next string }

// QuoteService sends the quote link of a service and optionally continues to a node.
type QuoteService struct{ Service, Next string }

// BookService opens a booking intent and sends the calendar link.
type BookService struct{ Service string }

// Close ends the conversation.
type Close struct{}

func (GoToMessage) actionName() string  { return "go_to_message" }
func (GoToStart) actionName() string    { return "go_to_start" }
func (OpenLink) actionName() string     { return "open_link" }
func (QuoteService) actionName() string { return "quote_service" }
func (BookService) actionName() string  { return "book_service" }
func (Close) actionName() string        { return "close" }

// Option is a selectable row of a node menu.
type Option struct {
	TriggerKey  string
	Title       string
	Description string
	Action      Action
}

// Node is one message of the flow.
type Node struct {
	Key             string
	Title           string
	MessageText     string
	Interaction     Interaction
	MenuTitle       string
	MenuDescription string
	MenuButtonText  string
	LinkButtonText  string
	LinkButtonURL   string
	IsStart         bool
	DefaultNext     string
	Options         []Option
}

// Flow is an ordered set of nodes.
type Flow struct {
	Name  string
	Nodes []*Node
	index map[string]*Node
}

// Node returns the node with key, or nil.
func (f *Flow) Node(key string) *Node {
	return f.index[strings.ToLower(key)]
}

// Start returns the start node, or the first node when none is flagged.
func (f *Flow) Start() *Node {
	for _, n := range f.Nodes {
		if n.IsStart {
			return n
		}
	}
	if len(f.Nodes) > 0 {
		return f.Nodes[0]
	}
	return nil
}

// FindOption looks for key on the active node first and then across the flow,
// matching trigger keys before titles. Matching ignores case.
func (f *Flow) FindOption(activeNode, key string) (*Node, *Option) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	match := []func(o *Option) bool{
		func(o *Option) bool { return strings.EqualFold(o.TriggerKey, key) },
		func(o *Option) bool { return strings.EqualFold(o.Title, key) },
	}
	for _, m := range match {
		if n := f.Node(activeNode); n != nil {
			for i := range n.Options {
				if m(&n.Options[i]) {
					return n, &n.Options[i]
				}
			}
		}
		for _, n := range f.Nodes {
			for i := range n.Options {
				if m(&n.Options[i]) {
					return n, &n.Options[i]
				}
			}
		}
	}
	return nil, nil
}

type optionConfig struct {
	TriggerKey  string `yaml:"trigger_key"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Action      string `yaml:"action"`
	Next        string `yaml:"next"`
	Service     string `yaml:"service"`
	URL         string `yaml:"url"`
}

type nodeConfig struct {
	Key             string         `yaml:"key"`
	Title           string         `yaml:"title"`
	Message         string         `yaml:"message"`
	Interaction     string         `yaml:"interaction"`
	MenuTitle       string         `yaml:"menu_title"`
	MenuDescription string         `yaml:"menu_description"`
	MenuButtonText  string         `yaml:"menu_button_text"`
	LinkButtonText  string         `yaml:"link_button_text"`
	LinkButtonURL   string         `yaml:"link_button_url"`
	Start           bool           `yaml:"start"`
	DefaultNext     string         `yaml:"default_next"`
	Options         []optionConfig `yaml:"options"`
}

type flowConfig struct {
	Name  string       `yaml:"name"`
	Nodes []nodeConfig `yaml:"nodes"`
}

// Load reads a flow definition from a YAML file.
func Load(path string) (*Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML flow definition.
func Parse(data []byte) (*Flow, error) {
	var cfg flowConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse flow: %w", err)
	}

	f := &Flow{Name: cfg.Name}
	for _, nc := range cfg.Nodes {
		n := &Node{
			Key:             nc.Key,
			Title:           nc.Title,
			MessageText:     nc.Message,
			Interaction:     Interaction(nc.Interaction),
			MenuTitle:       nc.MenuTitle,
			MenuDescription: nc.MenuDescription,
			MenuButtonText:  nc.MenuButtonText,
			LinkButtonText:  nc.LinkButtonText,
			LinkButtonURL:   nc.LinkButtonURL,
			IsStart:         nc.Start,
			DefaultNext:     nc.DefaultNext,
		}
		if n.Interaction == "" {
			n.Interaction = InteractionMessage
			if len(nc.Options) > 0 {
				n.Interaction = InteractionOptionList
			}
		}
		for _, oc := range nc.Options {
			action, err := oc.action()
			if err != nil {
				return nil, fmt.Errorf("node %s option %q: %w", nc.Key, oc.Title, err)
			}
			key := oc.TriggerKey
			if key == "" {
				key = slug(oc.Title)
			}
			n.Options = append(n.Options, Option{TriggerKey: key, Title: oc.Title, Description: oc.Description, Action: action})
		}
		f.Nodes = append(f.Nodes, n)
	}

	if err := f.build(); err != nil {
		return nil, err
	}
	return f, nil
}

func (oc optionConfig) action() (Action, error) {
	switch oc.Action {
	case "go_to_message", "":
		if oc.Next == "" {
			return nil, fmt.Errorf("go_to_message needs next")
		}
		return GoToMessage{Next: oc.Next}, nil
	case "go_to_start":
		return GoToStart{}, nil
	case "open_link":
		if oc.URL == "" {
			return nil, fmt.Errorf("open_link needs url")
		}
		return OpenLink{URL: oc.URL, Next: oc.Next}, nil
	case "quote_service":
		if oc.Service == "" {
			return nil, fmt.Errorf("quote_service needs service")
		}
		return QuoteService{Service: oc.Service, Next: oc.Next}, nil
	case "book_service":
		if oc.Service == "" {
			return nil, fmt.Errorf("book_service needs service")
		}
		return BookService{Service: oc.Service}, nil
	case "close":
		return Close{}, nil
	}
	return nil, fmt.Errorf("unknown action %q", oc.Action)
}

// build indexes nodes and checks that every reference resolves.
func (f *Flow) build() error {
	if len(f.Nodes) == 0 {
		return fmt.Errorf("flow has no nodes")
	}
	f.index = make(map[string]*Node, len(f.Nodes))
	for _, n := range f.Nodes {
		k := strings.ToLower(n.Key)
		if k == "" {
			return fmt.Errorf("node %q has no key", n.Title)
		}
		if _, dup := f.index[k]; dup {
			return fmt.Errorf("duplicate node key %s", n.Key)
		}
		f.index[k] = n
	}

	for _, n := range f.Nodes {
		if n.DefaultNext != "" && f.Node(n.DefaultNext) == nil {
			return fmt.Errorf("node %s: unknown default_next %s", n.Key, n.DefaultNext)
		}
		for _, o := range n.Options {
			if next := nextOf(o.Action); next != "" && f.Node(next) == nil {
				return fmt.Errorf("node %s option %q: unknown next node %s", n.Key, o.Title, next)
			}
		}
	}
	return nil
}

func nextOf(a Action) string {
	switch a := a.(type) {
	case GoToMessage:
		return a.Next
	case OpenLink:
		return a.Next
	case QuoteService:
		return a.Next
	}
	return ""
}

func slug(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
