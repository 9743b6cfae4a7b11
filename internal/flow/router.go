package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"fotoagenda/internal/booking"
	"fotoagenda/internal/database"
	"fotoagenda/internal/events"
	"fotoagenda/internal/metrics"
	"fotoagenda/internal/models"
	"fotoagenda/internal/state"
)

// Users persists customers seen on the chat.
type Users interface {
	UpsertUser(ctx context.Context, phone, name string) (*models.User, error)
	SetNeedsAttention(ctx context.Context, userID int64, flag bool) error
}

// Services looks up catalog services by code.
type Services interface {
	GetServiceByCode(ctx context.Context, code string) (*models.Service, error)
}

// Bookings opens booking intents and escalates bookings.
type Bookings interface {
	CreateIntent(ctx context.Context, userID, serviceID int64, sourceOption string) (*models.BookingIntent, error)
	OpenIntent(ctx context.Context, userID int64) (*models.BookingIntent, error)
	FlagLatestForDoubts(ctx context.Context, userID int64) (*models.Booking, error)
}

// Publisher publishes domain events.
type Publisher interface {
	PublishPayload(eventType string, payload any)
}

const (
	doubtsNode = "dudas"

	msgUnknown     = "No entendí tu mensaje. Elige una de las opciones del menú."
	msgClosed      = "Gracias por escribirnos. Estamos para ayudarte."
	msgNoService   = "El servicio seleccionado no está configurado todavía."
	msgBookingText = "Servicio: %s\nElige la fecha y hora de tu sesión en el calendario. El enlace es personal."
	msgQuoteText   = "Servicio: %s\nAqui puedes revisar detalles y precios:"
	msgPending     = "Tu enlace para agendar sigue activo. Escribe \"menu\" para ver otras opciones."
)

var restartWords = map[string]bool{"hola": true, "menu": true, "menú": true, "inicio": true}

// Router resolves inbound chat messages against the active flow.
type Router struct {
	flow      atomic.Pointer[Flow]
	users     Users
	services  Services
	bookings  Bookings
	states    state.Store
	publisher Publisher
	logger    *zerolog.Logger

	baseURL  string
	quoteURL string
	now      func() time.Time
}

// RouterConfig carries the links the router hands out.
type RouterConfig struct {
	BaseURL         string
	DefaultQuoteURL string
}

func NewRouter(f *Flow, users Users, services Services, bookings Bookings, states state.Store,
	publisher Publisher, cfg RouterConfig, logger *zerolog.Logger) *Router {
	r := &Router{
		users:     users,
		services:  services,
		bookings:  bookings,
		states:    states,
		publisher: publisher,
		logger:    logger,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		quoteURL:  cfg.DefaultQuoteURL,
		now:       time.Now,
	}
	r.flow.Store(f)
	return r
}

// Flow returns the active flow.
func (r *Router) Flow() *Flow {
	return r.flow.Load()
}

// SetFlow swaps the active flow. Conversations keep their node key and fall
// back to the start node when the key no longer exists.
func (r *Router) SetFlow(f *Flow) {
	r.flow.Store(f)
}

// BookingURL is the calendar link for an intent token.
func (r *Router) BookingURL(token string) string {
	return fmt.Sprintf("%s/calendario/%s/", r.baseURL, token)
}

// Handle routes one inbound message and returns the replies to send.
func (r *Router) Handle(ctx context.Context, in Inbound) ([]Payload, error) {
	metrics.IncWebhookMessage(in.Type)

	user, err := r.users.UpsertUser(ctx, in.From, in.Name)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	conv := r.conversation(ctx, user)

	f := r.Flow()
	start := f.Start()
	if start == nil {
		return nil, errors.New("flow has no nodes")
	}

	key := strings.TrimSpace(in.Key)
	if restartWords[strings.ToLower(key)] {
		return r.moveTo(ctx, user, start, models.StateIdle)
	}

	node, opt := f.FindOption(conv.ActiveNode, key)
	if opt == nil && in.Title != "" {
		node, opt = f.FindOption(conv.ActiveNode, in.Title)
	}
	if opt == nil {
		r.logger.Debug().Str("from", in.From).Str("key", key).Msg("Unmatched chat message")
		if conv.State == models.StateBooking {
			if out, ok := r.resendLink(ctx, user); ok {
				return out, nil
			}
		}
		out := []Payload{textMessage(in.From, msgUnknown)}
		rest, err := r.moveTo(ctx, user, start, models.StateIdle)
		return append(out, rest...), err
	}

	r.logger.Debug().
		Int64("user_id", user.ID).
		Str("node", node.Key).
		Str("option", opt.TriggerKey).
		Msg("Chat option selected")
	return r.apply(ctx, user, in, opt)
}

func (r *Router) apply(ctx context.Context, user *models.User, in Inbound, opt *Option) ([]Payload, error) {
	f := r.Flow()
	switch a := opt.Action.(type) {
	case GoToMessage:
		next := f.Node(a.Next)
		if next == nil {
			return nil, fmt.Errorf("option %q points to unknown node %q", opt.TriggerKey, a.Next)
		}
		if isDoubts(next, opt) {
			r.escalate(ctx, user, in)
		}
		return r.moveTo(ctx, user, next, models.StateIdle)

	case GoToStart:
		return r.moveTo(ctx, user, f.Start(), models.StateIdle)

	case OpenLink:
		out := []Payload{textMessage(user.Phone, a.URL)}
		return r.follow(ctx, user, out, a.Next, models.StateIdle)

	case QuoteService:
		svc, err := r.service(ctx, a.Service)
		if err != nil {
			return nil, err
		}
		if svc == nil {
			return []Payload{textMessage(user.Phone, msgNoService)}, nil
		}
		link := svc.QuoteURL
		if link == "" {
			link = r.quoteURL
		}
		out := []Payload{textMessage(user.Phone, fmt.Sprintf(msgQuoteText, svc.Name))}
		if link != "" {
			out = append(out, textMessage(user.Phone, link))
		}
		return r.follow(ctx, user, out, a.Next, models.StateQuote)

	case BookService:
		svc, err := r.service(ctx, a.Service)
		if err != nil {
			return nil, err
		}
		if svc == nil {
			return []Payload{textMessage(user.Phone, msgNoService)}, nil
		}
		intent, err := r.bookings.CreateIntent(ctx, user.ID, svc.ID, opt.TriggerKey)
		if err != nil {
			if errors.Is(err, booking.ErrNotFound) {
				return []Payload{textMessage(user.Phone, msgNoService)}, nil
			}
			return nil, fmt.Errorf("create intent: %w", err)
		}
		link := r.BookingURL(intent.Token)
		if err := r.save(ctx, user.ID, models.StateBooking, ""); err != nil {
			return nil, err
		}
		return []Payload{
			ctaURLMessage(user.Phone, fmt.Sprintf(msgBookingText, svc.Name), "Agendar cita", link),
			textMessage(user.Phone, link),
		}, nil

	case Close:
		if err := r.save(ctx, user.ID, models.StateIdle, ""); err != nil {
			return nil, err
		}
		return []Payload{textMessage(user.Phone, msgClosed)}, nil

	default:
		return nil, fmt.Errorf("unsupported action %T", opt.Action)
	}
}

// resendLink repeats the calendar link of the user's open intent.
func (r *Router) resendLink(ctx context.Context, user *models.User) ([]Payload, bool) {
	intent, err := r.bookings.OpenIntent(ctx, user.ID)
	if err != nil {
		if !errors.Is(err, booking.ErrNotFound) {
			r.logger.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to load open intent")
		}
		return nil, false
	}
	link := r.BookingURL(intent.Token)
	return []Payload{
		ctaURLMessage(user.Phone, msgPending, "Agendar cita", link),
		textMessage(user.Phone, link),
	}, true
}

// follow appends the next node when set and records where the customer is.
func (r *Router) follow(ctx context.Context, user *models.User, out []Payload, next string, st models.ConversationState) ([]Payload, error) {
	if n := r.Flow().Node(next); n != nil {
		rest, err := r.moveTo(ctx, user, n, st)
		return append(out, rest...), err
	}
	return out, r.save(ctx, user.ID, st, "")
}

func (r *Router) moveTo(ctx context.Context, user *models.User, n *Node, st models.ConversationState) ([]Payload, error) {
	if err := r.save(ctx, user.ID, st, n.Key); err != nil {
		return nil, err
	}
	out := renderNode(user.Phone, n)
	if next := r.Flow().Node(n.DefaultNext); next != nil && n.Interaction == InteractionMessage && next != n {
		out = append(out, renderNode(user.Phone, next)...)
		if err := r.save(ctx, user.ID, st, next.Key); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Router) conversation(ctx context.Context, user *models.User) models.Conversation {
	conv, err := r.states.Get(ctx, user.ID)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			r.logger.Warn().Err(err).Int64("user_id", user.ID).Msg("Conversation lookup failed, using stored user state")
		}
		return user.Conversation()
	}
	return *conv
}

func (r *Router) save(ctx context.Context, userID int64, st models.ConversationState, node string) error {
	c := models.Conversation{State: st, ActiveNode: node, UpdatedAt: r.now().UTC()}
	if err := r.states.Save(ctx, userID, c); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (r *Router) service(ctx context.Context, code string) (*models.Service, error) {
	svc, err := r.services.GetServiceByCode(ctx, code)
	if errors.Is(err, database.ErrNotFound) || (err == nil && !svc.IsActive) {
		r.logger.Warn().Str("service", code).Msg("Flow references a missing or inactive service")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get service %s: %w", code, err)
	}
	return svc, nil
}

// escalate flags the chat and the latest booking for staff follow-up.
// Failures are logged; the customer still gets the doubts message.
func (r *Router) escalate(ctx context.Context, user *models.User, in Inbound) {
	metrics.IncEscalation()
	if err := r.users.SetNeedsAttention(ctx, user.ID, true); err != nil {
		r.logger.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to flag chat")
	}

	payload := events.AttentionPayload{
		UserID: user.ID,
		Phone:  user.Phone,
		Name:   user.Name,
		Text:   fallback(in.Title, in.Key),
	}
	b, err := r.bookings.FlagLatestForDoubts(ctx, user.ID)
	switch {
	case err == nil:
		payload.BookingID = b.ID
	case errors.Is(err, booking.ErrNotFound):
	default:
		r.logger.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to flag booking for doubts")
	}

	if r.publisher != nil {
		r.publisher.PublishPayload(events.ChatNeedsAttention, payload)
	}
}

func isDoubts(next *Node, opt *Option) bool {
	return strings.EqualFold(next.Key, doubtsNode) || strings.Contains(strings.ToLower(opt.Title), "duda")
}
