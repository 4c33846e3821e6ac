// Package contact implements the contact-form submission endpoint mounted by
// the server under /api/contact.
package contact

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/contact-gateway/internal/server"
	"github.com/tjfontaine/contact-gateway/internal/storage"
)

const (
	msgSent             = "Message sent successfully"
	msgValidationFailed = "Validation failed"
	msgMethodNotAllowed = "Method not allowed"
)

// StoreFunc resolves the store for a request. It fails when the connection is
// not ready.
type StoreFunc func(ctx context.Context) (storage.ContactStore, error)

// Handler serves the contact endpoint.
type Handler struct {
	router  chi.Router
	store   StoreFunc
	onError server.ErrorHandler
	logger  *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithErrorHandler routes unexpected errors to eh, normally the server's
// error stage.
func WithErrorHandler(eh server.ErrorHandler) Option {
	return func(h *Handler) {
		h.onError = eh
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// New returns a Handler storing submissions through store.
func New(store StoreFunc, opts ...Option) *Handler {
	h := &Handler{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.onError == nil {
		h.onError = server.NewErrorHandler(false, h.logger)
	}

	r := chi.NewRouter()
	r.NotFound(server.NotFoundHandler)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		server.WriteMessage(w, http.StatusMethodNotAllowed, false, msgMethodNotAllowed)
	})
	r.Post("/", h.handle(h.create))
	h.router = r

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// handle maps validation failures to 400 and everything else to the error
// stage.
func (h *Handler) handle(fn server.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}

		var verr *ValidationError
		if errors.As(err, &verr) {
			server.AddError(r.Context(), err)
			server.WriteJSON(w, http.StatusBadRequest, validationResponse{
				Success: false,
				Message: msgValidationFailed,
				Errors:  verr.Errors,
			})
			return
		}
		h.onError(w, r, err)
	}
}

type validationResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors"`
}

type createdData struct {
	ID string `json:"id"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) error {
	sub, err := FromBody(server.BodyFrom(r.Context()))
	if err != nil {
		return err
	}
	if err := sub.Validate(); err != nil {
		return err
	}

	store, err := h.store(r.Context())
	if err != nil {
		return err
	}

	c := &storage.Contact{
		Name:      sub.Name,
		Email:     sub.Email,
		Subject:   sub.Subject,
		Message:   sub.Message,
		IPAddress: server.ClientAddr(r.Context()),
		UserAgent: r.UserAgent(),
	}
	if err := store.CreateContact(r.Context(), c); err != nil {
		return err
	}

	server.AddLogField(r.Context(), "contact_id", c.ID)
	h.logger.Info("contact message stored",
		slog.String("request_id", server.GetRequestID(r.Context())),
		slog.String("contact_id", c.ID),
	)

	server.WriteJSON(w, http.StatusCreated, server.Response{
		Success: true,
		Message: msgSent,
		Data:    createdData{ID: c.ID},
	})
	return nil
}
