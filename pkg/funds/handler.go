package funds

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
)

// Handler serves fund data over HTTP.
type Handler struct {
	service *Service
	logger  tokens.Logger
}

// NewHandler creates a Handler.
func NewHandler(service *Service, logger tokens.Logger) *Handler {
	if logger == nil {
		logger = &tokens.NoopLogger{}
	}
	return &Handler{service: service, logger: logger}
}

// Register mounts the fund routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/funds", func(r chi.Router) {
		r.Get("/", h.fundNames)
		r.Get("/search", h.searchFunds)
		r.Get("/table", h.fundTable)
		r.Get("/{name}", h.fund)
		r.Get("/{name}/holdings", h.holdings)
		r.Get("/{name}/sectors", h.sectors)
		r.Get("/{name}/countries", h.countries)
	})
	r.Route("/stocks", func(r chi.Router) {
		r.Get("/", h.stocks)
		r.Get("/search", h.searchStocks)
		r.Get("/view", h.stockView)
	})
}

func (h *Handler) fundNames(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.FundNames(r.Context())
	h.respond(w, r, v, err)
}

func (h *Handler) searchFunds(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.SearchFunds(r.Context(), r.URL.Query().Get("q"))
	h.respond(w, r, v, err)
}

func (h *Handler) fundTable(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.FundTable(r.Context())
	h.respond(w, r, v, err)
}

func (h *Handler) fund(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.Fund(r.Context(), nameParam(r))
	h.respond(w, r, v, err)
}

func (h *Handler) holdings(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.Holdings(r.Context(), nameParam(r))
	h.respond(w, r, v, err)
}

func (h *Handler) sectors(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.Sectors(r.Context(), nameParam(r))
	h.respond(w, r, v, err)
}

func (h *Handler) countries(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.Countries(r.Context(), nameParam(r))
	h.respond(w, r, v, err)
}

func (h *Handler) stocks(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.Stocks(r.Context())
	h.respond(w, r, v, err)
}

func (h *Handler) searchStocks(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.SearchStocks(r.Context(), r.URL.Query().Get("q"))
	h.respond(w, r, v, err)
}

func (h *Handler) stockView(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.StockView(r.Context())
	h.respond(w, r, v, err)
}

// nameParam unescapes the fund name, which chi leaves escaped when the
// request path carries a raw form (e.g. %2F).
func nameParam(r *http.Request) string {
	name := chi.URLParam(r, "name")
	if unescaped, err := url.PathUnescape(name); err == nil {
		return unescaped
	}
	return name
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, v interface{}, err error) {
	status := http.StatusOK
	switch {
	case errors.Is(err, ErrFundNotFound):
		status, v = http.StatusNotFound, map[string]string{"error": "Fund not found"}
	case err != nil:
		h.logger.Error("failed to load fund data",
			tokens.Field{Key: "path", Value: r.URL.Path}, tokens.Field{Key: "error", Value: err})
		status, v = http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
