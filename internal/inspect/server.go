// Package inspect — локальный отладочный HTTP: снимок кеша каналов, статус шифрования, /metrics.
package inspect

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/messenger/chansync/internal/channelstore"
	"github.com/messenger/chansync/internal/logger"
	"github.com/messenger/chansync/internal/metrics"
	"github.com/messenger/chansync/internal/middleware"
	"github.com/messenger/chansync/internal/model"
)

// StatusSource — текущий статус шифрования. Реализуется *encryption.Bootstrap.
type StatusSource interface {
	Status() model.EncryptionStatus
}

type Options struct {
	Store      channelstore.Snapshot
	Encryption StatusSource
	Metrics    *metrics.Metrics
	// AllowedOrigins — список через запятую.
	AllowedOrigins string
	Token          string
}

type handler struct {
	store channelstore.Snapshot
	enc   StatusSource
}

// NewHandler собирает роутер отладочного сервера.
func NewHandler(opts Options) http.Handler {
	h := &handler{store: opts.Store, enc: opts.Encryption}
	var origins []string
	for _, o := range strings.Split(opts.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(middleware.LocalOnly(opts.Token))
	r.Use(middleware.RateLimit(50, 100))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "X-Inspect-Token"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", opts.Metrics.Handler())
	r.Route("/debug", func(r chi.Router) {
		r.Get("/channels", h.listChannels)
		r.Get("/channels/{id}", h.getChannel)
		r.Get("/pagination", h.getPagination)
		r.Get("/folders", h.getFolders)
		r.Get("/encryption", h.getEncryption)
	})
	return r
}

type channelsResponse struct {
	Channels []model.Channel `json:"channels"`
	Total    int             `json:"total"`
}

// listChannels: ?filter=direct|group&scope=<folder/group>&offset=&limit=
func (h *handler) listChannels(w http.ResponseWriter, r *http.Request) {
	filter := model.ChannelFilter(r.URL.Query().Get("filter"))
	scope := r.URL.Query().Get("scope")

	all := h.store.Channels()
	out := make([]model.Channel, 0, len(all))
	for _, c := range all {
		b := model.BucketFor(c)
		if filter != "" && filter != model.FilterAll && b.Filter != filter {
			continue
		}
		if scope != "" && b.ScopeID != scope {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	total := len(out)
	offset := min(queryInt(r, "offset", 0), total)
	limit := queryInt(r, "limit", 100)
	end := min(offset+limit, total)
	writeJSON(w, http.StatusOK, channelsResponse{Channels: out[offset:end], Total: total})
}

type channelResponse struct {
	Channel      model.Channel  `json:"channel"`
	Members      []model.Member `json:"members"`
	Fetching     bool           `json:"fetching"`
	FetchError   string         `json:"fetch_error,omitempty"`
	HasSecret    bool           `json:"has_secret"`
	HasFileToken bool           `json:"has_file_token"`
}

func (h *handler) getChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, ok := h.store.Channel(id)
	if !ok {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}
	resp := channelResponse{
		Channel:  c,
		Members:  h.store.Members(c.Participants),
		Fetching: h.store.IsFetching(model.ChannelKey(id)),
	}
	if err := h.store.FetchError(model.ChannelKey(id)); err != nil {
		resp.FetchError = err.Error()
	}
	_, resp.HasSecret = h.store.Secret(id)
	_, resp.HasFileToken = h.store.FileToken(id)
	writeJSON(w, http.StatusOK, resp)
}

type paginationResponse struct {
	Key        string               `json:"key"`
	Meta       model.PaginationMeta `json:"meta"`
	IsLastPage bool                 `json:"is_last_page"`
}

func (h *handler) getPagination(w http.ResponseWriter, r *http.Request) {
	filter := model.ChannelFilter(r.URL.Query().Get("filter"))
	if filter == "" {
		filter = model.FilterAll
	}
	key := model.PaginationKey{Filter: filter, ScopeID: r.URL.Query().Get("scope")}
	meta, ok := h.store.Pagination(key)
	if !ok {
		writeError(w, http.StatusNotFound, "no pages loaded for "+key.String())
		return
	}
	writeJSON(w, http.StatusOK, paginationResponse{Key: key.String(), Meta: meta, IsLastPage: meta.IsLastPage()})
}

func (h *handler) getFolders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"loaded": h.store.FoldersLoaded(), "folders": h.store.Folders()})
}

func (h *handler) getEncryption(w http.ResponseWriter, r *http.Request) {
	if h.enc == nil {
		writeError(w, http.StatusServiceUnavailable, "encryption bootstrap not running")
		return
	}
	st := h.enc.Status()
	writeJSON(w, http.StatusOK, map[string]any{"status": st, "terminal": st.Terminal()})
}

// ListenAndServe обслуживает handler на addr до отмены ctx, затем плавно останавливается.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("inspect server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("inspect server shutdown: %v", err)
	}
	logger.Info("inspect server stopped")
	return nil
}
