// forum/handlers.go
package forum

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/rs/zerolog"
)

const sessionUserKey = "userID"

type Handlers struct {
	store   Store
	posts   *PostService
	reads   *ReadTracker
	merges  *MergeCoordinator
	lister  *Lister
	Session *scs.SessionManager
	log     zerolog.Logger
	now     func() time.Time
}

func NewHandlers(store Store, posts *PostService, reads *ReadTracker, merges *MergeCoordinator, lister *Lister, session *scs.SessionManager, log zerolog.Logger) *Handlers {
	return &Handlers{
		store:   store,
		posts:   posts,
		reads:   reads,
		merges:  merges,
		lister:  lister,
		Session: session,
		log:     log.With().Str("component", "http").Logger(),
		now:     defaultClock,
	}
}

func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /forums", h.index)
	mux.HandleFunc("GET /forums/{id}", h.showForum)
	mux.HandleFunc("POST /forums/{id}/topics", h.createTopic)
	mux.HandleFunc("GET /topics/{id}", h.showTopic)
	mux.HandleFunc("POST /topics/{id}/posts", h.createPost)
	mux.HandleFunc("POST /topics/{id}/sticky", h.setSticky)
	mux.HandleFunc("POST /topics/{id}/closed", h.setClosed)
	mux.HandleFunc("POST /topics/merge", h.mergeTopics)
	mux.HandleFunc("GET /posts/{id}", h.locatePost)
	mux.HandleFunc("POST /posts/{id}/edit", h.editPost)
	mux.HandleFunc("POST /posts/{id}/delete", h.deletePost)
	mux.HandleFunc("POST /read/all", h.markAllRead)
	mux.HandleFunc("GET /users", h.listUsers)
	mux.HandleFunc("GET /users/{handle}", h.showUser)
	mux.HandleFunc("GET /users/{handle}/topics", h.userTopics)
	mux.HandleFunc("POST /register", h.register)
	mux.HandleFunc("POST /login", h.login)
	mux.HandleFunc("POST /logout", h.logout)
}

func (h *Handlers) viewer(r *http.Request) Viewer {
	return ViewerFor(h.Session.GetString(r.Context(), sessionUserKey))
}

func (h *Handlers) index(w http.ResponseWriter, r *http.Request) {
	data, err := h.lister.Index(r.Context(), h.viewer(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, data)
}

func (h *Handlers) showForum(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	data, err := h.lister.ForumPage(r.Context(), h.viewer(r), id, pageParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, data)
}

// showTopic counts the view and marks the topic read before listing posts.
func (h *Handlers) showTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.posts.ViewTopic(r.Context(), h.viewer(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	data, err := h.lister.TopicPage(r.Context(), id, pageParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, data)
}

type topicRequest struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

func (h *Handlers) createTopic(w http.ResponseWriter, r *http.Request) {
	forumID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req topicRequest
	if !h.decode(w, r, &req) {
		return
	}
	topic, post, err := h.posts.CreateTopic(r.Context(), h.viewer(r), forumID, req.Name, req.Body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, map[string]any{"topic": topic, "post": post})
}

type postRequest struct {
	Body string `json:"body"`
}

func (h *Handlers) createPost(w http.ResponseWriter, r *http.Request) {
	topicID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req postRequest
	if !h.decode(w, r, &req) {
		return
	}
	post, err := h.posts.AddPost(r.Context(), h.viewer(r), topicID, req.Body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, post)
}

func (h *Handlers) editPost(w http.ResponseWriter, r *http.Request) {
	postID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req PostEdit
	if !h.decode(w, r, &req) {
		return
	}
	post, err := h.posts.EditPost(r.Context(), h.viewer(r), postID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, post)
}

func (h *Handlers) deletePost(w http.ResponseWriter, r *http.Request) {
	postID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	res, err := h.posts.DeletePost(r.Context(), h.viewer(r), postID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, res)
}

type flagRequest struct {
	Value bool `json:"value"`
}

func (h *Handlers) setSticky(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, h.posts.SetSticky)
}

func (h *Handlers) setClosed(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, h.posts.SetClosed)
}

func (h *Handlers) setFlag(w http.ResponseWriter, r *http.Request, set func(ctx context.Context, actor Viewer, topicID int64, v bool) (Topic, error)) {
	topicID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req flagRequest
	if !h.decode(w, r, &req) {
		return
	}
	topic, err := set(r.Context(), h.viewer(r), topicID, req.Value)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, topic)
}

func (h *Handlers) mergeTopics(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.merges.Merge(r.Context(), h.viewer(r), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, res)
}

func (h *Handlers) locatePost(w http.ResponseWriter, r *http.Request) {
	postID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	topicID, page, err := h.posts.PostLocation(r.Context(), postID, h.lister.PostPageSize())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]int64{"topic_id": topicID, "page": int64(page), "post_id": postID})
}

func (h *Handlers) markAllRead(w http.ResponseWriter, r *http.Request) {
	if err := h.reads.AdvanceGlobalFloor(r.Context(), h.viewer(r), h.now()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	data, err := h.lister.Users(r.Context(), r.URL.Query().Get("q"), pageParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, data)
}

func (h *Handlers) showUser(w http.ResponseWriter, r *http.Request) {
	data, err := h.lister.UserDetails(r.Context(), r.PathValue("handle"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, data)
}

func (h *Handlers) userTopics(w http.ResponseWriter, r *http.Request) {
	data, err := h.lister.UserTopics(r.Context(), h.viewer(r), r.PathValue("handle"), pageParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, data)
}

type credentials struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

func (h *Handlers) register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !h.decode(w, r, &req) {
		return
	}
	user, err := RegisterUser(r.Context(), h.store, req.Handle, req.Password, false)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !h.startSession(w, r, user) {
		return
	}
	h.respond(w, http.StatusCreated, user)
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !h.decode(w, r, &req) {
		return
	}
	user, err := Authenticate(r.Context(), h.store, req.Handle, req.Password)
	if err != nil {
		if ErrorReason(err) == ReasonUnauthenticated {
			h.respondError(w, http.StatusUnauthorized, "invalid handle or password")
			return
		}
		h.fail(w, r, err)
		return
	}
	if !h.startSession(w, r, user) {
		return
	}
	h.respond(w, http.StatusOK, user)
}

func (h *Handlers) startSession(w http.ResponseWriter, r *http.Request, user User) bool {
	if err := h.Session.RenewToken(r.Context()); err != nil {
		h.fail(w, r, err)
		return false
	}
	h.Session.Put(r.Context(), sessionUserKey, user.ID)
	return true
}

func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Destroy(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		h.respondError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func pageParam(r *http.Request) int {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	return page
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handlers) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("encode response")
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Code   Code   `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, msg string) {
	h.respond(w, status, errorBody{Error: msg})
}

// fail maps domain errors onto HTTP statuses.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), Code: ErrorCode(err), Reason: ErrorReason(err)}
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		if status == http.StatusInternalServerError {
			body.Error = "internal error"
		}
	}
	h.respond(w, status, body)
}

func statusFor(err error) int {
	switch ErrorCode(err) {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodePreconditionFailed:
		switch ErrorReason(err) {
		case ReasonNotModerator, ReasonNotAuthor:
			return http.StatusForbidden
		case ReasonUnauthenticated:
			return http.StatusUnauthorized
		}
		return http.StatusConflict
	case CodeTxConflict:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
