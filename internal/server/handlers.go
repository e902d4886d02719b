package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"chatus/internal/chat"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

type parsers struct {
	loginPool    fastjson.ParserPool
	sessionPool  fastjson.ParserPool
	textPool     fastjson.ParserPool
	imagePool    fastjson.ParserPool
	messagePool  fastjson.ParserPool
	editPool     fastjson.ParserPool
	viewportPool fastjson.ParserPool
}

type handler struct {
	logger   *zap.SugaredLogger
	backend  chat.Backend
	chatOpts []chat.Option
	sessions *registry
	parsers  parsers
	upgrader websocket.Upgrader
}

func newHandler(logger *zap.SugaredLogger, backend chat.Backend) *handler {
	return &handler{
		logger:   logger,
		backend:  backend,
		sessions: newRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

type draftResponse struct {
	Text  string         `json:"text"`
	Image *imageResponse `json:"image,omitempty"`
	Reply *chat.ReplyRef `json:"reply,omitempty"`
}

type imageResponse struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func newDraftResponse(d chat.Draft) draftResponse {
	resp := draftResponse{Text: d.Text, Reply: d.Reply}
	if d.Image != nil {
		resp.Image = &imageResponse{Name: d.Image.Name, Width: d.Image.Width, Height: d.Image.Height}
	}
	return resp
}

// parse returns the request body parsed by a parser taken from pool
// values are valid until the parser is put back
func parse(pool *fastjson.ParserPool, r *http.Request) (*fastjson.Parser, *fastjson.Value) {
	body, _ := io.ReadAll(r.Body)
	parser := pool.Get()
	v, _ := parser.ParseBytes(body)
	return parser, v
}

// stringField retrieves a string field and answers 400 when it is missing or malformed
func stringField(w http.ResponseWriter, v *fastjson.Value, name string, nonEmpty bool) (string, bool) {
	if !v.Exists(name) {
		http.Error(w, "Missing Field \""+name+"\"", http.StatusBadRequest)
		return "", false
	}

	b, err := v.Get(name).StringBytes()
	if err != nil {
		http.Error(w, "Field \""+name+"\" must be a string", http.StatusBadRequest)
		return "", false
	}

	s := string(b)
	if nonEmpty && len(strings.TrimSpace(s)) == 0 {
		http.Error(w, "Field \""+name+"\" must have non-zero length", http.StatusBadRequest)
		return "", false
	}

	return s, true
}

// session resolves the "session" field to a live session
func (h *handler) session(w http.ResponseWriter, v *fastjson.Value) (*session, bool) {
	token, ok := stringField(w, v, "session", true)
	if !ok {
		return nil, false
	}

	s, ok := h.sessions.get(token)
	if !ok {
		http.Error(w, "Unknown session", http.StatusUnauthorized)
		return nil, false
	}

	return s, true
}

func (h *handler) respond(w http.ResponseWriter, status int, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	if err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

// chatError maps chat errors to status codes
func (h *handler) chatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrNotAuthenticated):
		http.Error(w, "Not logged in", http.StatusUnauthorized)
	case errors.Is(err, chat.ErrMessageNotFound):
		http.Error(w, "Message does not exist", http.StatusNotFound)
	case errors.Is(err, chat.ErrNotAuthor):
		http.Error(w, "Only the author can change a message", http.StatusForbidden)
	case errors.Is(err, chat.ErrBlankText):
		http.Error(w, "Field \"text\" must have non-zero length", http.StatusBadRequest)
	case errors.Is(err, chat.ErrImageTooLarge):
		http.Error(w, "Image is too large", http.StatusRequestEntityTooLarge)
	case errors.Is(err, chat.ErrImageInvalid):
		http.Error(w, "Attachment is not a supported image", http.StatusUnsupportedMediaType)
	case errors.Is(err, chat.ErrWrite), errors.Is(err, chat.ErrUpload):
		http.Error(w, "Backend request failed, please try again", http.StatusBadGateway)
	default:
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// login handles HTTP requests on "/session/login" endpoint
// a known "session" is reused, otherwise a new session is created on success
func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	parser, v := parse(&h.parsers.loginPool, r)
	defer h.parsers.loginPool.Put(parser)

	email, ok := stringField(w, v, "email", true)
	if !ok {
		return
	}
	password, ok := stringField(w, v, "password", true)
	if !ok {
		return
	}

	var s *session
	if v.Exists("session") {
		token, ok := stringField(w, v, "session", true)
		if !ok {
			return
		}
		s, _ = h.sessions.get(token)
	}

	created := false
	if s == nil {
		sink := newSink(h.logger)
		client, err := chat.NewClient(h.logger, h.backend, sink, h.chatOpts...)
		if err != nil {
			h.logger.Error(err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		s = &session{token: xid.New().String(), client: client, sink: sink}
		created = true
	}

	id, err := s.client.Login(r.Context(), email, password)
	if err != nil {
		if created {
			_ = s.client.Close(context.Background())
		}
		if errors.Is(err, chat.ErrAuth) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if created {
		h.sessions.add(s)
	}

	h.respond(w, http.StatusOK, map[string]string{
		"session": s.token,
		"id":      id.ID,
		"label":   id.Label(),
	})
}

// logout handles HTTP requests on "/session/logout" endpoint
func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	parser, v := parse(&h.parsers.sessionPool, r)
	defer h.parsers.sessionPool.Put(parser)

	s, ok := h.session(w, v)
	if !ok {
		return
	}

	h.sessions.remove(s.token)
	if err := s.client.Logout(r.Context()); err != nil {
		h.logger.Warnf("logout of session %s: %v", s.token, err)
	}
	s.sink.close(websocket.CloseNormalClosure, "logged out")

	h.respond(w, http.StatusOK, map[string]bool{"authenticated": false})
}

// composeText handles HTTP requests on "/compose/text" endpoint
func (h *handler) composeText(w http.ResponseWriter, r *http.Request) {
	parser, v := parse(&h.parsers.textPool, r)
	defer h.parsers.textPool.Put(parser)

	s, ok := h.session(w, v)
	if !ok {
		return
	}
	text, ok := stringField(w, v, "text", false)
	if !ok {
		return
	}

	s.client.SetText(r.Context(), text)

	h.respond(w, http.StatusOK, newDraftResponse(s.client.Draft()))
}

// composeImage handles HTTP requests on "/compose/image" endpoint
// "data" carries the file base64 encoded
func (h *handler) composeImage(w http.ResponseWriter, r *http.Request) {
	parser, v := parse(&h.parsers.imagePool, r)
	defer h.parsers.imagePool.Put(parser)

	s, ok := h.session(w, v)
	if !ok {
		return
	}
	name, ok := stringField(w, v, "name", false)
	if !ok {
		return
	}
	encoded, ok := stringField(w, v, "data", true)
	if !ok {
		return
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		http.Error(w, "Field \"data\" must be base64 encoded", http.StatusBadRequest)
		return
	}

	if err := s.client.AttachImage(name, data); err != nil {
		h.chatError(w, err)
		return
	}

	h.respond(w, http.StatusOK, newDraftResponse(s.client.Draft()))
}

// composeImageClear handles HTTP requests on "/compose/image/clear" endpoint
func (h *handler) composeImageClear(w http.ResponseWriter, r *http.Request) {
	parser, v := parse(&h.parsers.sessionPool, r)
	defer h.parsers.sessionPool.Put(parser)

	s, ok := h.session(w, v)
	if !ok {
		return
	}

	s.client.ClearImage()

	h.respond(w, http.StatusOK, newDraftResponse(s.client.Draft()))
}

// composeReply handles HTTP requests on "/compose/reply" endpoint
func (h *handler) composeReply(w http.ResponseWriter, r *http.Request) {
	parser, v := parse(&h.parsers.messagePool, r)
	defer h.parsers.messagePool.Put(parser)

	s, ok := h.session(w, v)
	if !ok {
		return
	}
	messageID, ok := stringField(w, v, "message", true)
	if !ok {
		return
	}

	if err := s.client.Reply(messageID); err != nil {
		h.chatError(w, err)
		return
	}

	h.respond(w, http.StatusOK, newDraftResponse(s.client.Draft()))
}

// composeReplyCancel handles HTTP requests on "/compose/reply/cancel" endpoint
func (h *handler) composeReplyCancel(w http.ResponseWriter, r *http.Request) {
	parser, v := parse(&h.parsers.sessionPool, r)
	defer h.parsers.sessionPool.Put(parser)

	s, ok := h.session(w, v)
	if !ok {
		return
	}

	s.client.CancelReply()

	h.respond(w, http.StatusOK, newDraftResponse(s.client.Draft()))
}

// refusalReason names why a submit did nothing
func refusalReason(err error) string {
	switch {
	case errors.Is(err, chat.ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, chat.ErrSendInProgress):
		return "in_progress"
	default:
		return "empty"
	}
}

// composeSubmit handles HTTP requests on "/compose/submit" endpoint
// a refused submit is not an error, the response says nothing was sent
func (h *handler) composeSubmit(w http.ResponseWriter, r *http.Request) {
	parser, v := parse(&h.parsers.sessionPool, r)
	defer h.parsers.sessionPool.Put(parser)

	s, ok := h.session(w, v)
	if !ok {
		return
	}

	msg, err := s.client.Submit(r.Context())
	if err != nil {
		if errors.Is(err, chat.ErrRefused) {
			h.respond(w, http.StatusOK, map[string]interface{}{"sent": false, "reason": refusalReason(err)})
			return
		}
		h.chatError(w, err)
		return
	}

	h.respond(w, http.StatusCreated, map[string]interface{}{"sent": true, "id": msg.ID})
}

// messageAction has the shape of the chat.Client message methods as method expressions
type messageAction func(c *chat.Client, ctx context.Context, messageID string) error

// messageActionHandler builds handlers for endpoints taking a session and a message id
func (h *handler) messageActionHandler(action messageAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parser, v := parse(&h.parsers.messagePool, r)
		defer h.parsers.messagePool.Put(parser)

		s, ok := h.session(w, v)
		if !ok {
			return
		}
		messageID, ok := stringField(w, v, "message", true)
		if !ok {
			return
		}

		if err := action(s.client, r.Context(), messageID); err != nil {
			h.chatError(w, err)
			return
		}

		h.respond(w, http.StatusOK, map[string]string{"message": messageID})
	}
}

// editMessage handles HTTP requests on "/messages/edit" endpoint
func (h *handler) editMessage(w http.ResponseWriter, r *http.Request) {
	parser, v := parse(&h.parsers.editPool, r)
	defer h.parsers.editPool.Put(parser)

	s, ok := h.session(w, v)
	if !ok {
		return
	}
	messageID, ok := stringField(w, v, "message", true)
	if !ok {
		return
	}
	text, ok := stringField(w, v, "text", true)
	if !ok {
		return
	}

	if err := s.client.Edit(r.Context(), messageID, text); err != nil {
		h.chatError(w, err)
		return
	}

	h.respond(w, http.StatusOK, map[string]string{"message": messageID})
}

// viewport handles HTTP requests on "/feed/viewport" endpoint
func (h *handler) viewport(w http.ResponseWriter, r *http.Request) {
	parser, v := parse(&h.parsers.viewportPool, r)
	defer h.parsers.viewportPool.Put(parser)

	s, ok := h.session(w, v)
	if !ok {
		return
	}

	if !v.Exists("at_bottom") {
		http.Error(w, "Missing Field \"at_bottom\"", http.StatusBadRequest)
		return
	}
	atBottom, err := v.Get("at_bottom").Bool()
	if err != nil {
		http.Error(w, "Field \"at_bottom\" must be a boolean", http.StatusBadRequest)
		return
	}

	s.client.SetViewport(atBottom)

	h.respond(w, http.StatusOK, map[string]bool{"at_bottom": atBottom})
}

// feedWS handles websocket connections on "/feed/ws" endpoint
// the session's latest state is replayed on connect, client frames are ignored
func (h *handler) feedWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	s, ok := h.sessions.get(r.URL.Query().Get("session"))
	if !ok {
		http.Error(w, "Unknown session", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debugf("websocket upgrade: %v", err)
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.sink.attach(conn)

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.sink.ping(conn); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	close(done)
	s.sink.detach(conn)
	_ = conn.Close()
}

// closeSessions logs every session out and closes its connection
func (h *handler) closeSessions(ctx context.Context) {
	for _, s := range h.sessions.drain() {
		if err := s.client.Close(ctx); err != nil {
			h.logger.Warnf("closing session %s: %v", s.token, err)
		}
		s.sink.close(websocket.CloseGoingAway, "server shutdown")
	}
}
