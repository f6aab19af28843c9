package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/cooperblacks/liaotian/internal/auth"
	"github.com/cooperblacks/liaotian/internal/database"
	"github.com/cooperblacks/liaotian/internal/media"
	"github.com/cooperblacks/liaotian/internal/middleware"
	"github.com/cooperblacks/liaotian/internal/observability"
	"github.com/cooperblacks/liaotian/internal/realtime"
	"github.com/cooperblacks/liaotian/internal/settings"
	"github.com/cooperblacks/liaotian/internal/store"
)

// storeStatus maps store sentinels to HTTP statuses. Policy denials are
// also counted for metrics.
func storeStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrPolicyDenied):
		observability.PolicyDenied()
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConstraint):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ---------- Identity handlers ----------

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, status, err := s.authService.Signup(r.Context(), req, r.UserAgent(), r.RemoteAddr)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, status, session)
}

// handleToken implements the token endpoint with grant_type switching,
// password or refresh_token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		session *auth.Session
		status  int
		err     error
	)
	switch r.URL.Query().Get("grant_type") {
	case "refresh_token":
		session, status, err = s.authService.Refresh(r.Context(), req.RefreshToken, r.UserAgent(), r.RemoteAddr)
	default:
		session, status, err = s.authService.Login(r.Context(), req, r.UserAgent(), r.RemoteAddr)
	}
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, status, session)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	sessionID, _ := sess.Claims["session_id"].(string)
	s.authService.Logout(r.Context(), sess.UserID(), sessionID, r.URL.Query().Get("scope"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	user, err := s.authService.GetUser(r.Context(), sess.UserID())
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ---------- Profile handlers ----------

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	id := r.PathValue("id")

	if p, ok := s.profileCache.Get(r.Context(), id); ok {
		writeJSON(w, http.StatusOK, p)
		return
	}

	p, err := s.store.GetProfile(r.Context(), sess, id)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	s.profileCache.Set(r.Context(), p)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSearchProfiles(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)

	if username := r.URL.Query().Get("username"); username != "" {
		p, err := s.store.GetProfileByUsername(r.Context(), sess, username)
		if err != nil {
			writeError(w, storeStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}

	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q or username parameter is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	profiles, err := s.store.SearchProfiles(r.Context(), sess, q, limit)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	var upd store.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.store.UpdateProfile(r.Context(), sess, sess.UserID(), upd)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	s.profileCache.Set(r.Context(), p)
	writeJSON(w, http.StatusOK, p)
}

// ---------- Post handlers ----------

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	posts, err := s.store.Feed(r.Context(), sess, r.URL.Query().Get("author"), limit, offset)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (s *Server) handleFollowingFeed(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	posts, err := s.store.FollowingFeed(r.Context(), sess, limit, offset)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	var in store.PostCreate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if in.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	post, err := s.store.CreatePost(r.Context(), sess, in)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	var in struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	post, err := s.store.UpdatePost(r.Context(), sess, r.PathValue("id"), in.Content)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	if err := s.store.DeletePost(r.Context(), sess, r.PathValue("id")); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------- Follow handlers ----------

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	if err := s.store.Follow(r.Context(), sess, r.PathValue("id")); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	if err := s.store.Unfollow(r.Context(), sess, r.PathValue("id")); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFollowers(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	profiles, err := s.store.Followers(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) handleFollowing(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	profiles, err := s.store.Following(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) handleFollowCounts(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	followers, following, err := s.store.FollowCounts(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"followers": followers, "following": following})
}

// ---------- Message handlers ----------

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	var in store.MessageCreate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := s.store.SendMessage(r.Context(), sess, in)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}

	// Fan out after commit. Direct messages notify the recipient;
	// group messages notify subscribed members.
	if msg.GroupID != nil {
		s.hub.SendToGroup(*msg.GroupID, realtime.Event{Type: "message.group", Payload: msg})
	} else if msg.RecipientID != nil {
		s.hub.SendToUser(*msg.RecipientID, realtime.Event{Type: "message.direct", Payload: msg})
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	threads, err := s.store.Conversations(r.Context(), sess)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := s.store.Conversation(r.Context(), sess, r.PathValue("id"), limit)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	if err := s.store.MarkConversationRead(r.Context(), sess, r.PathValue("id")); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	if err := s.store.DeleteMessage(r.Context(), sess, r.PathValue("id")); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------- Group handlers ----------

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	var in struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	group, err := s.store.CreateGroup(r.Context(), sess, in.Name)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (s *Server) handleMyGroups(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	groups, err := s.store.MyGroups(r.Context(), sess)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	group, err := s.store.GetGroup(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	var upd store.GroupUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	group, err := s.store.UpdateGroup(r.Context(), sess, r.PathValue("id"), upd)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	if err := s.store.DeleteGroup(r.Context(), sess, r.PathValue("id")); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGroupMessages(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := s.store.GroupMessages(r.Context(), sess, r.PathValue("id"), limit)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleGroupMembers serves the roster. The caller's own SELECT policy
// only shows their own row, so membership is checked under the caller's
// session first and the roster read uses the service role.
func (s *Server) handleGroupMembers(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	groupID := r.PathValue("id")

	member, err := s.store.IsGroupMember(r.Context(), sess, groupID)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	if !member {
		observability.PolicyDenied()
		writeError(w, http.StatusForbidden, "not a member of this group")
		return
	}

	svc := store.Session{Role: database.RoleService, Claims: sess.Claims}
	members, err := s.store.GroupMembers(r.Context(), svc, groupID)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) handleAddGroupMember(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	var in struct {
		UserID  string `json:"user_id"`
		IsAdmin bool   `json:"is_admin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := s.store.AddGroupMember(r.Context(), sess, r.PathValue("id"), in.UserID, in.IsAdmin); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetGroupAdmin(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	var in struct {
		IsAdmin bool `json:"is_admin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.store.SetGroupAdmin(r.Context(), sess, r.PathValue("id"), r.PathValue("userId"), in.IsAdmin); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveGroupMember(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	if err := s.store.RemoveGroupMember(r.Context(), sess, r.PathValue("id"), r.PathValue("userId")); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------- Settings handlers ----------

func (s *Server) handleUpdateTheme(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	var in struct {
		Theme string `json:"theme"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, err := s.settings.UpdateTheme(r.Context(), sess, in.Theme)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, status, map[string]string{"theme": in.Theme})
}

func (s *Server) handleUpdateUsername(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	var in struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, status, err := s.settings.UpdateUsername(r.Context(), sess, in.Username)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, status, p)
}

func (s *Server) handleUpdateEmail(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	var in struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, err := s.settings.UpdateEmail(r.Context(), sess, in.Email)
	if err != nil {
		if errors.Is(err, settings.ErrIdentityService) && status >= 500 {
			writeError(w, status, "identity service error")
			return
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, status, map[string]string{"message": "email updated"})
}

func (s *Server) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	var in struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, err := s.settings.UpdatePassword(r.Context(), sess, in.Password)
	if err != nil {
		if errors.Is(err, settings.ErrIdentityService) && status >= 500 {
			writeError(w, status, "identity service error")
			return
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, status, map[string]string{"message": "password updated"})
}

func (s *Server) handleRequestVerification(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	var in struct {
		Request string `json:"request"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Request == "" {
		writeError(w, http.StatusBadRequest, "request is required")
		return
	}

	p, status, err := s.settings.RequestVerification(r.Context(), sess, in.Request)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, status, p)
}

// ---------- Media handlers ----------

func (s *Server) handleUploadMedia(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)

	if err := r.ParseMultipartForm(s.mediaStore.MaxSize()); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	key := r.FormValue("key")
	if key == "" {
		key = sess.UserID() + "/" + header.Filename
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	url, err := s.mediaStore.Upload(r.Context(), sess.UserID(), key, contentType, file)
	if err != nil {
		writeError(w, http.StatusBadGateway, "upload failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url, "key": key})
}

func (s *Server) handleDeleteMedia(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	key := r.PathValue("key")

	if err := s.mediaStore.Delete(r.Context(), sess.UserID(), key); err != nil {
		if errors.Is(err, media.ErrForbiddenKey) {
			observability.PolicyDenied()
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
