package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codicle/authcore"
	"github.com/codicle/authcore/identity"
	"github.com/codicle/authcore/middleware"
)

type signupBody struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type verifyBody struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type forgotBody struct {
	Email string `json:"email"`
}

type resetBody struct {
	Email       string `json:"email"`
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type signInBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type externalBody struct {
	Provider   string `json:"provider"`
	ExternalID string `json:"external_id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	AvatarURL  string `json:"avatar_url"`
}

type refreshBody struct {
	Token string `json:"token"`
}

type profileBody struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatar_url"`
	Bio       *string `json:"bio"`
}

type sessionView struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Kind      string    `json:"kind"`
	Subject   string    `json:"subject"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
}

type profileView struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	AvatarURL        string    `json:"avatar_url,omitempty"`
	Bio              string    `json:"bio,omitempty"`
	ExternalProvider string    `json:"external_provider,omitempty"`
	HasPassword      bool      `json:"has_password"`
	Followers        []string  `json:"followers"`
	Following        []string  `json:"following"`
	CreatedAt        time.Time `json:"created_at"`
}

func newSessionView(tok authcore.SessionToken, id authcore.SessionIdentity) sessionView {
	return sessionView{
		Token:     tok.Value,
		ExpiresAt: tok.ExpiresAt.UTC(),
		Kind:      id.Kind.String(),
		Subject:   id.Subject,
		Name:      id.Name,
		Email:     id.Email,
	}
}

func newProfileView(rec identity.Identity) profileView {
	v := profileView{
		ID:               rec.ID,
		Email:            rec.Email,
		Name:             rec.Name,
		AvatarURL:        rec.AvatarURL,
		Bio:              rec.Bio,
		ExternalProvider: rec.ExternalProvider,
		HasPassword:      rec.HasPassword(),
		Followers:        rec.Followers,
		Following:        rec.Following,
		CreatedAt:        rec.CreatedAt.UTC(),
	}
	if v.Followers == nil {
		v.Followers = []string{}
	}
	if v.Following == nil {
		v.Following = []string{}
	}
	return v
}

func (a *api) requestCode(w http.ResponseWriter, r *http.Request) {
	var body signupBody
	if !decodeJSON(w, r, &body) {
		return
	}
	err := a.svc.RequestCode(r.Context(), authcore.SignupRequest{Email: body.Email, Name: body.Name, Password: body.Password})
	if err != nil {
		a.fail(w, r, "request_code", err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "code_sent"})
}

// verifyCode materializes the account and signs it in, returning a session.
func (a *api) verifyCode(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	if !decodeJSON(w, r, &body) {
		return
	}
	created, err := a.svc.VerifyCode(r.Context(), authcore.VerifyRequest{
		Email:    body.Email,
		Code:     body.Code,
		Name:     body.Name,
		Password: body.Password,
	})
	if err != nil {
		a.fail(w, r, "verify_code", err)
		return
	}

	id, err := a.svc.SignIn(r.Context(), authcore.Credentials{Email: created.Email, Password: body.Password, AfterSignup: true})
	if err != nil {
		a.fail(w, r, "verify_code", err)
		return
	}
	a.writeSession(w, r, http.StatusCreated, id)
}

func (a *api) requestReset(w http.ResponseWriter, r *http.Request) {
	var body forgotBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := a.svc.RequestReset(r.Context(), body.Email); err != nil {
		a.fail(w, r, "request_reset", err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "link_sent"})
}

func (a *api) completeReset(w http.ResponseWriter, r *http.Request) {
	var body resetBody
	if !decodeJSON(w, r, &body) {
		return
	}
	err := a.svc.CompleteReset(r.Context(), authcore.ResetRequest{Email: body.Email, Token: body.Token, NewPassword: body.NewPassword})
	if err != nil {
		a.fail(w, r, "complete_reset", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "password_changed"})
}

func (a *api) signIn(w http.ResponseWriter, r *http.Request) {
	var body signInBody
	if !decodeJSON(w, r, &body) {
		return
	}
	id, err := a.svc.SignIn(r.Context(), authcore.Credentials{Email: body.Email, Password: body.Password})
	if err != nil {
		a.fail(w, r, "sign_in", err)
		return
	}
	a.writeSession(w, r, http.StatusOK, id)
}

func (a *api) signInExternal(w http.ResponseWriter, r *http.Request) {
	var body externalBody
	if !decodeJSON(w, r, &body) {
		return
	}
	id, err := a.svc.SignInExternal(r.Context(), authcore.ExternalAssertion{
		Provider:   body.Provider,
		ExternalID: body.ExternalID,
		Email:      body.Email,
		Name:       body.Name,
		AvatarURL:  body.AvatarURL,
	})
	if err != nil {
		a.fail(w, r, "sign_in_external", err)
		return
	}
	a.writeSession(w, r, http.StatusOK, id)
}

// refresh accepts the token in the body or as a bearer header.
func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &body) {
			return
		}
	}
	token := body.Token
	if token == "" {
		token, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		token = strings.TrimSpace(token)
	}
	if token == "" {
		writeError(w, r, http.StatusBadRequest, "MISSING_FIELDS", "token is required")
		return
	}

	issued, id, err := a.svc.Refresh(r.Context(), token)
	if err != nil {
		a.fail(w, r, "refresh", err)
		return
	}
	writeJSON(w, r, http.StatusOK, newSessionView(issued, id))
}

func (a *api) writeSession(w http.ResponseWriter, r *http.Request, status int, id authcore.SessionIdentity) {
	tok, err := a.svc.IssueToken(id)
	if err != nil {
		a.fail(w, r, "issue_token", err)
		return
	}
	writeJSON(w, r, status, newSessionView(tok, id))
}

func (a *api) me(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.IdentityFromContext(r.Context())
	rec, err := a.svc.Identity(r.Context(), sess.Subject)
	if err != nil {
		a.fail(w, r, "me", err)
		return
	}
	writeJSON(w, r, http.StatusOK, newProfileView(rec))
}

func (a *api) updateProfile(w http.ResponseWriter, r *http.Request) {
	var body profileBody
	if !decodeJSON(w, r, &body) {
		return
	}
	sess, _ := middleware.IdentityFromContext(r.Context())
	rec, err := a.svc.UpdateProfile(r.Context(), sess.Subject, authcore.ProfileUpdate{
		Name:      body.Name,
		AvatarURL: body.AvatarURL,
		Bio:       body.Bio,
	})
	if err != nil {
		a.fail(w, r, "update_profile", err)
		return
	}
	writeJSON(w, r, http.StatusOK, newProfileView(rec))
}

func (a *api) follow(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.IdentityFromContext(r.Context())
	if err := a.svc.Follow(r.Context(), sess.Subject, chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, "follow", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) unfollow(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.IdentityFromContext(r.Context())
	if err := a.svc.Unfollow(r.Context(), sess.Subject, chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, "unfollow", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
