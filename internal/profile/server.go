package profile

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"github.com/CodexForgeBR/appboot/internal/model"
)

// MemoryStore holds profiles for the development server.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]model.User
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]model.User)}
}

// Get returns the profile for id.
func (m *MemoryStore) Get(id string) (model.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok
}

// Put replaces the profile for u.ID.
func (m *MemoryStore) Put(u model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *MemoryStore) update(id string, fn func(*model.User)) (model.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, false
	}
	fn(&u)
	m.users[id] = u
	return u, true
}

// Server exposes a MemoryStore over HTTP. When Secret is set, every /users
// request must carry a bearer token signed with it whose subject matches
// the path.
type Server struct {
	Store  *MemoryStore
	Secret []byte
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	users := r.PathPrefix("/users/{id}").Subrouter()
	users.Use(s.authorize)
	users.HandleFunc("", s.getUser).Methods(http.MethodGet)
	users.HandleFunc("", s.putUser).Methods(http.MethodPut)
	users.HandleFunc("/onboarding-step", s.setStep).Methods(http.MethodPatch)
	users.HandleFunc("/phone-type", s.setPhoneType).Methods(http.MethodPatch)
	users.HandleFunc("/steps/{step}", s.markDone).Methods(http.MethodPost)
	users.HandleFunc("/onboarding/complete", s.complete).Methods(http.MethodPost)
	return r
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.Secret) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return s.Secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if claims.Subject != mux.Vars(r)["id"] {
			writeError(w, http.StatusForbidden, "token subject does not match user")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	u, ok := s.Store.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) putUser(w http.ResponseWriter, r *http.Request) {
	var u model.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	u.ID = mux.Vars(r)["id"]
	s.Store.Put(u)
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) setStep(w http.ResponseWriter, r *http.Request) {
	var body stepRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	step, err := model.ParseStep(body.Step)
	if err != nil || step == "" {
		writeError(w, http.StatusBadRequest, "unknown onboarding step")
		return
	}
	s.respondUpdate(w, r, func(u *model.User) { u.CurrentOnboardingStep = step })
}

func (s *Server) setPhoneType(w http.ResponseWriter, r *http.Request) {
	var body phoneRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	phone, err := model.ParsePhoneType(body.PhoneType)
	if err != nil || phone == "" {
		writeError(w, http.StatusBadRequest, "unknown phone type")
		return
	}
	s.respondUpdate(w, r, func(u *model.User) { u.Phone = phone })
}

func (s *Server) markDone(w http.ResponseWriter, r *http.Request) {
	step, err := model.ParseStep(mux.Vars(r)["step"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown onboarding step")
		return
	}
	s.respondUpdate(w, r, func(u *model.User) {
		switch step {
		case model.StepSecureStorage:
			u.HasSecureStorageSetup = true
		case model.StepPermissions:
			u.HasPermissions = true
		case model.StepAppleDriver:
			u.HasAppleDriver = true
		case model.StepEmailConnect:
			u.HasCompletedEmailOnboarding = true
		}
	})
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request) {
	var body completeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	at := body.CompletedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	s.respondUpdate(w, r, func(u *model.User) {
		u.OnboardingCompletedAt = &at
		u.CurrentOnboardingStep = ""
	})
}

func (s *Server) respondUpdate(w http.ResponseWriter, r *http.Request, fn func(*model.User)) {
	u, ok := s.Store.update(mux.Vars(r)["id"], fn)
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
