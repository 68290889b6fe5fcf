package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"SipExchange/internal/registrar"
	"SipExchange/internal/sipserver"
)

type HttpServer struct {
	reg       *registrar.Registrar
	calls     *sipserver.CallTable
	validator *validator.Validate
}

func NewHttpServer(reg *registrar.Registrar, calls *sipserver.CallTable) *HttpServer {
	return &HttpServer{
		reg:       reg,
		calls:     calls,
		validator: validator.New(),
	}
}

type UserView struct {
	Login      string `json:"login"`
	Registered bool   `json:"registered"`
	Contact    string `json:"contact,omitempty"`
	Source     string `json:"source,omitempty"`
	ExpiresIn  int    `json:"expires_in"`
}

type CallView struct {
	CallID    string    `json:"call_id"`
	Caller    string    `json:"caller"`
	Callee    string    `json:"callee"`
	StartedAt time.Time `json:"started_at"`
	Duration  int       `json:"duration"`
}

func userView(b registrar.Binding, now time.Time) UserView {
	v := UserView{Login: b.Username, Registered: b.IsRegistered(now)}
	if v.Registered {
		v.Contact = b.Contact
		v.Source = b.Source
		v.ExpiresIn = int(b.ExpiresAt.Sub(now).Seconds())
	}
	return v
}

func (s *HttpServer) ListUsers(w http.ResponseWriter, _ *http.Request) {
	now := s.reg.Now()
	bindings := s.reg.List()

	users := make([]UserView, 0, len(bindings))
	for _, b := range bindings {
		users = append(users, userView(b, now))
	}
	buildResponse(users, w, nil)
}

func (s *HttpServer) GetUser(w http.ResponseWriter, r *http.Request) {
	login := mux.Vars(r)["login"]

	if err := s.validator.Var(login, "required,alphanum,max=64"); err != nil {
		buildResponse(struct{}{}, w, err)
		return
	}

	b, ok := s.reg.Get(login)
	if !ok {
		buildResponse(struct{}{}, w, fmt.Errorf("get %q: %w", login, registrar.ErrUserNotFound))
		return
	}
	buildResponse(userView(b, s.reg.Now()), w, nil)
}

func (s *HttpServer) ListCalls(w http.ResponseWriter, _ *http.Request) {
	now := s.reg.Now()
	active := s.calls.List()

	calls := make([]CallView, 0, len(active))
	for _, c := range active {
		calls = append(calls, CallView{
			CallID:    c.CallID,
			Caller:    c.Caller,
			Callee:    c.Callee,
			StartedAt: c.StartedAt,
			Duration:  int(now.Sub(c.StartedAt).Seconds()),
		})
	}
	buildResponse(calls, w, nil)
}

func (s *HttpServer) Health(w http.ResponseWriter, _ *http.Request) {
	buildResponse(map[string]interface{}{
		"status":        "ok",
		"registrations": s.reg.Count(),
		"calls":         s.calls.Len(),
	}, w, nil)
}

func buildResponse(entity interface{}, w http.ResponseWriter, err error) {
	if err != nil {
		if errors.Is(err, registrar.ErrUserNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"errors": map[string]interface{}{
					"user": "user not found",
				},
			})
			return
		}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			errorsMap := map[string]interface{}{}
			for _, e := range verrs {
				var errText string
				switch e.Tag() {
				case "required":
					errText = "field is required"
				case "alphanum":
					errText = "field must be alphanumeric"
				case "max":
					errText = fmt.Sprintf("field max len %s", e.Param())
				default:
					errText = "invalid value"
				}

				field := e.Field()
				if field == "" {
					field = "login"
				}
				errorsMap[field] = errText
			}
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"errors": errorsMap,
			})
			return
		}

		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"errors": map[string]interface{}{
				"server": fmt.Sprintf("internal server error %v", err),
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": entity,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
