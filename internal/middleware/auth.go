package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/auth"
	"github.com/dukerupert/chorebank/internal/store"
	"github.com/dukerupert/chorebank/internal/tenant"
)

// Identity headers set by the authenticating gateway in front of the API.
const (
	HeaderFamilyID = "X-Family-ID"
	HeaderUserID   = "X-User-ID"
)

// RequireIdentity loads the caller named by the identity headers and stores
// the resulting actor in the request context. The role always comes from the
// database, never from the request.
func RequireIdentity(users *store.UserStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			familyID, err := headerID(r, HeaderFamilyID)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			userID, err := headerID(r, HeaderUserID)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			user, err := users.GetByID(r.Context(), familyID, userID)
			if errors.Is(err, apperr.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unknown user")
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to load user")
				return
			}
			if !user.Active {
				writeError(w, http.StatusForbidden, "user is inactive")
				return
			}

			a := tenant.Actor{FamilyID: familyID, UserID: userID, Role: user.Role}
			noteActor(r.Context(), a)
			next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), a)))
		})
	}
}

// RequireParent rejects callers that are not parents.
func RequireParent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsParent(r.Context()) {
			writeError(w, http.StatusForbidden, "parents only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func headerID(r *http.Request, name string) (int64, error) {
	v := r.Header.Get(name)
	if v == "" {
		return 0, fmt.Errorf("missing %s header", name)
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s header", name)
	}
	return id, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
