package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/dukerupert/chorebank/internal/auth"
	"github.com/dukerupert/chorebank/internal/database"
	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/store"
	"github.com/dukerupert/chorebank/internal/tenant"
)

type identityFixture struct {
	users    *store.UserStore
	familyID int64
	parent   *model.User
	child    *model.User
}

func setupIdentityDB(t *testing.T) identityFixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	fam, err := store.NewFamilyStore(db).Create(ctx, "Smith")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	users := store.NewUserStore(db)
	parent, err := users.Create(ctx, fam.ID, "Alex", "", model.RoleParent)
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child, err := users.Create(ctx, fam.ID, "Jo", "", model.RoleChild)
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	return identityFixture{users: users, familyID: fam.ID, parent: parent, child: child}
}

func identityRequest(familyID, userID int64) *http.Request {
	req := httptest.NewRequest("GET", "/", nil)
	if familyID != 0 {
		req.Header.Set(HeaderFamilyID, strconv.FormatInt(familyID, 10))
	}
	if userID != 0 {
		req.Header.Set(HeaderUserID, strconv.FormatInt(userID, 10))
	}
	return req
}

func TestRequireIdentity(t *testing.T) {
	f := setupIdentityDB(t)

	var got tenant.Actor
	handler := RequireIdentity(f.users)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, ok := auth.ActorFromContext(r.Context())
		if !ok {
			t.Fatal("actor missing from context")
		}
		got = a
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, identityRequest(f.familyID, f.child.ID))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	want := tenant.Actor{FamilyID: f.familyID, UserID: f.child.ID, Role: model.RoleChild}
	if got != want {
		t.Errorf("actor = %+v, want %+v", got, want)
	}
}

func TestRequireIdentityRejects(t *testing.T) {
	f := setupIdentityDB(t)
	if err := f.users.Deactivate(context.Background(), f.familyID, f.child.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	handler := RequireIdentity(f.users)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	tests := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"no headers", identityRequest(0, 0), http.StatusUnauthorized},
		{"no user", identityRequest(f.familyID, 0), http.StatusUnauthorized},
		{"unknown user", identityRequest(f.familyID, 9999), http.StatusUnauthorized},
		{"wrong family", identityRequest(f.familyID+1, f.parent.ID), http.StatusUnauthorized},
		{"inactive user", identityRequest(f.familyID, f.child.ID), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, tt.req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	req := identityRequest(f.familyID, f.parent.ID)
	req.Header.Set(HeaderUserID, "abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("malformed id: status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireParentAllowed(t *testing.T) {
	handler := RequireParent(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ctx := auth.WithActor(context.Background(), tenant.Actor{FamilyID: 1, UserID: 1, Role: model.RoleParent})
	req := httptest.NewRequest("GET", "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRequireParentForbidden(t *testing.T) {
	handler := RequireParent(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	ctx := auth.WithActor(context.Background(), tenant.Actor{FamilyID: 1, UserID: 2, Role: model.RoleTeen})
	req := httptest.NewRequest("GET", "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}
