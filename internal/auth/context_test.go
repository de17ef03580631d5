package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/dukerupert/chorebank/internal/model"
	"github.com/dukerupert/chorebank/internal/tenant"
)

func TestWithActorAndFromContext(t *testing.T) {
	a := tenant.Actor{FamilyID: 2, UserID: 1, Role: model.RoleParent}

	ctx := WithActor(context.Background(), a)
	got, ok := ActorFromContext(ctx)
	if !ok {
		t.Fatal("expected Actor in context")
	}
	if got != a {
		t.Errorf("actor = %+v, want %+v", got, a)
	}
	if !IsParent(ctx) {
		t.Error("expected IsParent = true")
	}
}

func TestFromContextMissing(t *testing.T) {
	ctx := context.Background()
	if _, ok := ActorFromContext(ctx); ok {
		t.Error("expected false for missing Actor")
	}
	if IsParent(ctx) {
		t.Error("expected IsParent = false for missing context")
	}
}

func TestIsParentChild(t *testing.T) {
	ctx := WithActor(context.Background(), tenant.Actor{Role: model.RoleChild})
	if IsParent(ctx) {
		t.Error("expected IsParent = false for child role")
	}
}

func TestPIN(t *testing.T) {
	hash, err := HashPIN("1234")
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}
	if err := VerifyPIN(hash, "1234"); err != nil {
		t.Errorf("verify correct pin: %v", err)
	}
	if err := VerifyPIN(hash, "4321"); !errors.Is(err, ErrWrongPIN) {
		t.Errorf("wrong pin err = %v, want ErrWrongPIN", err)
	}
	if err := VerifyPIN("", "1234"); !errors.Is(err, ErrNoPIN) {
		t.Errorf("no pin err = %v, want ErrNoPIN", err)
	}

	for _, bad := range []string{"", "123", "12345", "12a4"} {
		if _, err := HashPIN(bad); !errors.Is(err, ErrInvalidPIN) {
			t.Errorf("HashPIN(%q) err = %v, want ErrInvalidPIN", bad, err)
		}
	}
}
