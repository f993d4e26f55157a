package access

import (
	"testing"

	"filevault/pkg/domain"
)

func TestEvaluate(t *testing.T) {
	owner := &domain.User{ID: "u-owner", Email: "owner@example.com"}
	shared := &domain.User{ID: "u-shared", Email: "Shared@Example.com"}
	stranger := &domain.User{ID: "u-stranger", Email: "stranger@example.com"}
	file := domain.File{
		ID:         "f-1",
		OwnerID:    "u-owner",
		ShareToken: "tok-123",
		Users:      []string{"shared@example.com"},
	}
	unshared := file
	unshared.ShareToken = ""

	tests := []struct {
		name      string
		principal *domain.User
		file      domain.File
		token     string
		want      domain.Role
	}{
		{"owner", owner, file, "", domain.RoleOwner},
		{"owner wins over token", owner, file, "tok-123", domain.RoleOwner},
		{"shared user case-insensitive", shared, file, "", domain.RoleSharedUser},
		{"shared user with token stays shared", shared, file, "tok-123", domain.RoleSharedUser},
		{"stranger", stranger, file, "", domain.RoleNone},
		{"stranger with token", stranger, file, "tok-123", domain.RolePublic},
		{"anonymous with token", nil, file, "tok-123", domain.RolePublic},
		{"anonymous with wrong token", nil, file, "tok-124", domain.RoleNone},
		{"token on disabled link", nil, unshared, "tok-123", domain.RoleNone},
		{"empty token never matches empty share token", nil, unshared, "", domain.RoleNone},
		{"user without id is not owner of ownerless file", &domain.User{}, domain.File{}, "", domain.RoleNone},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(tc.principal, tc.file, tc.token); got != tc.want {
				t.Fatalf("Evaluate = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEvaluateIsPure(t *testing.T) {
	user := &domain.User{ID: "u-2", Email: "b@example.com"}
	file := domain.File{OwnerID: "u-1", Users: []string{"B@example.com"}}
	for i := 0; i < 3; i++ {
		if got := Evaluate(user, file, ""); got != domain.RoleSharedUser {
			t.Fatalf("iteration %d: role %q", i, got)
		}
	}
	if len(file.Users) != 1 || file.Users[0] != "B@example.com" {
		t.Fatalf("evaluate must not mutate the file: %+v", file.Users)
	}
}

func TestCan(t *testing.T) {
	shared := &domain.User{ID: "u-2", Email: "b@example.com"}
	file := domain.File{OwnerID: "u-1", Users: []string{"b@example.com"}}
	if !Can(shared, file, "", domain.OpDownload) {
		t.Fatalf("shared user should download")
	}
	if Can(shared, file, "", domain.OpRename) {
		t.Fatalf("shared user must not rename")
	}
}
