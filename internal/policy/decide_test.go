package policy

import (
	"testing"

	"github.com/hitoshi/skillport/internal/model"
)

func userWithRole(r model.Role) *model.User {
	return &model.User{ID: "u1", Email: "u1@example.com", Name: "u1", Role: r}
}

func TestDecide_Loading_RendersNothingElse(t *testing.T) {
	// ローディング中は公開パスでもローディング表示のみ
	for _, path := range []string{"/", "/admin/dashboard"} {
		got := Decide(GuardState{IsLoading: true}, path)
		if got.Kind != ActionLoading {
			t.Errorf("Decide(loading, %q).Kind = %q, want %q", path, got.Kind, ActionLoading)
		}
	}
}

func TestDecide_PublicPath_RendersWithoutUser(t *testing.T) {
	for _, path := range []string{"/", "/login", "/registration/employer/step-1"} {
		got := Decide(GuardState{}, path)
		if got.Kind != ActionRender {
			t.Errorf("Decide(nil user, %q).Kind = %q, want %q", path, got.Kind, ActionRender)
		}
	}
}

func TestDecide_NoUser_RedirectsToLoginPreservingPath(t *testing.T) {
	got := Decide(GuardState{}, "/employer/projects")

	if got.Kind != ActionRedirect {
		t.Fatalf("Kind = %q, want %q", got.Kind, ActionRedirect)
	}
	if got.Path != "/login?redirect_uri=%2Femployer%2Fprojects" {
		t.Errorf("Path = %q", got.Path)
	}
	if got.ReturnTo != "/employer/projects" {
		t.Errorf("ReturnTo = %q, want %q", got.ReturnTo, "/employer/projects")
	}
}

func TestDecide_AllowedRoles_RedirectsToUnauthorized(t *testing.T) {
	got := Decide(GuardState{User: userWithRole(model.RoleEmployer)}, "/messages", model.RoleAdmin, model.RoleEducator)

	if got.Kind != ActionRedirect || got.Path != UnauthorizedPath {
		t.Errorf("Decide = %+v, want redirect to %q", got, UnauthorizedPath)
	}
}

func TestDecide_AllowedRoles_Permitted(t *testing.T) {
	got := Decide(GuardState{User: userWithRole(model.RoleAdmin)}, "/admin/users", model.RoleAdmin)

	if got.Kind != ActionRender {
		t.Errorf("Kind = %q, want %q", got.Kind, ActionRender)
	}
}

func TestDecide_ParticipantVisitsAdmin_RedirectsToOwnDashboard(t *testing.T) {
	got := Decide(GuardState{User: userWithRole(model.RoleParticipant)}, "/admin/dashboard")

	if got.Kind != ActionRedirect {
		t.Fatalf("Kind = %q, want %q", got.Kind, ActionRedirect)
	}
	if got.Path != "/participant/dashboard" {
		t.Errorf("Path = %q, want %q", got.Path, "/participant/dashboard")
	}
}

func TestDecide_RoleMismatch_AllCombinations(t *testing.T) {
	for _, userRole := range model.AllRoles() {
		for _, pathRole := range model.AllRoles() {
			path := "/" + string(pathRole) + "/anything"
			got := Decide(GuardState{User: userWithRole(userRole)}, path)

			if userRole == pathRole {
				if got.Kind != ActionRender {
					t.Errorf("user %q on %q: Kind = %q, want render", userRole, path, got.Kind)
				}
				continue
			}
			if got.Kind != ActionRedirect || got.Path != DefaultPath(userRole) {
				t.Errorf("user %q on %q: got %+v, want redirect to %q", userRole, path, got, DefaultPath(userRole))
			}
		}
	}
}

func TestDecide_NonRolePath_NoForcedRedirect(t *testing.T) {
	got := Decide(GuardState{User: userWithRole(model.RoleEducator)}, "/messages/thread-1")

	if got.Kind != ActionRender {
		t.Errorf("Kind = %q, want %q", got.Kind, ActionRender)
	}
}
