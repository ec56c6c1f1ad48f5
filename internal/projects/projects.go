// Package projects manages projects and their memberships: creation,
// listing, ownership-conditional deletion and collaborator invitations.
package projects

import (
	"context"

	"devfusion/app/internal/store"
	"devfusion/app/pkg/errors"
	"devfusion/app/pkg/logger"
)

// Project is one project row.
type Project struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	OwnerID       string `json:"owner_id"`
	GithubRepoURL string `json:"github_repo_url"`
	CreatedAt     string `json:"created_at"`
}

// Membership links a user to a project with a role.
type Membership struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
}

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Contributor is a user row returned by the invite search.
type Contributor struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// Service performs project operations against the remote store.
type Service struct {
	client *store.Client
	log    *logger.Logger
}

func NewService(client *store.Client, log *logger.Logger) *Service {
	return &Service{client: client, log: log}
}

// Create makes a project and its owner membership in one store procedure,
// so a partially-created project can never appear in a listing.
func (s *Service) Create(ctx context.Context, ownerID, name, description string) (*Project, error) {
	params := map[string]string{
		"p_name":        name,
		"p_description": description,
		"p_owner":       ownerID,
	}
	var project Project
	if err := s.client.RPC(ctx, "create_project_with_membership", params, &project); err != nil {
		return nil, errors.NewRemoteStoreError("creating project", err)
	}
	s.log.Info("project created", "project_id", project.ID, "owner_id", ownerID)
	return &project, nil
}

// ListForUser returns every project the user is a member of: membership
// rows first, then the projects by id set.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Project, error) {
	var memberships []Membership
	err := s.client.From("project_members").
		Select("project_id, user_id, role").
		Eq("user_id", userID).
		Get(ctx, &memberships)
	if err != nil {
		return nil, errors.NewRemoteStoreError("listing memberships", err)
	}
	if len(memberships) == 0 {
		return []Project{}, nil
	}

	ids := make([]string, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.ProjectID)
	}

	var projects []Project
	err = s.client.From("projects").
		Select("id, name, description, owner_id, github_repo_url, created_at").
		In("id", ids).
		Order("created_at", false).
		Get(ctx, &projects)
	if err != nil {
		return nil, errors.NewRemoteStoreError("listing projects", err)
	}
	return projects, nil
}

// Get fetches one project by id. A missing row comes back as a not-found
// error so the caller can redirect to a safe view.
func (s *Service) Get(ctx context.Context, projectID string) (*Project, error) {
	var project Project
	err := s.client.From("projects").
		Select("id, name, description, owner_id, github_repo_url, created_at").
		Eq("id", projectID).
		Single().
		Get(ctx, &project)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, errors.NewNotFoundError("PROJECT_NOT_FOUND", "project not found")
		}
		return nil, errors.NewRemoteStoreError("fetching project", err)
	}
	return &project, nil
}

// membershipRole returns the requester's role in the project, or a
// forbidden error when they are not a member at all.
func (s *Service) membershipRole(ctx context.Context, projectID, userID string) (string, error) {
	var membership Membership
	err := s.client.From("project_members").
		Select("project_id, user_id, role").
		Eq("project_id", projectID).
		Eq("user_id", userID).
		Single().
		Get(ctx, &membership)
	if err != nil {
		if store.IsNotFound(err) {
			return "", errors.NewForbiddenError("NOT_A_MEMBER", "not a member of this project")
		}
		return "", errors.NewRemoteStoreError("checking membership", err)
	}
	return membership.Role, nil
}

// Delete applies the ownership-conditional cascade: the owner removes all
// membership rows and then the project itself; any other member removes
// only their own membership and the project persists for everyone else.
// The role check happens before any mutation.
func (s *Service) Delete(ctx context.Context, projectID, userID string) error {
	role, err := s.membershipRole(ctx, projectID, userID)
	if err != nil {
		return err
	}

	if role != RoleOwner {
		err := s.client.From("project_members").
			Eq("project_id", projectID).
			Eq("user_id", userID).
			Delete(ctx)
		if err != nil {
			return errors.NewRemoteStoreError("leaving project", err)
		}
		s.log.Info("membership removed", "project_id", projectID, "user_id", userID)
		return nil
	}

	err = s.client.From("project_members").
		Eq("project_id", projectID).
		Delete(ctx)
	if err != nil {
		return errors.NewRemoteStoreError("removing memberships", err)
	}
	err = s.client.From("projects").
		Eq("id", projectID).
		Delete(ctx)
	if err != nil {
		return errors.NewRemoteStoreError("deleting project", err)
	}
	s.log.Info("project deleted", "project_id", projectID, "owner_id", userID)
	return nil
}

// SearchContributors finds users whose username or email matches the
// query substring, for the invite flow.
func (s *Service) SearchContributors(ctx context.Context, query string) ([]Contributor, error) {
	pattern := "%" + query + "%"
	var users []Contributor
	err := s.client.From("users").
		Select("id, username, email, avatar_url").
		Or("username.ilike." + pattern + ",email.ilike." + pattern).
		Limit(10).
		Get(ctx, &users)
	if err != nil {
		return nil, errors.NewRemoteStoreError("searching users", err)
	}
	return users, nil
}

// Invite adds a user to a project. Only the owner may invite, and a user
// who is already a member is rejected before the insert.
func (s *Service) Invite(ctx context.Context, projectID, requesterID, inviteeID string) error {
	role, err := s.membershipRole(ctx, projectID, requesterID)
	if err != nil {
		return err
	}
	if role != RoleOwner {
		return errors.NewForbiddenError("OWNER_ONLY", "only the project owner can invite members")
	}

	var existing []Membership
	err = s.client.From("project_members").
		Select("project_id, user_id, role").
		Eq("project_id", projectID).
		Eq("user_id", inviteeID).
		Get(ctx, &existing)
	if err != nil {
		return errors.NewRemoteStoreError("checking existing membership", err)
	}
	if len(existing) > 0 {
		return errors.NewConflictError("ALREADY_MEMBER", "user is already a member")
	}

	row := Membership{ProjectID: projectID, UserID: inviteeID, Role: RoleMember}
	if err := s.client.From("project_members").Insert(ctx, row, nil); err != nil {
		return errors.NewRemoteStoreError("inviting member", err)
	}
	s.log.Info("member invited", "project_id", projectID, "user_id", inviteeID)
	return nil
}

// Members lists the project's roster joined with user display attributes.
func (s *Service) Members(ctx context.Context, projectID string) ([]Contributor, error) {
	var rows []struct {
		Role string      `json:"role"`
		User Contributor `json:"user"`
	}
	err := s.client.From("project_members").
		Select(`role, user:user_id (id, username, email, avatar_url)`).
		Eq("project_id", projectID).
		Get(ctx, &rows)
	if err != nil {
		return nil, errors.NewRemoteStoreError("listing members", err)
	}
	members := make([]Contributor, 0, len(rows))
	for _, row := range rows {
		members = append(members, row.User)
	}
	return members, nil
}
