package model

// RemoteIdentity is the authenticated GitHub account as reported by the API.
type RemoteIdentity struct {
	GitHubID  int64
	Login     string
	Name      string
	AvatarURL string
}

// DisplayName returns Name, falling back to Login when the account has no
// public name set.
func (i RemoteIdentity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.Login
}

// RemoteOwner describes who owns a remote repository: the authenticated user
// (Kind == OwnerUser) or a named organization (Kind == OwnerOrganization).
type RemoteOwner struct {
	Kind    OwnerKind
	OrgName string
}

// RemoteRepository is one entry of the remote snapshot.
type RemoteRepository struct {
	GitHubID int64
	Name     string
	Owner    RemoteOwner
}

// Snapshot is the full remote truth for one login: the identity plus every
// repository visible to it. It is a complete listing, not a delta.
type Snapshot struct {
	Identity     RemoteIdentity
	Repositories []RemoteRepository
}

// OrganizationNames returns the distinct organization names referenced by the
// snapshot, in first-seen order.
func (s Snapshot) OrganizationNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, r := range s.Repositories {
		if r.Owner.Kind != OwnerOrganization {
			continue
		}
		if _, ok := seen[r.Owner.OrgName]; ok {
			continue
		}
		seen[r.Owner.OrgName] = struct{}{}
		names = append(names, r.Owner.OrgName)
	}
	return names
}
