package workflow

import "inkediin-backend/internal/model"

type edge struct {
	from model.Status
	to   model.Status
}

type rule struct {
	action string
	roles  []model.Role
}

// transitions is the complete set of legal status changes. Any pair missing
// from it is rejected.
var transitions = map[edge]rule{
	{model.StatusPending, model.StatusConfirmed}:   {action: "confirm", roles: []model.Role{model.RoleArtist}},
	{model.StatusPending, model.StatusRejected}:    {action: "reject", roles: []model.Role{model.RoleArtist}},
	{model.StatusPending, model.StatusCancelled}:   {action: "cancel", roles: []model.Role{model.RoleClient, model.RoleArtist}},
	{model.StatusConfirmed, model.StatusCancelled}: {action: "cancel", roles: []model.Role{model.RoleClient, model.RoleArtist}},
	{model.StatusConfirmed, model.StatusCompleted}: {action: "complete", roles: []model.Role{model.RoleArtist}},
}

// Allowed reports whether from -> to is a legal transition for role.
func Allowed(from, to model.Status, role model.Role) bool {
	r, ok := transitions[edge{from, to}]
	return ok && r.permits(role)
}

// Targets lists the statuses role may move a reservation to from from.
func Targets(from model.Status, role model.Role) []model.Status {
	var out []model.Status
	for _, to := range model.Statuses {
		if Allowed(from, to, role) {
			out = append(out, to)
		}
	}
	return out
}

func (r rule) permits(role model.Role) bool {
	for _, allowed := range r.roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// actsAs reports whether the actor is the party of r matching its role.
func actsAs(r *model.Reservation, actor model.Actor) bool {
	switch actor.Role {
	case model.RoleClient:
		return actor.ID != "" && r.ClientID == actor.ID
	case model.RoleArtist:
		return actor.ID != "" && r.ArtistID == actor.ID
	}
	return false
}
