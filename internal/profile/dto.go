// AngelaMos | 2026
// dto.go

package profile

type CreateProfileRequest struct {
	ID       string `json:"id"        validate:"required,max=64"`
	Email    string `json:"email"     validate:"omitempty,email,max=255"`
	FullName string `json:"full_name" validate:"omitempty,max=200"`
}

type UpdateProfileRequest struct {
	FullName string `json:"full_name" validate:"required,min=1,max=200"`
}

type UpdateRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=member premium admin"`
}

type ListProfilesParams struct {
	Page     int
	PageSize int
	Search   string
	Role     Role
}

func (p *ListProfilesParams) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
}

func (p *ListProfilesParams) Offset() int {
	return (p.Page - 1) * p.PageSize
}

type RoleCount struct {
	Role  Role `db:"role"  json:"role"`
	Count int  `db:"count" json:"count"`
}
