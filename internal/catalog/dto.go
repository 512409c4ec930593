package catalog

type CategoryResponse struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type CategoriesResponse struct {
	Categories []CategoryResponse `json:"categories"`
}

type PermissionResponse struct {
	Code         string `json:"code"`
	CategoryCode string `json:"category_code"`
	Description  string `json:"description"`
	IsActive     bool   `json:"is_active"`
}

type PermissionsResponse struct {
	Permissions []PermissionResponse `json:"permissions"`
}

type RolePermissionsResponse struct {
	Role        string   `json:"role"`
	IsActive    bool     `json:"is_active"`
	Permissions []string `json:"permissions"`
}

func (c *Category) ToResponse() CategoryResponse {
	return CategoryResponse{
		Code:        string(c.Code),
		Name:        c.Name,
		Description: c.Description,
	}
}

func (p *Permission) ToResponse() PermissionResponse {
	return PermissionResponse{
		Code:         string(p.Code),
		CategoryCode: string(p.CategoryCode),
		Description:  p.Description,
		IsActive:     p.IsActive,
	}
}
