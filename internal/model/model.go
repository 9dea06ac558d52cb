package model

import "time"

// TokenSlot is the fixed key of the deployment-wide delegated OAuth session.
const TokenSlot = "default"

// TokenRecord is the persisted Microsoft Graph token pair for the deployment.
type TokenRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AccessToken is a bearer token ready to be sent to Graph.
type AccessToken struct {
	Value     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Tenant is a company ("empresa").
type Tenant struct {
	ID               string         `json:"id"`
	Nombre           string         `json:"nombre"`
	OneDriveFolderID string         `json:"oneDriveFolderId,omitempty"`
	Extra            map[string]any `json:"extra,omitempty"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// HasFolder reports whether file access is configured for the tenant.
func (t Tenant) HasFolder() bool {
	return t.OneDriveFolderID != ""
}

// Branch is a branch office ("sucursal") of a tenant.
type Branch struct {
	ID        string    `json:"id"`
	Nombre    string    `json:"nombre"`
	Empresa   string    `json:"empresa"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Measurement is one dated measurement ("medición") of a branch.
// ID is the normalized measurement date and Data the inbound payload verbatim.
type Measurement struct {
	ID         string         `json:"id"`
	EmpresaID  string         `json:"empresaId"`
	SucursalID string         `json:"sucursalId"`
	Data       map[string]any `json:"data"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Document flattens the measurement into the shape served to the dashboard:
// the original payload plus id and createdAt.
func (m Measurement) Document() map[string]any {
	doc := make(map[string]any, len(m.Data)+2)
	for k, v := range m.Data {
		doc[k] = v
	}
	doc["id"] = m.ID
	doc["createdAt"] = m.CreatedAt
	return doc
}

// Role of a dashboard user.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleCliente Role = "cliente"
)

// Session is the authenticated dashboard user extracted from the session JWT.
type Session struct {
	UserID    string `json:"id"`
	Role      Role   `json:"role"`
	EmpresaID string `json:"empresaId,omitempty"`
}

// IsAdmin reports whether the session carries the admin role.
func (s Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// CanView reports whether the session may read data of the given tenant.
func (s Session) CanView(empresaID string) bool {
	if s.IsAdmin() {
		return true
	}
	return s.Role == RoleCliente && s.EmpresaID != "" && s.EmpresaID == empresaID
}

// TenantSummary is one row of the dashboard overview.
type TenantSummary struct {
	EmpresaID    string `json:"empresaId"`
	Nombre       string `json:"nombre"`
	Sucursales   int    `json:"sucursales"`
	Mediciones   int    `json:"mediciones"`
	Archivos     *int   `json:"archivos,omitempty"`
	HasFolder    bool   `json:"hasFolder"`
	FolderStatus string `json:"folderStatus,omitempty"`
}
